package settings

import (
	"context"
	"time"

	"github.com/parlor-forum/parlor/internal/platform/cache"
)

const snapshotCacheKey = "settings-snapshot"

// Source is the persistence surface behind the service. Implemented by
// Repository.
type Source interface {
	LoadAll(ctx context.Context) (map[string]string, error)
	BumpWatermark(ctx context.Context, at int64) error
}

// Service loads per-request settings snapshots and bumps the watermark.
type Service struct {
	repo  Source
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewService constructs a Service. ttl bounds how long a snapshot may be
// served from cache; keep it short, the watermark rides inside it.
func NewService(repo Source, store cache.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Service{repo: repo, store: store, ttl: ttl, now: time.Now}
}

// Snapshot returns the current settings snapshot, from cache when fresh.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if s.store != nil {
		if _, ok, err := s.store.Get(ctx, snapshotCacheKey, 0, &snap); err == nil && ok {
			return snap, nil
		}
	}
	values, err := s.repo.LoadAll(ctx)
	if err != nil {
		return Defaults(), err
	}
	snap = snapshotFromRows(values)
	if s.store != nil {
		_ = s.store.Put(ctx, snapshotCacheKey, snap, s.ttl)
	}
	return snap, nil
}

// Bump records an administrative change. Fire and forget: callers must
// not wait for propagation, every cache reader applies IsStale against
// the new watermark on its next snapshot load.
func (s *Service) Bump(ctx context.Context) error {
	if err := s.repo.BumpWatermark(ctx, s.now().Unix()); err != nil {
		return err
	}
	if s.store != nil {
		_ = s.store.Invalidate(ctx, snapshotCacheKey)
	}
	return nil
}
