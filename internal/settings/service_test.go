package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parlor-forum/parlor/internal/platform/cache"
)

type stubSource struct {
	rows      map[string]string
	loads     int
	watermark int64
}

func (s *stubSource) LoadAll(ctx context.Context) (map[string]string, error) {
	s.loads++
	return s.rows, nil
}

func (s *stubSource) BumpWatermark(ctx context.Context, at int64) error {
	s.watermark = at
	return nil
}

func TestSnapshotParsesRows(t *testing.T) {
	src := &stubSource{rows: map[string]string{
		"settings_updated":           "1700000000",
		"caching_level":              "2",
		"check_user_agent":           "0",
		"tfa_mode":                   "1",
		"immersion_forced":           "on",
		"last_visit_staleness_hours": "12",
		"cookie_name":                "parlor_session_v2",
	}}
	svc := NewService(src, nil, 0)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), snap.SettingsUpdated)
	require.Equal(t, 2, snap.CachingLevel)
	require.False(t, snap.CheckUserAgent)
	require.Equal(t, TFAModeEveryone, snap.TFAMode)
	require.Equal(t, "on", snap.ImmersionForced)
	require.Equal(t, 12*time.Hour, snap.LastVisitStaleness)
	require.Equal(t, "parlor_session_v2", snap.CookieName)
	require.Equal(t, "/", snap.CookiePath, "unset keys keep their defaults")
}

func TestSnapshotServedFromCacheUntilTTL(t *testing.T) {
	src := &stubSource{rows: map[string]string{"caching_level": "2"}}
	store := cache.NewMemoryStore()
	svc := NewService(src, store, time.Minute)

	first, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	second, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, src.loads, "second snapshot comes from cache")
}

func TestBumpInvalidatesCachedSnapshot(t *testing.T) {
	src := &stubSource{rows: map[string]string{"caching_level": "1"}}
	store := cache.NewMemoryStore()
	svc := NewService(src, store, time.Minute)
	svc.now = func() time.Time { return time.Unix(1_700_000_100, 0) }

	_, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.Bump(context.Background()))
	require.Equal(t, int64(1_700_000_100), src.watermark)

	src.rows["caching_level"] = "2"
	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, snap.CachingLevel, "bump drops the cached snapshot")
	require.Equal(t, 2, src.loads)
}
