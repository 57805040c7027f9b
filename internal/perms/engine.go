package perms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parlor-forum/parlor/internal/identity"
	"github.com/parlor-forum/parlor/internal/observability"
	"github.com/parlor-forum/parlor/internal/platform/cache"
	"github.com/parlor-forum/parlor/internal/settings"
)

// permCacheTTL doubles as the watermark grace window: any
// administrative change inside the trailing TTL distrusts every entry.
const permCacheTTL = 240 * time.Second

// GrantSource yields grant rows and moderator assignments. Implemented
// by Repository; tests substitute a map-backed stub.
type GrantSource interface {
	GlobalRows(ctx context.Context, groupIDs []int64) ([]Row, error)
	ProfileRows(ctx context.Context, groupIDs []int64, profileID int64) ([]Row, error)
	ModeratedBoards(ctx context.Context, memberID int64, groupIDs []int64) ([]int64, error)
	ModeratedGroups(ctx context.Context, memberID int64) ([]int64, error)
}

// Engine computes effective permission sets.
type Engine struct {
	source  GrantSource
	store   cache.Store
	bans    BanProvider
	metrics *observability.Metrics
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewEngine constructs an Engine. bans and metrics may be nil.
func NewEngine(source GrantSource, store cache.Store, bans BanProvider, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		source:  source,
		store:   store,
		bans:    bans,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Compute populates id.Permissions (and id.Restricted) for the given
// scope. scope nil means global; a non-nil scope whose profile id is
// zero means the board was never resolved, which is a caller ordering
// bug and a hard failure.
//
// The computed value is a pure function of the current grant rows, so
// concurrent recomputes of the same key are safe; last writer wins.
func (e *Engine) Compute(ctx context.Context, snap settings.Snapshot, id *identity.Identity, scope *BoardScope, remoteIP string) error {
	if scope != nil && scope.ProfileID == 0 {
		return ErrBoardNotLoaded
	}

	// Admins implicitly hold every permission: skip the grant merge
	// entirely and go straight to the ban merge.
	if id.IsAdmin() {
		id.Permissions = make(map[string]struct{})
		if err := e.mergeBans(ctx, id, remoteIP); err != nil {
			return err
		}
		e.addSynthetic(id)
		return e.RefreshModCache(ctx, snap, id)
	}

	groupSet := id.EffectiveGroups(id.ImmersiveActive(snap.ImmersionForced))

	pair, err := e.loadPair(ctx, snap, groupSet, id.PossiblyRobot, scope)
	if err != nil {
		return err
	}

	effective := make(map[string]struct{}, len(pair.Grants))
	for _, p := range pair.Grants {
		effective[p] = struct{}{}
	}
	// Deny always wins, no matter which group or scope contributed it.
	for _, p := range pair.Removals {
		delete(effective, p)
	}

	// A main (out-of-character) persona cannot act on an in-character
	// board: strip the posting set even when groups would grant it.
	if scope != nil && scope.InCharacter && id.CharacterIsMain {
		for _, p := range postingAdjacent {
			delete(effective, p)
		}
	}

	id.Permissions = effective
	if err := e.mergeBans(ctx, id, remoteIP); err != nil {
		return err
	}
	e.addSynthetic(id)

	return e.RefreshModCache(ctx, snap, id)
}

// loadPair returns the grants/removals pair for the group set, board
// scoped when requested. Board entries and global entries are cached
// under distinct keys; both are subject to the watermark gate.
func (e *Engine) loadPair(ctx context.Context, snap settings.Snapshot, groupSet []int64, robot bool, scope *BoardScope) (Pair, error) {
	if scope != nil && snap.CachingLevel >= 2 {
		boardKey := CacheKey(groupSet, robot, scope.BoardID)
		if pair, ok := e.cachedPair(ctx, snap, "perm-board", boardKey); ok {
			return pair, nil
		}
	}

	globalKey := CacheKey(groupSet, robot, 0)
	pair, ok := e.cachedPair(ctx, snap, "perm-global", globalKey)
	if !ok {
		v, err, _ := e.group.Do(globalKey, func() (any, error) {
			rows, err := e.source.GlobalRows(ctx, groupSet)
			if err != nil {
				return Pair{}, err
			}
			p := partition(rows)
			if e.store != nil {
				_ = e.store.Put(ctx, globalKey, p, permCacheTTL)
			}
			return p, nil
		})
		if err != nil {
			return Pair{}, fmt.Errorf("perms: global rows: %w", err)
		}
		pair = v.(Pair)
	}

	if scope == nil {
		return pair, nil
	}

	// Merge profile-scoped rows into the same accumulators. The merged
	// pair gets its own cache entry; the global entry is never
	// overwritten with board-scoped data.
	rows, err := e.source.ProfileRows(ctx, groupSet, scope.ProfileID)
	if err != nil {
		return Pair{}, fmt.Errorf("perms: profile rows: %w", err)
	}
	scoped := partition(rows)
	merged := Pair{
		Grants:   append(append([]string(nil), pair.Grants...), scoped.Grants...),
		Removals: append(append([]string(nil), pair.Removals...), scoped.Removals...),
	}
	if e.store != nil && snap.CachingLevel >= 2 {
		boardKey := CacheKey(groupSet, robot, scope.BoardID)
		_ = e.store.Put(ctx, boardKey, merged, permCacheTTL)
	}
	return merged, nil
}

// cachedPair attempts a watermark-gated cache read.
func (e *Engine) cachedPair(ctx context.Context, snap settings.Snapshot, kind, key string) (Pair, bool) {
	if e.store == nil {
		return Pair{}, false
	}
	var pair Pair
	storedAt, ok, err := e.store.Get(ctx, key, 0, &pair)
	if err != nil || !ok {
		e.metrics.CacheLookup(kind, "miss")
		return Pair{}, false
	}
	if settings.IsStale(storedAt, permCacheTTL, snap.SettingsUpdated, e.now()) {
		e.metrics.CacheLookup(kind, "stale")
		return Pair{}, false
	}
	e.metrics.CacheLookup(kind, "hit")
	return pair, true
}

// mergeBans applies ban-derived restrictions: removed from the
// effective set and recorded so nothing grants them back.
func (e *Engine) mergeBans(ctx context.Context, id *identity.Identity, remoteIP string) error {
	id.Restricted = make(map[string]struct{})
	if e.bans == nil {
		return nil
	}
	restrictions, err := e.bans.Restrictions(ctx, id, remoteIP)
	if err != nil {
		return fmt.Errorf("perms: ban restrictions: %w", err)
	}
	for _, p := range restrictions {
		id.Restricted[p] = struct{}{}
		delete(id.Permissions, p)
	}
	return nil
}

// addSynthetic injects the always-true permissions non-guests hold.
// Added after every cache hit or miss, never stored in a cache entry.
func (e *Engine) addSynthetic(id *identity.Identity) {
	if id.IsGuest() {
		return
	}
	id.Permissions[PermIsNotGuest] = struct{}{}
	if _, ok := id.Permissions[PermProfileView]; ok {
		id.Permissions[PermProfileViewAny] = struct{}{}
	}
}

// RefreshModCache populates id.ModCache, watermark-gated like the
// permission entries. Must run before the identity is used for
// moderation decisions.
func (e *Engine) RefreshModCache(ctx context.Context, snap settings.Snapshot, id *identity.Identity) error {
	if id.IsGuest() {
		id.ModCache = &identity.ModCache{ComputedAt: e.now().Unix()}
		return nil
	}

	key := fmt.Sprintf("modcache-%d", id.MemberID)
	if e.store != nil {
		var cached identity.ModCache
		storedAt, ok, err := e.store.Get(ctx, key, 0, &cached)
		if err == nil && ok && !settings.IsStale(storedAt, permCacheTTL, snap.SettingsUpdated, e.now()) {
			e.metrics.CacheLookup("modcache", "hit")
			id.ModCache = &cached
			return nil
		}
		e.metrics.CacheLookup("modcache", "miss")
	}

	boards, err := e.source.ModeratedBoards(ctx, id.MemberID, id.Groups)
	if err != nil {
		return fmt.Errorf("perms: moderated boards: %w", err)
	}
	moderated, err := e.source.ModeratedGroups(ctx, id.MemberID)
	if err != nil {
		return fmt.Errorf("perms: moderated groups: %w", err)
	}
	mc := &identity.ModCache{Boards: boards, Groups: moderated, ComputedAt: e.now().Unix()}
	if e.store != nil {
		_ = e.store.Put(ctx, key, mc, permCacheTTL)
	}
	id.ModCache = mc
	return nil
}

// WarmGroupSet recomputes and stores the global pair for a group set,
// bypassing the cache read. Used by the background warmup job after a
// grant edit.
func (e *Engine) WarmGroupSet(ctx context.Context, groupSet []int64, robot bool) error {
	rows, err := e.source.GlobalRows(ctx, groupSet)
	if err != nil {
		return fmt.Errorf("perms: warmup rows: %w", err)
	}
	if e.store == nil {
		return nil
	}
	return e.store.Put(ctx, CacheKey(groupSet, robot, 0), partition(rows), permCacheTTL)
}

func partition(rows []Row) Pair {
	var p Pair
	seenGrant := make(map[string]struct{}, len(rows))
	seenDeny := make(map[string]struct{})
	for _, row := range rows {
		if row.IsDeny {
			if _, dup := seenDeny[row.Permission]; !dup {
				seenDeny[row.Permission] = struct{}{}
				p.Removals = append(p.Removals, row.Permission)
			}
			continue
		}
		if _, dup := seenGrant[row.Permission]; !dup {
			seenGrant[row.Permission] = struct{}{}
			p.Grants = append(p.Grants, row.Permission)
		}
	}
	return p
}
