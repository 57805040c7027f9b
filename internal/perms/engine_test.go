package perms

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parlor-forum/parlor/internal/groups"
	"github.com/parlor-forum/parlor/internal/identity"
	"github.com/parlor-forum/parlor/internal/platform/cache"
	"github.com/parlor-forum/parlor/internal/settings"
)

type stubSource struct {
	global      []Row
	profiles    map[int64][]Row
	modBoards   []int64
	modGroups   []int64
	globalCalls int
}

func (s *stubSource) GlobalRows(ctx context.Context, groupIDs []int64) ([]Row, error) {
	s.globalCalls++
	want := make(map[int64]struct{}, len(groupIDs))
	for _, g := range groupIDs {
		want[g] = struct{}{}
	}
	var out []Row
	for _, row := range s.global {
		if _, ok := want[row.GroupID]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubSource) ProfileRows(ctx context.Context, groupIDs []int64, profileID int64) ([]Row, error) {
	return s.profiles[profileID], nil
}

func (s *stubSource) ModeratedBoards(ctx context.Context, memberID int64, groupIDs []int64) ([]int64, error) {
	return s.modBoards, nil
}

func (s *stubSource) ModeratedGroups(ctx context.Context, memberID int64) ([]int64, error) {
	return s.modGroups, nil
}

type stubBans struct {
	restrictions []string
}

func (b *stubBans) Restrictions(ctx context.Context, id *identity.Identity, remoteIP string) ([]string, error) {
	return b.restrictions, nil
}

func member(groupIDs ...int64) *identity.Identity {
	return &identity.Identity{
		MemberID:    42,
		Name:        "tester",
		Groups:      groupIDs,
		Permissions: make(map[string]struct{}),
	}
}

func testEngine(t *testing.T, source GrantSource, store cache.Store, bans BanProvider) *Engine {
	t.Helper()
	return NewEngine(source, store, bans, nil, slog.New(slog.DiscardHandler))
}

func TestComputeDenyWins(t *testing.T) {
	source := &stubSource{global: []Row{
		{GroupID: 2, Permission: "post_new"},
		{GroupID: 2, Permission: "view_stats"},
		{GroupID: 5, Permission: "post_new", IsDeny: true},
	}}
	engine := testEngine(t, source, nil, nil)

	id := member(2, 5)
	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), id, nil, ""))

	require.False(t, id.HasPermission("post_new"), "deny from one group must beat a grant from another")
	require.True(t, id.HasPermission("view_stats"))
}

func TestComputeAdminSkipsGrantMerge(t *testing.T) {
	source := &stubSource{global: []Row{{GroupID: 2, Permission: "post_new"}}}
	engine := testEngine(t, source, nil, nil)

	id := member(groups.GroupAdmin)
	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), id, nil, ""))

	require.Zero(t, source.globalCalls, "admin computation must not touch grant rows")
	require.True(t, id.HasPermission("anything_at_all"))
}

func TestComputeBanBeatsAdmin(t *testing.T) {
	engine := testEngine(t, &stubSource{}, nil, &stubBans{restrictions: []string{"post_new"}})

	id := member(groups.GroupAdmin)
	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), id, nil, "10.0.0.1"))

	require.False(t, id.HasPermission("post_new"), "a ban restriction is denied even to admins")
	require.True(t, id.HasPermission("modify_any"))
}

func TestComputeFullPostingBanExpansion(t *testing.T) {
	source := &stubSource{global: []Row{
		{GroupID: 2, Permission: "post_new"},
		{GroupID: 2, Permission: "view_stats"},
	}}
	engine := testEngine(t, source, nil, &stubBans{restrictions: postingAdjacent})

	id := member(2)
	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), id, nil, ""))

	require.False(t, id.HasPermission("post_new"))
	require.False(t, id.HasPermission("post_reply_own"))
	require.True(t, id.HasPermission("view_stats"), "non-posting permissions survive a posting ban")
}

func TestComputeSyntheticPermissions(t *testing.T) {
	source := &stubSource{global: []Row{{GroupID: 2, Permission: PermProfileView}}}
	engine := testEngine(t, source, nil, nil)

	id := member(2)
	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), id, nil, ""))
	require.True(t, id.HasPermission(PermIsNotGuest))
	require.True(t, id.HasPermission(PermProfileViewAny), "viewing any profile follows from viewing profiles")

	guest := identity.Guest()
	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), guest, nil, ""))
	require.False(t, guest.HasPermission(PermIsNotGuest))
}

func TestComputeBoardScopeRequiresResolvedBoard(t *testing.T) {
	engine := testEngine(t, &stubSource{}, nil, nil)
	id := member(2)
	err := engine.Compute(context.Background(), settings.Defaults(), id, &BoardScope{BoardID: 7}, "")
	require.ErrorIs(t, err, ErrBoardNotLoaded)
}

func TestComputeBoardProfileMergesBothAccumulators(t *testing.T) {
	source := &stubSource{
		global: []Row{{GroupID: 2, Permission: "post_new"}},
		profiles: map[int64][]Row{
			9: {
				{GroupID: 2, Permission: "poll_post"},
				{GroupID: 2, Permission: "post_new", IsDeny: true},
			},
		},
	}
	engine := testEngine(t, source, nil, nil)

	id := member(2)
	scope := &BoardScope{BoardID: 7, ProfileID: 9}
	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), id, scope, ""))

	require.True(t, id.HasPermission("poll_post"))
	require.False(t, id.HasPermission("post_new"), "a board-scoped deny must override the global grant")
}

func TestComputeImmersivePersonaOverlayIsAdditive(t *testing.T) {
	source := &stubSource{global: []Row{
		{GroupID: 2, Permission: "post_new"},
		{GroupID: 14, Permission: "poll_post"},
	}}
	engine := testEngine(t, source, nil, nil)

	id := member(2)
	id.CharacterID = 77
	id.PersonaGroups = []int64{14}
	id.ImmersivePref = true

	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), id, nil, ""))
	require.True(t, id.HasPermission("post_new"), "account grants survive the persona overlay")
	require.True(t, id.HasPermission("poll_post"), "persona grants join the set in immersive mode")

	snap := settings.Defaults()
	snap.ImmersionForced = "off"
	fresh := member(2)
	fresh.PersonaGroups = []int64{14}
	fresh.ImmersivePref = true
	require.NoError(t, engine.Compute(context.Background(), snap, fresh, nil, ""))
	require.False(t, fresh.HasPermission("poll_post"), "forced-off immersion drops the persona overlay")
}

func TestComputeOutOfCharacterSuppression(t *testing.T) {
	source := &stubSource{
		global:   []Row{{GroupID: 2, Permission: "post_new"}, {GroupID: 2, Permission: "view_stats"}},
		profiles: map[int64][]Row{9: nil},
	}
	engine := testEngine(t, source, nil, nil)

	id := member(2)
	id.CharacterID = 77
	id.CharacterIsMain = true
	scope := &BoardScope{BoardID: 7, ProfileID: 9, InCharacter: true}

	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), id, scope, ""))
	require.False(t, id.HasPermission("post_new"), "the out-of-character main cannot post on an in-character board")
	require.True(t, id.HasPermission("view_stats"), "viewing survives the suppression")
}

func TestComputeCacheHitSkipsSource(t *testing.T) {
	source := &stubSource{global: []Row{{GroupID: 2, Permission: "post_new"}}}
	store := cache.NewMemoryStore()
	engine := testEngine(t, source, store, nil)

	snap := settings.Defaults()
	snap.CachingLevel = 2

	id := member(2)
	require.NoError(t, engine.Compute(context.Background(), snap, id, nil, ""))
	require.Equal(t, 1, source.globalCalls)

	again := member(2)
	require.NoError(t, engine.Compute(context.Background(), snap, again, nil, ""))
	require.Equal(t, 1, source.globalCalls, "second computation must be served from cache")
	require.True(t, again.HasPermission("post_new"))
}

func TestComputeWatermarkDistrustsCachedEntry(t *testing.T) {
	base := time.Unix(100000, 0)
	clock := base
	now := func() time.Time { return clock }

	source := &stubSource{global: []Row{{GroupID: 2, Permission: "post_new"}}}
	store := cache.NewMemoryStore()
	store.SetClock(now)
	engine := testEngine(t, source, store, nil)
	engine.now = now

	snap := settings.Defaults()
	snap.CachingLevel = 2

	require.NoError(t, engine.Compute(context.Background(), snap, member(2), nil, ""))
	require.Equal(t, 1, source.globalCalls)

	// An admin bumps the watermark five seconds later; the next lookup
	// five seconds after that must recompute even though the entry's
	// TTL is nowhere near elapsed.
	snap.SettingsUpdated = base.Add(5 * time.Second).Unix()
	clock = base.Add(10 * time.Second)

	require.NoError(t, engine.Compute(context.Background(), snap, member(2), nil, ""))
	require.Equal(t, 2, source.globalCalls, "watermark bump must invalidate the cached pair")
}

func TestComputeBoardEntryCachedSeparately(t *testing.T) {
	source := &stubSource{
		global:   []Row{{GroupID: 2, Permission: "post_new"}},
		profiles: map[int64][]Row{9: {{GroupID: 2, Permission: "post_new", IsDeny: true}}},
	}
	store := cache.NewMemoryStore()
	engine := testEngine(t, source, store, nil)

	snap := settings.Defaults()
	snap.CachingLevel = 2
	scope := &BoardScope{BoardID: 7, ProfileID: 9}

	require.NoError(t, engine.Compute(context.Background(), snap, member(2), scope, ""))

	// The board-scoped deny must not leak into the global entry.
	global := member(2)
	require.NoError(t, engine.Compute(context.Background(), snap, global, nil, ""))
	require.True(t, global.HasPermission("post_new"))

	scoped := member(2)
	require.NoError(t, engine.Compute(context.Background(), snap, scoped, scope, ""))
	require.False(t, scoped.HasPermission("post_new"))
}

func TestComputeModeratorGroupJoinsEvaluation(t *testing.T) {
	source := &stubSource{global: []Row{
		{GroupID: 2, Permission: "post_new"},
		{GroupID: groups.GroupBoardModerator, Permission: PermApprovePosts},
	}}
	engine := testEngine(t, source, nil, nil)

	id := member(2)
	id.IsMod = true
	require.NoError(t, engine.Compute(context.Background(), settings.Defaults(), id, nil, ""))
	require.True(t, id.HasPermission(PermApprovePosts), "moderators gain the synthetic group's grants")
}

func TestRefreshModCacheWatermarkGated(t *testing.T) {
	base := time.Unix(200000, 0)
	clock := base
	now := func() time.Time { return clock }

	source := &stubSource{modBoards: []int64{10, 11}}
	store := cache.NewMemoryStore()
	store.SetClock(now)
	engine := testEngine(t, source, store, nil)
	engine.now = now

	snap := settings.Defaults()
	id := member(2)
	require.NoError(t, engine.RefreshModCache(context.Background(), snap, id))
	require.Equal(t, []int64{10, 11}, id.ModCache.Boards)

	// A moderator assignment change bumps the watermark; the cached
	// entry must be recomputed on the next refresh.
	source.modBoards = []int64{10}
	snap.SettingsUpdated = base.Add(2 * time.Second).Unix()
	clock = base.Add(4 * time.Second)

	refreshed := member(2)
	require.NoError(t, engine.RefreshModCache(context.Background(), snap, refreshed))
	require.Equal(t, []int64{10}, refreshed.ModCache.Boards)
}

func TestWarmGroupSetPrimes(t *testing.T) {
	source := &stubSource{global: []Row{{GroupID: 5, Permission: "post_new"}}}
	store := cache.NewMemoryStore()
	engine := testEngine(t, source, store, nil)

	require.NoError(t, engine.WarmGroupSet(context.Background(), []int64{5}, false))
	require.Equal(t, 1, source.globalCalls)

	snap := settings.Defaults()
	snap.CachingLevel = 2
	id := member(5)
	require.NoError(t, engine.Compute(context.Background(), snap, id, nil, ""))
	require.Equal(t, 1, source.globalCalls, "warmed entry must satisfy the next computation")
	require.True(t, id.HasPermission("post_new"))
}
