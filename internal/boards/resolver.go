package boards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parlor-forum/parlor/internal/identity"
	"github.com/parlor-forum/parlor/internal/observability"
	"github.com/parlor-forum/parlor/internal/perms"
	"github.com/parlor-forum/parlor/internal/platform/cache"
	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
)

const boardCacheTTL = 240 * time.Second

// Source loads board, topic and message rows. Implemented by
// Repository; tests substitute a map-backed stub.
type Source interface {
	nodeSource
	Board(ctx context.Context, id int64) (*Descriptor, error)
	TopicBoard(ctx context.Context, topicID int64) (int64, error)
	MessageTopic(ctx context.Context, messageID int64) (topicID, boardID int64, err error)
	CountUnapprovedUserTopics(ctx context.Context, boardID, memberID int64) (int64, error)
}

// cachedBoard is the shared-cache entry: the descriptor plus the raw
// ancestor chain, so per-identity fields (link-tree visibility,
// moderator status) can be recomputed on every hit.
type cachedBoard struct {
	Descriptor Descriptor `json:"descriptor"`
	Chain      []node     `json:"chain"`
}

// Resolver loads board descriptors and applies the access decision.
type Resolver struct {
	source  Source
	store   cache.Store
	chain   *chainBuilder
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewResolver constructs a Resolver. metrics may be nil.
func NewResolver(source Source, store cache.Store, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{
		source:  source,
		store:   store,
		chain:   newChainBuilder(source, store),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve loads the referenced board and decides access for id. On
// denial or a missing board the descriptor carries an error flag
// instead of an error return, so the caller can still load permissions
// and theme before rendering the error page. Moderator status is
// written to id; any permission computation after this call sees the
// synthetic moderator group.
func (r *Resolver) Resolve(ctx context.Context, snap settings.Snapshot, ref Ref, id *identity.Identity) (*Resolution, error) {
	if ref.BoardID == 0 && ref.TopicID == 0 && ref.MessageID != 0 {
		return r.resolveByMessage(ctx, snap, ref.MessageID)
	}
	if ref.BoardID == 0 && ref.TopicID == 0 {
		// Board-index level pages resolve to an empty descriptor.
		return &Resolution{Descriptor: &Descriptor{}}, nil
	}

	boardID := ref.BoardID
	if ref.TopicID != 0 {
		resolved, ok, err := r.topicBoard(ctx, snap, ref.TopicID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Resolution{Descriptor: &Descriptor{Err: AccessGone}}, nil
		}
		boardID = resolved
	}

	entry, ok, err := r.loadBoard(ctx, snap, boardID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Resolution{Descriptor: &Descriptor{Err: AccessGone}}, nil
	}

	desc := entry.Descriptor
	immersive := id.ImmersiveActive(snap.ImmersionForced)
	eff := id.EffectiveGroups(immersive)

	desc.ParentChain = r.linkTree(entry.Chain, eff, id.IsAdmin())

	canSee := intersects(eff, desc.AllowedGroups) || id.IsAdmin()
	denied := intersects(eff, desc.DeniedGroups) && !id.IsAdmin()
	if !canSee || denied {
		desc.Err = AccessDenied
	}

	// Moderator status is derived from the resolved descriptor alone,
	// never from client input.
	if contains(desc.Moderators, id.MemberID) || intersects(eff, desc.ModeratorGroups) {
		id.IsMod = true
	}

	if desc.Err == AccessOK && desc.RedirectURL != "" && ref.Intent == IntentPost {
		desc.Err = AccessRedirectPosting
	}

	return &Resolution{Descriptor: &desc}, nil
}

// Scope converts an accessible descriptor into the permission engine's
// board scope.
func Scope(d *Descriptor) *perms.BoardScope {
	if d == nil || d.ID == 0 {
		return nil
	}
	return &perms.BoardScope{BoardID: d.ID, ProfileID: d.ProfileID, InCharacter: d.InCharacter}
}

// UnapprovedFallback fills Descriptor.UnapprovedUserTopics. Only
// queried when the board shows nothing, post-moderation is on, and the
// identity cannot approve posts; callers invoke it after permissions
// are computed.
func (r *Resolver) UnapprovedFallback(ctx context.Context, snap settings.Snapshot, desc *Descriptor, id *identity.Identity) error {
	if desc.VisibleTopics > 0 || !snap.PostModeration || id.IsGuest() {
		return nil
	}
	if id.HasPermission(perms.PermApprovePosts) {
		return nil
	}
	count, err := r.source.CountUnapprovedUserTopics(ctx, desc.ID, id.MemberID)
	if err != nil {
		return fmt.Errorf("boards: unapproved fallback: %w", err)
	}
	desc.UnapprovedUserTopics = count
	return nil
}

func (r *Resolver) resolveByMessage(ctx context.Context, snap settings.Snapshot, messageID int64) (*Resolution, error) {
	key := fmt.Sprintf("msg-topic-%d", messageID)
	if r.store != nil && snap.CachingLevel >= 3 {
		var ids [2]int64
		if _, ok, err := r.store.Get(ctx, key, 0, &ids); err == nil && ok {
			r.metrics.CacheLookup("topic", "hit")
			return &Resolution{RedirectURL: canonicalTopicURL(ids[0], messageID)}, nil
		}
		r.metrics.CacheLookup("topic", "miss")
	}

	topicID, boardID, err := r.source.MessageTopic(ctx, messageID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return &Resolution{Descriptor: &Descriptor{Err: AccessGone}}, nil
		}
		return nil, err
	}
	if r.store != nil && snap.CachingLevel >= 3 {
		_ = r.store.Put(ctx, key, [2]int64{topicID, boardID}, boardCacheTTL)
	}
	return &Resolution{RedirectURL: canonicalTopicURL(topicID, messageID)}, nil
}

func (r *Resolver) topicBoard(ctx context.Context, snap settings.Snapshot, topicID int64) (int64, bool, error) {
	key := fmt.Sprintf("topic-board-%d", topicID)
	if r.store != nil && snap.CachingLevel >= 3 {
		var boardID int64
		storedAt, ok, err := r.store.Get(ctx, key, 0, &boardID)
		if err == nil && ok && !settings.IsStale(storedAt, boardCacheTTL, snap.SettingsUpdated, r.now()) {
			r.metrics.CacheLookup("topic", "hit")
			return boardID, true, nil
		}
		r.metrics.CacheLookup("topic", "miss")
	}

	boardID, err := r.source.TopicBoard(ctx, topicID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if r.store != nil && snap.CachingLevel >= 3 {
		_ = r.store.Put(ctx, key, boardID, boardCacheTTL)
	}
	return boardID, true, nil
}

// loadBoard returns the descriptor plus chain, from cache when fresh.
func (r *Resolver) loadBoard(ctx context.Context, snap settings.Snapshot, boardID int64) (*cachedBoard, bool, error) {
	key := fmt.Sprintf("board-%d", boardID)
	if r.store != nil {
		var entry cachedBoard
		storedAt, ok, err := r.store.Get(ctx, key, 0, &entry)
		if err == nil && ok && !settings.IsStale(storedAt, boardCacheTTL, snap.SettingsUpdated, r.now()) {
			r.metrics.CacheLookup("board", "hit")
			// Adopt the cached descriptor's id as the resolved board.
			return &entry, true, nil
		}
		r.metrics.CacheLookup("board", "miss")
	}

	desc, err := r.source.Board(ctx, boardID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	self := node{
		ID:              desc.ID,
		ParentID:        desc.ParentID,
		Name:            desc.Name,
		AllowedGroups:   desc.AllowedGroups,
		DeniedGroups:    desc.DeniedGroups,
		Moderators:      desc.Moderators,
		ModeratorGroups: desc.ModeratorGroups,
	}
	chain, err := r.chain.walk(ctx, snap, self)
	if err != nil {
		return nil, false, err
	}

	// A moderator assignment on any ancestor propagates to every
	// descendant, including the requested board. Pre-computed here,
	// never re-derived per request.
	desc.Moderators = unionInts(chain, func(n node) []int64 { return n.Moderators })
	desc.ModeratorGroups = unionInts(chain, func(n node) []int64 { return n.ModeratorGroups })

	entry := &cachedBoard{Descriptor: *desc, Chain: chain}
	if r.store != nil {
		_ = r.store.Put(ctx, key, entry, boardCacheTTL)
	}
	return entry, true, nil
}

// linkTree builds the ancestor breadcrumb. A board the identity cannot
// see keeps a placeholder name and no link; the real descriptor is
// never emitted with access merely disabled.
func (r *Resolver) linkTree(chain []node, effectiveGroups []int64, isAdmin bool) []Summary {
	out := make([]Summary, 0, len(chain))
	for _, n := range chain {
		visible := isAdmin ||
			(intersects(effectiveGroups, n.AllowedGroups) && !intersects(effectiveGroups, n.DeniedGroups))
		if visible {
			out = append(out, Summary{ID: n.ID, Name: n.Name, Linkable: true})
			continue
		}
		out = append(out, Summary{ID: n.ID, Name: hiddenBoardName, Linkable: false})
	}
	return out
}

func canonicalTopicURL(topicID, messageID int64) string {
	return fmt.Sprintf("/topics/%d#msg%d", topicID, messageID)
}

func unionInts(chain []node, pick func(node) []int64) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, n := range chain {
		for _, v := range pick(n) {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
