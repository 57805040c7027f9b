package boards

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/parlor-forum/parlor/internal/platform/cache"
	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
)

const (
	chainNodeTTL  = 240 * time.Second
	chainArenaLen = 512
)

// nodeSource loads the ancestor slice of one board. Implemented by
// Repository.
type nodeSource interface {
	Node(ctx context.Context, id int64) (*node, error)
}

// chainBuilder memoizes the upward ancestor walk. Two tiers: an
// in-process LRU arena shared by sibling boards within one process, and
// the shared cache store per ancestor id, both watermark-gated through
// the caller-provided snapshot.
type chainBuilder struct {
	source nodeSource
	store  cache.Store
	arena  *lru.Cache[int64, arenaEntry]
	now    func() time.Time
}

type arenaEntry struct {
	node     node
	storedAt time.Time
}

func newChainBuilder(source nodeSource, store cache.Store) *chainBuilder {
	arena, _ := lru.New[int64, arenaEntry](chainArenaLen)
	return &chainBuilder{source: source, store: store, arena: arena, now: time.Now}
}

// walk returns the ancestor chain of the given board, root first, self
// last. Moderator assignments found on any ancestor are accumulated so
// the caller can propagate them onto every descendant.
func (b *chainBuilder) walk(ctx context.Context, snap settings.Snapshot, self node) ([]node, error) {
	chain := []node{self}
	current := self.ParentID
	for current > 0 {
		// Degenerate parent loops end the walk instead of hanging it.
		if len(chain) > 64 {
			return nil, fmt.Errorf("boards: parent chain too deep at board %d", self.ID)
		}
		n, err := b.lookup(ctx, snap, current)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, *n)
		current = n.ParentID
	}

	// Reverse to root-to-self order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (b *chainBuilder) lookup(ctx context.Context, snap settings.Snapshot, id int64) (*node, error) {
	if entry, ok := b.arena.Get(id); ok {
		if !settings.IsStale(entry.storedAt, chainNodeTTL, snap.SettingsUpdated, b.now()) {
			n := entry.node
			return &n, nil
		}
		b.arena.Remove(id)
	}

	key := fmt.Sprintf("board-node-%d", id)
	if b.store != nil {
		var n node
		storedAt, ok, err := b.store.Get(ctx, key, 0, &n)
		if err == nil && ok && !settings.IsStale(storedAt, chainNodeTTL, snap.SettingsUpdated, b.now()) {
			b.arena.Add(id, arenaEntry{node: n, storedAt: storedAt})
			return &n, nil
		}
	}

	n, err := b.source.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	now := b.now()
	b.arena.Add(id, arenaEntry{node: *n, storedAt: now})
	if b.store != nil {
		_ = b.store.Put(ctx, key, n, chainNodeTTL)
	}
	return n, nil
}
