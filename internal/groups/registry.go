package groups

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/parlor-forum/parlor/internal/platform/cache"
)

const (
	registryCacheKey = "group-registry"
	registryTTL      = 5 * time.Minute
)

// Registry loads membergroup definitions. Read-mostly: the full table is
// cached as one entry and refreshed on TTL expiry.
type Registry struct {
	pool  *pgxpool.Pool
	store cache.Store
	title cases.Caser
}

// NewRegistry constructs a Registry.
func NewRegistry(pool *pgxpool.Pool, store cache.Store) *Registry {
	return &Registry{
		pool:  pool,
		store: store,
		title: cases.Title(language.English, cases.NoLower),
	}
}

// All returns every defined group keyed by id.
func (r *Registry) All(ctx context.Context) (map[int64]Group, error) {
	var cached []Group
	if r.store != nil {
		if _, ok, err := r.store.Get(ctx, registryCacheKey, 0, &cached); err == nil && ok {
			return indexGroups(cached), nil
		}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, is_protected, is_character_group, requires_two_factor
		FROM membergroups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loaded []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.IsProtected, &g.IsCharacterGroup, &g.RequiresTwoFactor); err != nil {
			return nil, err
		}
		g.Name = r.normalizeName(g.Name)
		loaded = append(loaded, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if r.store != nil {
		_ = r.store.Put(ctx, registryCacheKey, loaded, registryTTL)
	}
	return indexGroups(loaded), nil
}

// Get returns a single group definition.
func (r *Registry) Get(ctx context.Context, id int64) (Group, bool, error) {
	all, err := r.All(ctx)
	if err != nil {
		return Group{}, false, err
	}
	g, ok := all[id]
	return g, ok, nil
}

// TwoFactorRequiredFor reports whether any group in ids is flagged as
// requiring a second factor. Used only when tfa_mode is per-group.
func (r *Registry) TwoFactorRequiredFor(ctx context.Context, ids []int64) (bool, error) {
	all, err := r.All(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if g, ok := all[id]; ok && g.RequiresTwoFactor {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the cached registry. Called after group edits.
func (r *Registry) Invalidate(ctx context.Context) {
	if r.store != nil {
		_ = r.store.Invalidate(ctx, registryCacheKey)
	}
}

func (r *Registry) normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}
	if name == strings.ToLower(name) {
		return r.title.String(name)
	}
	return name
}

func indexGroups(list []Group) map[int64]Group {
	byID := make(map[int64]Group, len(list))
	for _, g := range list {
		byID[g.ID] = g
	}
	return byID
}
