package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlor-forum/parlor/internal/platform/cache"
	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
)

// Member is the account row the resolver validates credentials against.
type Member struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	PasswordHash     string  `json:"password_hash"`
	Salt             string  `json:"salt"`
	PrimaryGroup     int64   `json:"primary_group"`
	AdditionalGroups []int64 `json:"additional_groups"`
	Activated        int     `json:"activated"`
	TFASecret        string  `json:"tfa_secret"`
	CurrentCharacter int64   `json:"current_character"`
	ImmersivePref    bool    `json:"immersive_pref"`
	LastVisit        int64   `json:"last_visit"`
	UnreadWatermark  int64   `json:"unread_watermark"`
}

// Character is a posting persona attached to a member.
type Character struct {
	ID               int64   `json:"id"`
	MemberID         int64   `json:"member_id"`
	IsMain           bool    `json:"is_main"`
	MainGroup        int64   `json:"main_group"`
	AdditionalGroups []int64 `json:"additional_groups"`
}

const memberCacheTTL = 90 * time.Second

// Repository provides PostgreSQL backed access to members and personas.
type Repository struct {
	pool  *pgxpool.Pool
	store cache.Store
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, store cache.Store) *Repository {
	return &Repository{pool: pool, store: store}
}

// Member loads an account row. Cache-eligible by member id with a short
// TTL, but only when the caching level permits.
func (r *Repository) Member(ctx context.Context, snap settings.Snapshot, id int64) (*Member, error) {
	key := fmt.Sprintf("member-%d", id)
	useCache := r.store != nil && snap.CachingLevel >= 2
	if useCache {
		var m Member
		if _, ok, err := r.store.Get(ctx, key, 0, &m); err == nil && ok {
			return &m, nil
		}
	}

	var m Member
	var additional string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, password_hash, salt, primary_group, additional_groups,
		       activated, tfa_secret, current_character, immersive_pref,
		       last_visit, unread_watermark
		FROM members WHERE id = $1`, id).Scan(
		&m.ID, &m.Name, &m.PasswordHash, &m.Salt, &m.PrimaryGroup, &additional,
		&m.Activated, &m.TFASecret, &m.CurrentCharacter, &m.ImmersivePref,
		&m.LastVisit, &m.UnreadWatermark)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	m.AdditionalGroups = parseGroupList(additional)

	if useCache {
		_ = r.store.Put(ctx, key, m, memberCacheTTL)
	}
	return &m, nil
}

// MemberByName loads an account row for login. Never cached.
func (r *Repository) MemberByName(ctx context.Context, name string) (*Member, error) {
	var m Member
	var additional string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, password_hash, salt, primary_group, additional_groups,
		       activated, tfa_secret, current_character, immersive_pref,
		       last_visit, unread_watermark
		FROM members WHERE lower(name) = lower($1)`, name).Scan(
		&m.ID, &m.Name, &m.PasswordHash, &m.Salt, &m.PrimaryGroup, &additional,
		&m.Activated, &m.TFASecret, &m.CurrentCharacter, &m.ImmersivePref,
		&m.LastVisit, &m.UnreadWatermark)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	m.AdditionalGroups = parseGroupList(additional)
	return &m, nil
}

// Character loads a persona row.
func (r *Repository) Character(ctx context.Context, id int64) (*Character, error) {
	var c Character
	var additional string
	err := r.pool.QueryRow(ctx, `
		SELECT id, member_id, is_main, main_group, additional_groups
		FROM characters WHERE id = $1`, id).Scan(
		&c.ID, &c.MemberID, &c.IsMain, &c.MainGroup, &additional)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	c.AdditionalGroups = parseGroupList(additional)
	return &c, nil
}

// TouchLastVisit records last-visit bookkeeping for a member.
func (r *Repository) TouchLastVisit(ctx context.Context, memberID, at int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE members SET last_visit = $2, unread_watermark = $2 WHERE id = $1`,
		memberID, at)
	return err
}

// RobotSignatures loads the crawler signature set.
func (r *Repository) RobotSignatures(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT signature FROM robot_signatures`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sigs []string
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

// parseGroupList coerces a comma-separated group list to deduplicated
// integers. Junk entries are dropped, not surfaced.
func parseGroupList(raw string) []int64 {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := make(map[int64]struct{}, len(parts))
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
