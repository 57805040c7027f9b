package settings

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed access to the settings table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadAll reads every settings row into a key/value map.
func (r *Repository) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

// BumpWatermark upserts settings_updated with the given unix timestamp.
func (r *Repository) BumpWatermark(ctx context.Context, at int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ('settings_updated', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		strconv.FormatInt(at, 10))
	return err
}

func snapshotFromRows(values map[string]string) Snapshot {
	snap := Defaults()
	if v, ok := values["settings_updated"]; ok {
		snap.SettingsUpdated, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := values["caching_level"]; ok {
		snap.CachingLevel, _ = strconv.Atoi(v)
	}
	if v, ok := values["check_user_agent"]; ok {
		snap.CheckUserAgent = v == "1" || v == "true"
	}
	if v, ok := values["tfa_mode"]; ok {
		snap.TFAMode, _ = strconv.Atoi(v)
	}
	if v, ok := values["post_moderation"]; ok {
		snap.PostModeration = v == "1" || v == "true"
	}
	if v, ok := values["immersion_forced"]; ok {
		snap.ImmersionForced = v
	}
	if v, ok := values["last_visit_staleness_hours"]; ok {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			snap.LastVisitStaleness = time.Duration(hours) * time.Hour
		}
	}
	if v, ok := values["cookie_name"]; ok && v != "" {
		snap.CookieName = v
	}
	if v, ok := values["cookie_domain"]; ok {
		snap.CookieDomain = v
	}
	if v, ok := values["cookie_path"]; ok && v != "" {
		snap.CookiePath = v
	}
	return snap
}
