package admin

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlor-forum/parlor/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for grant rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListGrants returns grant rows for a group, global plus board scoped.
func (r *Repository) ListGrants(ctx context.Context, groupID int64) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT group_id, permission, is_deny, 0 FROM permissions WHERE group_id = $1
		UNION ALL
		SELECT group_id, permission, is_deny, profile_id FROM board_permissions WHERE group_id = $1
		ORDER BY 4, 2`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.GroupID, &g.Permission, &g.IsDeny, &g.ProfileID); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// InsertGrant adds one grant row. Duplicate rows surface as
// ErrDuplicateGrant.
func (r *Repository) InsertGrant(ctx context.Context, g Grant) error {
	var err error
	if g.ProfileID == 0 {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO permissions (group_id, permission, is_deny)
			VALUES ($1, $2, $3)`, g.GroupID, g.Permission, g.IsDeny)
	} else {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO board_permissions (group_id, permission, is_deny, profile_id)
			VALUES ($1, $2, $3, $4)`, g.GroupID, g.Permission, g.IsDeny, g.ProfileID)
	}
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return ErrDuplicateGrant
		}
		return err
	}
	return nil
}

// DeleteGrant removes one grant row. Reports whether a row was removed.
func (r *Repository) DeleteGrant(ctx context.Context, g Grant) (bool, error) {
	if g.ProfileID == 0 {
		tag, err := r.pool.Exec(ctx, `
			DELETE FROM permissions
			WHERE group_id = $1 AND permission = $2 AND is_deny = $3`,
			g.GroupID, g.Permission, g.IsDeny)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM board_permissions
		WHERE group_id = $1 AND permission = $2 AND is_deny = $3 AND profile_id = $4`,
		g.GroupID, g.Permission, g.IsDeny, g.ProfileID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceGroupGrants atomically swaps the global grant set of a group.
func (r *Repository) ReplaceGroupGrants(ctx context.Context, groupID int64, grants []Grant) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM permissions WHERE group_id = $1`, groupID); err != nil {
			return err
		}
		for _, g := range grants {
			if g.ProfileID != 0 {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO permissions (group_id, permission, is_deny)
				VALUES ($1, $2, $3)`, groupID, g.Permission, g.IsDeny); err != nil {
				return err
			}
		}
		return nil
	})
}
