package perms

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed access to grant rows and
// moderator assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GlobalRows returns grant rows for the group set with no board filter.
func (r *Repository) GlobalRows(ctx context.Context, groupIDs []int64) ([]Row, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT group_id, permission, is_deny
		FROM permissions
		WHERE group_id = ANY($1)`, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.GroupID, &row.Permission, &row.IsDeny); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ProfileRows returns grant rows scoped to a board permission profile.
func (r *Repository) ProfileRows(ctx context.Context, groupIDs []int64, profileID int64) ([]Row, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT group_id, permission, is_deny
		FROM board_permissions
		WHERE group_id = ANY($1) AND profile_id = $2`, groupIDs, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.GroupID, &row.Permission, &row.IsDeny); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ModeratedBoards returns board ids the member moderates, directly or
// through a moderator group.
func (r *Repository) ModeratedBoards(ctx context.Context, memberID int64, groupIDs []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT board_id FROM board_moderators WHERE member_id = $1
		UNION
		SELECT board_id FROM board_moderator_groups WHERE group_id = ANY($2)`,
		memberID, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ModeratedGroups returns group ids the member is a group moderator of.
func (r *Repository) ModeratedGroups(ctx context.Context, memberID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT group_id FROM group_moderators WHERE member_id = $1`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
