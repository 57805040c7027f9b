package boards

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlor-forum/parlor/internal/shared"
)

// node is the slice of a board row the ancestor walk needs: identity,
// parentage, visibility groups and locally assigned moderators.
type node struct {
	ID              int64   `json:"id"`
	ParentID        int64   `json:"parent_id"`
	Name            string  `json:"name"`
	AllowedGroups   []int64 `json:"allowed_groups"`
	DeniedGroups    []int64 `json:"denied_groups"`
	Moderators      []int64 `json:"moderators"`
	ModeratorGroups []int64 `json:"moderator_groups"`
}

// Repository provides PostgreSQL backed access to boards and topics.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Board loads the full board row with its category.
func (r *Repository) Board(ctx context.Context, id int64) (*Descriptor, error) {
	var d Descriptor
	err := r.pool.QueryRow(ctx, `
		SELECT b.id, b.name, b.category_id, c.name, b.parent_id, b.profile_id,
		       b.in_character, COALESCE(b.redirect_url, ''), b.visible_topics
		FROM boards b
		JOIN categories c ON c.id = b.category_id
		WHERE b.id = $1`, id).Scan(
		&d.ID, &d.Name, &d.CategoryID, &d.CategoryName, &d.ParentID, &d.ProfileID,
		&d.InCharacter, &d.RedirectURL, &d.VisibleTopics)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	self, err := r.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	d.AllowedGroups = self.AllowedGroups
	d.DeniedGroups = self.DeniedGroups
	d.Moderators = self.Moderators
	d.ModeratorGroups = self.ModeratorGroups
	return &d, nil
}

// Node loads the ancestor-walk slice of a board row.
func (r *Repository) Node(ctx context.Context, id int64) (*node, error) {
	var n node
	err := r.pool.QueryRow(ctx, `
		SELECT id, parent_id, name, allowed_groups, denied_groups
		FROM boards WHERE id = $1`, id).Scan(
		&n.ID, &n.ParentID, &n.Name, &n.AllowedGroups, &n.DeniedGroups)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT member_id FROM board_moderators WHERE board_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m int64
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		n.Moderators = append(n.Moderators, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groupRows, err := r.pool.Query(ctx, `
		SELECT group_id FROM board_moderator_groups WHERE board_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer groupRows.Close()
	for groupRows.Next() {
		var g int64
		if err := groupRows.Scan(&g); err != nil {
			return nil, err
		}
		n.ModeratorGroups = append(n.ModeratorGroups, g)
	}
	return &n, groupRows.Err()
}

// TopicBoard maps a topic id to its board id.
func (r *Repository) TopicBoard(ctx context.Context, topicID int64) (int64, error) {
	var boardID int64
	err := r.pool.QueryRow(ctx, `
		SELECT board_id FROM topics WHERE id = $1`, topicID).Scan(&boardID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return boardID, nil
}

// MessageTopic maps a message id to its topic and board.
func (r *Repository) MessageTopic(ctx context.Context, messageID int64) (topicID, boardID int64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT m.topic_id, t.board_id
		FROM messages m JOIN topics t ON t.id = m.topic_id
		WHERE m.id = $1`, messageID).Scan(&topicID, &boardID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, shared.ErrNotFound
		}
		return 0, 0, err
	}
	return topicID, boardID, nil
}

// CountUnapprovedUserTopics counts the member's own unapproved topics
// on a board. Targeted fallback query, not part of the main load.
func (r *Repository) CountUnapprovedUserTopics(ctx context.Context, boardID, memberID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM topics
		WHERE board_id = $1 AND started_by = $2 AND approved = false`,
		boardID, memberID).Scan(&count)
	return count, err
}
