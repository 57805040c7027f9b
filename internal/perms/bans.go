package perms

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlor-forum/parlor/internal/identity"
)

// BanProvider yields ban-derived permission removals for an identity.
// Applied after the grant merge; a restriction from here can never be
// granted back by any group.
type BanProvider interface {
	Restrictions(ctx context.Context, id *identity.Identity, remoteIP string) ([]string, error)
}

// BanRepository implements BanProvider against the ban tables. A ban
// row either names a member id or an IP, and carries the capability it
// withdraws ("" meaning a full posting ban expanded to the posting
// permissions).
type BanRepository struct {
	pool *pgxpool.Pool
}

// NewBanRepository constructs a BanRepository.
func NewBanRepository(pool *pgxpool.Pool) *BanRepository {
	return &BanRepository{pool: pool}
}

// Restrictions returns the permission names withdrawn from this
// identity by active bans.
func (r *BanRepository) Restrictions(ctx context.Context, id *identity.Identity, remoteIP string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT restriction FROM bans
		WHERE expires > extract(epoch from now())
		  AND (member_id = $1 OR ip = $2)`,
		id.MemberID, remoteIP)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var restriction string
		if err := rows.Scan(&restriction); err != nil {
			return nil, err
		}
		if restriction == "" {
			out = append(out, postingAdjacent...)
			continue
		}
		out = append(out, restriction)
	}
	return out, rows.Err()
}
