// Package flood keeps failed-login counters in Redis and blocks
// repeated offenders for a lockout window.
package flood

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard counts login failures per member id and per remote IP.
type Guard struct {
	client  *redis.Client
	limit   int64
	window  time.Duration
	lockout time.Duration
}

// NewGuard constructs a Guard. Zero values fall back to 5 failures per
// 10 minutes with a 15 minute lockout.
func NewGuard(client *redis.Client, limit int64, window, lockout time.Duration) *Guard {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	if lockout <= 0 {
		lockout = 15 * time.Minute
	}
	return &Guard{client: client, limit: limit, window: window, lockout: lockout}
}

// LogFailure records one failed attempt keyed by whichever identity
// information is available. Crossing the limit arms the lockout.
func (g *Guard) LogFailure(ctx context.Context, memberID int64, ip string) error {
	for _, key := range g.keys(memberID, ip) {
		count, err := g.client.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("flood: incr %s: %w", key, err)
		}
		if count == 1 {
			if err := g.client.Expire(ctx, key, g.window).Err(); err != nil {
				return fmt.Errorf("flood: expire %s: %w", key, err)
			}
		}
		if count >= g.limit {
			if err := g.client.Set(ctx, key+":lock", "1", g.lockout).Err(); err != nil {
				return fmt.Errorf("flood: lock %s: %w", key, err)
			}
		}
	}
	return nil
}

// Blocked reports whether further attempts from this member or IP are
// currently locked out.
func (g *Guard) Blocked(ctx context.Context, memberID int64, ip string) (bool, error) {
	for _, key := range g.keys(memberID, ip) {
		n, err := g.client.Exists(ctx, key+":lock").Result()
		if err != nil {
			return false, fmt.Errorf("flood: exists %s: %w", key, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (g *Guard) keys(memberID int64, ip string) []string {
	var keys []string
	if memberID > 0 {
		keys = append(keys, fmt.Sprintf("flood:member:%d", memberID))
	}
	if ip != "" {
		keys = append(keys, "flood:ip:"+ip)
	}
	return keys
}
