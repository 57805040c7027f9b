// Package cache provides the key/value store the resolution engine keeps
// its computed permission and board data in. Entries are advisory: a miss
// or stale hit always falls through to recomputation from postgres.
package cache

import (
	"context"
	"time"
)

// Store is a TTL'd key/value store shared across server processes.
//
// Get unmarshals the entry into dest and reports the time the entry was
// written. Entries older than maxAge are treated as misses even when
// their nominal TTL has not elapsed; maxAge <= 0 disables that check.
type Store interface {
	Get(ctx context.Context, key string, maxAge time.Duration, dest any) (storedAt time.Time, ok bool, err error)
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}
