package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// envelope wraps every stored value with its write time so callers can
// apply staleness rules the TTL alone cannot express.
type envelope struct {
	At    int64           `json:"at"`
	Value json.RawMessage `json:"v"`
}

// RedisStore implements Store on top of a Redis client.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps client as a Store. All keys are prefixed so several
// deployments can share one Redis instance.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

// Get fetches and unmarshals an entry. Malformed entries are discarded
// and reported as misses rather than surfaced as errors.
func (s *RedisStore) Get(ctx context.Context, key string, maxAge time.Duration, dest any) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("platform/cache: get %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		_ = s.client.Del(ctx, s.key(key)).Err()
		return time.Time{}, false, nil
	}
	storedAt := time.Unix(env.At, 0)
	if maxAge > 0 && s.now().Sub(storedAt) > maxAge {
		return time.Time{}, false, nil
	}
	if dest != nil {
		if err := json.Unmarshal(env.Value, dest); err != nil {
			return time.Time{}, false, nil
		}
	}
	return storedAt, true, nil
}

// Put stores value under key for ttl.
func (s *RedisStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("platform/cache: marshal %s: %w", key, err)
	}
	env, err := json.Marshal(envelope{At: s.now().Unix(), Value: data})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), env, ttl).Err(); err != nil {
		return fmt.Errorf("platform/cache: put %s: %w", key, err)
	}
	return nil
}

// Invalidate removes an entry. Removing an absent key is not an error.
func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("platform/cache: invalidate %s: %w", key, err)
	}
	return nil
}
