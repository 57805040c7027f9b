package flood

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testGuard(t *testing.T, limit int64) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewGuard(client, limit, time.Minute, time.Minute), mr
}

func TestGuardBlocksAfterLimit(t *testing.T) {
	guard, _ := testGuard(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, guard.LogFailure(ctx, 42, "10.0.0.1"))
		blocked, err := guard.Blocked(ctx, 42, "10.0.0.1")
		require.NoError(t, err)
		require.False(t, blocked)
	}

	require.NoError(t, guard.LogFailure(ctx, 42, "10.0.0.1"))
	blocked, err := guard.Blocked(ctx, 42, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, blocked)
}

func TestGuardBlocksByIPAlone(t *testing.T) {
	guard, _ := testGuard(t, 2)
	ctx := context.Background()

	// Failures with no known member id still count against the IP.
	require.NoError(t, guard.LogFailure(ctx, 0, "10.0.0.9"))
	require.NoError(t, guard.LogFailure(ctx, 0, "10.0.0.9"))

	blocked, err := guard.Blocked(ctx, 0, "10.0.0.9")
	require.NoError(t, err)
	require.True(t, blocked)

	// A different IP is unaffected.
	blocked, err = guard.Blocked(ctx, 0, "10.0.0.10")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestGuardMemberLockFollowsAcrossIPs(t *testing.T) {
	guard, _ := testGuard(t, 2)
	ctx := context.Background()

	require.NoError(t, guard.LogFailure(ctx, 42, "10.0.0.1"))
	require.NoError(t, guard.LogFailure(ctx, 42, "10.0.0.2"))

	blocked, err := guard.Blocked(ctx, 42, "192.168.0.1")
	require.NoError(t, err)
	require.True(t, blocked, "the member lock applies regardless of source address")
}

func TestGuardLockExpires(t *testing.T) {
	guard, mr := testGuard(t, 1)
	ctx := context.Background()

	require.NoError(t, guard.LogFailure(ctx, 42, ""))
	blocked, err := guard.Blocked(ctx, 42, "")
	require.NoError(t, err)
	require.True(t, blocked)

	mr.FastForward(2 * time.Minute)

	blocked, err = guard.Blocked(ctx, 42, "")
	require.NoError(t, err)
	require.False(t, blocked)
}
