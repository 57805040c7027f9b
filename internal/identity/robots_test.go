package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRobotMatcherDefaults(t *testing.T) {
	m := NewRobotMatcher(nil)
	ctx := context.Background()

	require.True(t, m.Match(ctx, "Mozilla/5.0 (compatible; Googlebot/2.1)"))
	require.True(t, m.Match(ctx, "curl/8.4.0"))
	require.False(t, m.Match(ctx, "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0"))
	require.False(t, m.Match(ctx, ""))
}

func TestRobotMatcherRefreshesFromLoader(t *testing.T) {
	calls := 0
	m := NewRobotMatcher(func(ctx context.Context) ([]string, error) {
		calls++
		return []string{" CustomCrawler ", ""}, nil
	})

	require.True(t, m.Match(context.Background(), "CustomCrawler/1.0"))
	require.False(t, m.Match(context.Background(), "Googlebot"), "loaded set replaces the defaults")
	require.Equal(t, 1, calls, "refresh happens once per interval")
}

func TestRobotMatcherKeepsSignaturesOnLoaderFailure(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	calls := 0
	m := NewRobotMatcher(func(ctx context.Context) ([]string, error) {
		calls++
		return nil, errors.New("db down")
	})
	m.now = func() time.Time { return base }

	require.True(t, m.Match(context.Background(), "Googlebot"))
	require.Equal(t, 1, calls)

	// A failed attempt still counts against the refresh interval.
	require.True(t, m.Match(context.Background(), "Googlebot"))
	require.Equal(t, 1, calls)

	m.now = func() time.Time { return base.Add(6 * time.Minute) }
	require.True(t, m.Match(context.Background(), "Googlebot"))
	require.Equal(t, 2, calls)
}
