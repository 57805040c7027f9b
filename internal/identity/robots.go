package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// defaultRobotSignatures seeds the matcher until the first refresh.
var defaultRobotSignatures = []string{
	"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider",
	"yandexbot", "ahrefsbot", "semrushbot", "mj12bot", "crawler",
	"spider", "curl/", "wget/", "python-requests",
}

// RobotMatcher decides whether a guest's user agent looks like a known
// crawler. The signature set refreshes at most every refreshInterval.
type RobotMatcher struct {
	mu         sync.RWMutex
	signatures []string
	loadedAt   time.Time
	interval   time.Duration
	loader     func(ctx context.Context) ([]string, error)
	now        func() time.Time
}

// NewRobotMatcher constructs a matcher. loader may be nil, in which
// case the built-in signature set is used forever.
func NewRobotMatcher(loader func(ctx context.Context) ([]string, error)) *RobotMatcher {
	return &RobotMatcher{
		signatures: defaultRobotSignatures,
		interval:   5 * time.Minute,
		loader:     loader,
		now:        time.Now,
	}
}

// Match reports whether userAgent matches a known robot signature,
// refreshing the set first when it is due.
func (m *RobotMatcher) Match(ctx context.Context, userAgent string) bool {
	if userAgent == "" {
		return false
	}
	m.refreshIfDue(ctx)
	ua := strings.ToLower(userAgent)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sig := range m.signatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

func (m *RobotMatcher) refreshIfDue(ctx context.Context) {
	if m.loader == nil {
		return
	}
	m.mu.RLock()
	due := m.now().Sub(m.loadedAt) >= m.interval
	m.mu.RUnlock()
	if !due {
		return
	}
	loaded, err := m.loader(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	// Record the attempt either way so a failing loader is not hammered
	// on every request.
	m.loadedAt = m.now()
	if err != nil || len(loaded) == 0 {
		return
	}
	normalized := make([]string, 0, len(loaded))
	for _, sig := range loaded {
		sig = strings.ToLower(strings.TrimSpace(sig))
		if sig != "" {
			normalized = append(normalized, sig)
		}
	}
	m.signatures = normalized
}
