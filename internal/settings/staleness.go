package settings

import "time"

// IsStale reports whether a cache entry written at storedAt may no
// longer reflect the grant tables. Two gates apply:
//
//   - the entry's own TTL has elapsed, or
//   - the watermark falls inside the trailing grace window, that is
//     now-grace <= watermark. Any administrative change inside the last
//     grace window distrusts every entry, even ones whose TTL has not
//     elapsed, so a demoted member cannot coast on old permissions.
//
// The grace window equals the entry TTL; a zero watermark disables the
// second gate.
func IsStale(storedAt time.Time, ttl time.Duration, watermark int64, now time.Time) bool {
	if now.Sub(storedAt) > ttl {
		return true
	}
	if watermark <= 0 {
		return false
	}
	return now.Add(-ttl).Unix() <= watermark
}
