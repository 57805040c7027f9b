// Package settings loads the site configuration snapshot and owns the
// settings watermark that gates every permission and board cache entry.
package settings

import "time"

// Two-factor enforcement modes.
const (
	TFAModeOff      = 0 // never required
	TFAModeEveryone = 1 // required for every member
	TFAModeByGroup  = 2 // required for members of flagged groups
)

// Snapshot is an immutable view of site settings taken at the start of a
// request. Code never reads settings through a shared mutable bag.
type Snapshot struct {
	// SettingsUpdated is the watermark: unix seconds of the last
	// administrative change affecting permissions, groups, or bans.
	SettingsUpdated int64 `json:"settings_updated"`

	// CachingLevel gates optional cache tiers: >=2 enables member-row
	// and board-scoped permission caching, >=3 enables topic-to-board
	// mapping caching.
	CachingLevel int `json:"caching_level"`

	// CheckUserAgent gates the session login record on a user-agent
	// match.
	CheckUserAgent bool `json:"check_user_agent"`

	// TFAMode is one of the TFAMode constants.
	TFAMode int `json:"tfa_mode"`

	// PostModeration enables the unapproved-topics fallback on boards
	// with no visible topics.
	PostModeration bool `json:"post_moderation"`

	// ImmersionForced pins immersive mode site-wide: "on", "off", or ""
	// to honor the per-user preference.
	ImmersionForced string `json:"immersion_forced"`

	// LastVisitStaleness is how stale the unread watermark must be
	// before last-visit bookkeeping runs again.
	LastVisitStaleness time.Duration `json:"last_visit_staleness"`

	// CookieName, CookieDomain and CookiePath are the canonical values
	// the login cookie is issued with; a cookie carrying anything else
	// is reissued.
	CookieName   string `json:"cookie_name"`
	CookieDomain string `json:"cookie_domain"`
	CookiePath   string `json:"cookie_path"`
}

// Defaults returns the snapshot used when a setting row is absent.
func Defaults() Snapshot {
	return Snapshot{
		CachingLevel:       1,
		CheckUserAgent:     true,
		LastVisitStaleness: 5 * time.Hour,
		CookieName:         "parlor_login",
		CookiePath:         "/",
	}
}
