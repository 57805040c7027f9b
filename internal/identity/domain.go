// Package identity resolves a request's credentials into a member
// identity: integration hooks first, then the long-lived login cookie,
// then the session login record, and finally guest.
package identity

import (
	"sort"

	"github.com/parlor-forum/parlor/internal/groups"
)

// Activation states that permit login. Anything else degrades to guest.
const (
	ActivationActive       = 1
	ActivationEmailChange  = 11
	ActivationAdminApprove = 12
)

// Identity is the per-request resolved visitor. Constructed once by the
// resolver; the permission engine and board resolver fill in
// Permissions and ModCache. Never shared across requests.
type Identity struct {
	MemberID int64
	Name     string

	// Groups is the account-level group set: primary group plus
	// additional groups, deduplicated. Persona groups and the synthetic
	// moderator group are overlaid via EffectiveGroups, never written
	// back here.
	Groups []int64

	// Persona state. CharacterIsMain marks the out-of-character
	// persona; PersonaGroups are the character's main and additional
	// groups.
	CharacterID     int64
	CharacterIsMain bool
	PersonaGroups   []int64

	// ImmersivePref is the account preference; the effective flag also
	// honors the site-wide override (settings.Snapshot.ImmersionForced).
	ImmersivePref bool

	// Permissions is filled by the permission engine; empty until
	// computed.
	Permissions map[string]struct{}

	// Restricted holds ban-derived removals. A restricted capability is
	// denied even to admins.
	Restricted map[string]struct{}

	// ModCache is filled by the permission engine; nil until computed.
	ModCache *ModCache

	// IsMod is set by the board access resolver for the board under
	// resolution.
	IsMod bool

	// PossiblyRobot is only ever set for guests.
	PossiblyRobot bool

	// AlreadyVerified is set when an integration hook vouched for the
	// member id, bypassing the password check.
	AlreadyVerified bool

	// TwoFactorEnabled mirrors whether the account has a secret
	// configured.
	TwoFactorEnabled bool
}

// ModCache describes which boards and groups an identity moderates.
type ModCache struct {
	// Boards the identity moderates directly or via group assignment.
	Boards []int64 `json:"boards"`
	// Groups the identity may manage requests for.
	Groups []int64 `json:"groups"`
	// ComputedAt is the watermark-gated write time (unix seconds).
	ComputedAt int64 `json:"computed_at"`
}

// Guest returns a fresh guest identity.
func Guest() *Identity {
	return &Identity{
		Groups:      []int64{groups.GroupGuest},
		Permissions: make(map[string]struct{}),
	}
}

// IsGuest reports whether no member is logged in.
func (id *Identity) IsGuest() bool {
	return id.MemberID == 0
}

// IsAdmin reports whether the account set contains the admin group.
func (id *Identity) IsAdmin() bool {
	for _, g := range id.Groups {
		if g == groups.GroupAdmin {
			return true
		}
	}
	return false
}

// HasPermission reports whether the computed permission set contains
// name. Admins implicitly hold everything, but a ban-derived
// restriction beats even that.
func (id *Identity) HasPermission(name string) bool {
	if _, banned := id.Restricted[name]; banned {
		return false
	}
	if id.IsAdmin() {
		return true
	}
	_, ok := id.Permissions[name]
	return ok
}

// ImmersiveActive resolves the three-way immersive-mode override: the
// site-wide forced value ("on"/"off") beats the account preference.
func (id *Identity) ImmersiveActive(forced string) bool {
	switch forced {
	case "on":
		return true
	case "off":
		return false
	default:
		return id.ImmersivePref
	}
}

// EffectiveGroups returns the overlay the permission engine evaluates:
// account groups, plus persona groups when immersive mode is active,
// plus the synthetic moderator group when the identity moderates the
// board under resolution. Strictly additive; the account set is never
// shrunk. The result is sorted and deduplicated.
func (id *Identity) EffectiveGroups(immersive bool) []int64 {
	seen := make(map[int64]struct{}, len(id.Groups)+len(id.PersonaGroups)+1)
	out := make([]int64, 0, len(id.Groups)+len(id.PersonaGroups)+1)
	add := func(g int64) {
		if _, ok := seen[g]; !ok {
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	for _, g := range id.Groups {
		add(g)
	}
	if immersive {
		for _, g := range id.PersonaGroups {
			add(g)
		}
	}
	if id.IsMod {
		add(groups.GroupBoardModerator)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
