// Package groups holds the membergroup reference data the resolvers
// consult: which groups exist, which are protected, and which belong to
// characters rather than accounts.
package groups

// Reserved group ids.
const (
	// GroupAdmin implicitly holds every permission.
	GroupAdmin = 1
	// GroupGuest is the synthetic group of unauthenticated visitors.
	GroupGuest = -1
	// GroupRegular is the default primary group of plain accounts.
	GroupRegular = 0
	// GroupBoardModerator is appended to the effective group set of a
	// member moderating the board under resolution. Never stored.
	GroupBoardModerator = 3
)

// Group is a membergroup definition.
type Group struct {
	ID int64 `json:"id"`
	// Name is the normalized display name.
	Name string `json:"name"`
	// IsProtected groups cannot be granted without elevated rights.
	IsProtected bool `json:"is_protected"`
	// IsCharacterGroup groups attach to personas, never to accounts.
	IsCharacterGroup bool `json:"is_character_group"`
	// RequiresTwoFactor marks groups whose members must have a second
	// factor configured when tfa_mode is per-group.
	RequiresTwoFactor bool `json:"requires_two_factor"`
}
