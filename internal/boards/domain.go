// Package boards resolves board descriptors and decides whether the
// current identity may see and use them.
package boards

// Ref identifies what the request is asking for. Zero values mean
// unspecified; an entirely empty Ref is the board index, not an error.
type Ref struct {
	BoardID   int64
	TopicID   int64
	MessageID int64
	// Intent distinguishes viewing from starting a new post; redirect
	// boards reject the latter as a distinct error kind.
	Intent Intent
}

// Intent is what the caller wants to do with the board.
type Intent int

const (
	IntentView Intent = iota
	IntentPost
)

// AccessError is the descriptor-level error flag. Resolution never
// throws on a denial so permissions and theme can still load for the
// error page.
type AccessError string

const (
	// AccessOK means the identity may use the board.
	AccessOK AccessError = ""
	// AccessDenied means group membership excludes the identity.
	AccessDenied AccessError = "denied"
	// AccessGone means the board, topic or message does not exist.
	AccessGone AccessError = "gone"
	// AccessRedirectPosting means a new post was attempted in a
	// redirect-only board.
	AccessRedirectPosting AccessError = "redirect_posting"
)

// Summary is one parent-chain entry fit for link-tree rendering. A
// restricted ancestor keeps a placeholder name and no link so its real
// name never leaks.
type Summary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	// Linkable is false for ancestors the identity cannot see.
	Linkable bool `json:"linkable"`
}

// hiddenBoardName substitutes for ancestors the identity cannot see.
const hiddenBoardName = "(restricted board)"

// Descriptor is a resolved board. Group and moderator sets include
// everything propagated down from ancestors.
type Descriptor struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CategoryID   int64  `json:"category_id"`
	CategoryName string `json:"category_name"`
	ParentID     int64  `json:"parent_id"`

	// ProfileID selects the board-scoped permission profile.
	ProfileID int64 `json:"profile_id"`

	// InCharacter gates the immersive-mode permission overlay.
	InCharacter bool `json:"in_character"`

	// RedirectURL is non-empty for redirect-only boards.
	RedirectURL string `json:"redirect_url"`

	AllowedGroups []int64 `json:"allowed_groups"`
	DeniedGroups  []int64 `json:"denied_groups"`

	// Moderators and ModeratorGroups include assignments inherited from
	// every ancestor: moderation is transitive down the tree.
	Moderators      []int64 `json:"moderators"`
	ModeratorGroups []int64 `json:"moderator_groups"`

	// ParentChain lists ancestors root to self.
	ParentChain []Summary `json:"parent_chain"`

	VisibleTopics int64 `json:"visible_topics"`

	// UnapprovedUserTopics is filled lazily by UnapprovedFallback, only
	// when the common path found nothing to show.
	UnapprovedUserTopics int64 `json:"-"`

	// Err is the access flag the caller checks after resolution.
	Err AccessError `json:"-"`
}

// Accessible reports whether resolution ended without an access flag.
func (d *Descriptor) Accessible() bool {
	return d.Err == AccessOK
}

// Resolution is the outcome of a board lookup.
type Resolution struct {
	Descriptor *Descriptor
	// RedirectURL is set when the caller must redirect to the canonical
	// topic+message URL instead of rendering in place.
	RedirectURL string
}

func intersects(a, b []int64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[int64]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func contains(list []int64, v int64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
