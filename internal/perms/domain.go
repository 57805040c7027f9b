// Package perms computes effective permission sets: group grants minus
// group denials, merged across the global scope and a board-scoped
// profile override, cached under the settings watermark.
package perms

import "errors"

// ErrBoardNotLoaded indicates a board-scoped computation was requested
// before the board access resolver ran. Caller ordering bug, fatal for
// the request.
var ErrBoardNotLoaded = errors.New("perms: board profile not loaded, resolve the board first")

// BoardScope narrows a computation to one board's permission profile.
// Built by the caller from a resolved board descriptor.
type BoardScope struct {
	BoardID     int64
	ProfileID   int64
	InCharacter bool
}

// Pair is the cached computation result: grant and removal sets kept
// separate so board-scoped rows can merge into both accumulators.
type Pair struct {
	Grants   []string `json:"grants"`
	Removals []string `json:"removals"`
}

// Row is one grant row as stored: a deny from any group in the
// evaluated set beats a grant from any other group.
type Row struct {
	GroupID    int64
	Permission string
	IsDeny     bool
}

// postingAdjacent are the posting and moderation-adjacent permissions.
// Stripped on an in-character board when the active persona is the
// out-of-character main, and withdrawn wholesale by a full posting ban.
var postingAdjacent = []string{
	"post_new",
	"post_reply_own",
	"post_reply_any",
	"post_unapproved_topics",
	"post_unapproved_replies_own",
	"post_unapproved_replies_any",
	"post_attachment",
	"post_unapproved_attachments",
	"poll_post",
	"poll_add_own",
	"poll_add_any",
	"poll_edit_own",
	"poll_edit_any",
	"modify_own",
	"modify_any",
	"delete_own",
	"delete_any",
}

// Synthetic permissions injected for every non-guest after the cached
// merge. Never written to a cache entry.
const (
	PermIsNotGuest     = "is_not_guest"
	PermProfileView    = "profile_view"
	PermProfileViewAny = "profile_view_any"
	PermApprovePosts   = "approve_posts"
)
