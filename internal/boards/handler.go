package boards

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/parlor-forum/parlor/internal/identity"
	"github.com/parlor-forum/parlor/internal/perms"
	"github.com/parlor-forum/parlor/internal/platform/httpx"
	"github.com/parlor-forum/parlor/internal/settings"
)

// Handler serves board, topic and message lookups. Every request runs
// the same pipeline: resolve the board, recompute permissions under
// the board scope, then answer from the descriptor.
type Handler struct {
	resolver *Resolver
	engine   *perms.Engine
	logger   *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(resolver *Resolver, engine *perms.Engine, logger *slog.Logger) *Handler {
	return &Handler{resolver: resolver, engine: engine, logger: logger}
}

// MountRoutes registers board routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/boards/{boardID}", h.viewBoard)
	r.Post("/boards/{boardID}/compose", h.composeCheck)
	r.Get("/topics/{topicID}", h.viewTopic)
	r.Get("/messages/{messageID}", h.viewMessage)
}

type boardResponse struct {
	Board       *Descriptor `json:"board"`
	IsModerator bool        `json:"is_moderator"`
	CanPost     bool        `json:"can_post"`
	CanReply    bool        `json:"can_reply"`
	// UnapprovedUserTopics is only set when the board would otherwise
	// look empty to a member awaiting approval.
	UnapprovedUserTopics int64 `json:"unapproved_user_topics,omitempty"`
}

func (h *Handler) viewBoard(w http.ResponseWriter, r *http.Request) {
	boardID, ok := pathID(w, r, "boardID")
	if !ok {
		return
	}
	h.serve(w, r, Ref{BoardID: boardID, Intent: IntentView})
}

// composeCheck answers whether the identity may start a topic here.
// Redirect boards reject this with a distinct error even though plain
// viewing would have succeeded.
func (h *Handler) composeCheck(w http.ResponseWriter, r *http.Request) {
	boardID, ok := pathID(w, r, "boardID")
	if !ok {
		return
	}
	h.serve(w, r, Ref{BoardID: boardID, Intent: IntentPost})
}

func (h *Handler) viewTopic(w http.ResponseWriter, r *http.Request) {
	topicID, ok := pathID(w, r, "topicID")
	if !ok {
		return
	}
	h.serve(w, r, Ref{TopicID: topicID, Intent: IntentView})
}

// viewMessage resolves a bare message reference and redirects to the
// canonical topic URL; the board access check runs on the follow-up
// request.
func (h *Handler) viewMessage(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r, "messageID")
	if !ok {
		return
	}
	ctx := r.Context()
	snap := settings.SnapshotFromContext(ctx)
	res, err := h.resolver.Resolve(ctx, snap, Ref{MessageID: messageID}, identity.FromContext(ctx))
	if err != nil {
		h.logger.Error("message resolve failed", slog.Int64("message", messageID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	if res.Descriptor != nil && res.Descriptor.Err == AccessGone {
		httpx.Problem(w, http.StatusGone, "Gone", "that message no longer exists")
		return
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, ref Ref) {
	ctx := r.Context()
	id := identity.FromContext(ctx)
	snap := settings.SnapshotFromContext(ctx)

	res, err := h.resolver.Resolve(ctx, snap, ref, id)
	if err != nil {
		h.logger.Error("board resolve failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	desc := res.Descriptor

	switch desc.Err {
	case AccessGone:
		httpx.Problem(w, http.StatusGone, "Gone", "that board or topic no longer exists")
		return
	case AccessDenied:
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "you may not view this board")
		return
	case AccessRedirectPosting:
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "this board redirects elsewhere and does not accept posts")
		return
	}

	// Recompute under the board scope. Moderator status was written to
	// the identity during resolution, so the synthetic moderator group
	// participates here.
	if err := h.engine.Compute(ctx, snap, id, Scope(desc), clientIP(r)); err != nil {
		h.logger.Error("board permission compute failed",
			slog.Int64("board", desc.ID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}

	if err := h.resolver.UnapprovedFallback(ctx, snap, desc, id); err != nil {
		h.logger.Warn("unapproved fallback failed", slog.Int64("board", desc.ID), slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusOK, boardResponse{
		Board:                desc,
		IsModerator:          id.IsMod,
		CanPost:              id.HasPermission("post_new"),
		CanReply:             id.HasPermission("post_reply_own") || id.HasPermission("post_reply_any"),
		UnapprovedUserTopics: desc.UnapprovedUserTopics,
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+name)
		return 0, false
	}
	return v, true
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
