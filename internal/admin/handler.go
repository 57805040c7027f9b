package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/parlor-forum/parlor/internal/identity"
	"github.com/parlor-forum/parlor/internal/platform/httpx"
)

// WatermarkBumper records an administrative change. Implemented by the
// settings service.
type WatermarkBumper interface {
	Bump(ctx context.Context) error
}

// WarmupEnqueuer schedules a cache warmup for the group whose grants
// changed. May be nil when no worker is deployed.
type WarmupEnqueuer interface {
	EnqueuePermWarmup(ctx context.Context, groupIDs []int64) error
}

// GrantStore is the persistence surface the handler mutates.
// Implemented by Repository.
type GrantStore interface {
	ListGrants(ctx context.Context, groupID int64) ([]Grant, error)
	InsertGrant(ctx context.Context, g Grant) error
	DeleteGrant(ctx context.Context, g Grant) (bool, error)
	ReplaceGroupGrants(ctx context.Context, groupID int64, grants []Grant) error
}

// Handler serves the grant-editing endpoints.
type Handler struct {
	repo      GrantStore
	watermark WatermarkBumper
	warmup    WarmupEnqueuer
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(repo GrantStore, watermark WatermarkBumper, warmup WarmupEnqueuer, logger *slog.Logger) *Handler {
	return &Handler{
		repo:      repo,
		watermark: watermark,
		warmup:    warmup,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Routes mounts the admin endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/grants/{groupID}", h.listGrants)
	r.Post("/grants", h.createGrant)
	r.Delete("/grants", h.deleteGrant)
	r.Put("/grants/{groupID}", h.replaceGrants)
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad group id")
		return
	}
	grants, err := h.repo.ListGrants(r.Context(), groupID)
	if err != nil {
		h.logger.Error("list grants", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grants)
}

func (h *Handler) createGrant(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var g Grant
	if err := httpx.DecodeJSON(r, &g); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(g); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.repo.InsertGrant(r.Context(), g); err != nil {
		if errors.Is(err, ErrDuplicateGrant) {
			httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
			return
		}
		h.logger.Error("create grant", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.afterMutation(r, g.GroupID)
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) deleteGrant(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var g Grant
	if err := httpx.DecodeJSON(r, &g); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(g); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	removed, err := h.repo.DeleteGrant(r.Context(), g)
	if err != nil {
		h.logger.Error("delete grant", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if !removed {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no such grant")
		return
	}
	h.afterMutation(r, g.GroupID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replaceGrants(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bad group id")
		return
	}
	var grants []Grant
	if err := httpx.DecodeJSON(r, &grants); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	for _, g := range grants {
		if err := h.validate.Struct(g); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}
	if err := h.repo.ReplaceGroupGrants(r.Context(), groupID, grants); err != nil {
		h.logger.Error("replace grants", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.afterMutation(r, groupID)
	httpx.JSON(w, http.StatusOK, grants)
}

// afterMutation bumps the watermark and schedules a warmup. The bump is
// fire and forget towards other processes: they pick it up through the
// staleness gate, never through explicit per-key invalidation.
func (h *Handler) afterMutation(r *http.Request, groupID int64) {
	ctx := r.Context()
	if err := h.watermark.Bump(ctx); err != nil {
		h.logger.Error("watermark bump failed", slog.Any("error", err))
	}
	if h.warmup != nil {
		if err := h.warmup.EnqueuePermWarmup(ctx, []int64{groupID}); err != nil {
			h.logger.Warn("warmup enqueue failed", slog.Any("error", err))
		}
	}
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	id := identity.FromContext(r.Context())
	if id == nil || !id.IsAdmin() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "admin access required")
		return false
	}
	return true
}
