package auth

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/parlor-forum/parlor/internal/flood"
	"github.com/parlor-forum/parlor/internal/identity"
	"github.com/parlor-forum/parlor/internal/platform/httpx"
	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
)

// Handler wires HTTP endpoints for the interactive login flow. The
// middleware resolves identity on every request; this package is only
// where credentials are first exchanged for cookies.
type Handler struct {
	logger          *slog.Logger
	service         *identity.Service
	repo            identity.MemberSource
	sessionManager  *shared.SessionManager
	csrfManager     *shared.CSRFManager
	flood           *flood.Guard
	validator       *validator.Validate
	twoFactorCookie string
	loginLimit      int
	loginWindow     time.Duration
}

// NewHandler constructs a Handler instance. flood may be nil.
func NewHandler(logger *slog.Logger, service *identity.Service, repo identity.MemberSource, sessions *shared.SessionManager, csrf *shared.CSRFManager, guard *flood.Guard, twoFactorCookie string, loginLimit int, loginWindow time.Duration) *Handler {
	if loginLimit <= 0 {
		loginLimit = 10
	}
	if loginWindow <= 0 {
		loginWindow = time.Minute
	}
	return &Handler{
		logger:          logger,
		service:         service,
		repo:            repo,
		sessionManager:  sessions,
		csrfManager:     csrf,
		flood:           guard,
		validator:       validator.New(),
		twoFactorCookie: twoFactorCookie,
		loginLimit:      loginLimit,
		loginWindow:     loginWindow,
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.loginPrelude)
	r.With(httprate.LimitByIP(h.loginLimit, h.loginWindow)).Post("/login", h.handleLogin)
	r.Post("/login/verify", h.handleVerify)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type verifyRequest struct {
	Code string `json:"code" validate:"required"`
}

// loginPrelude hands the client the CSRF token it must carry on the
// login POST.
func (h *Handler) loginPrelude(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("csrf token issue failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := remoteIP(r)

	if h.flood != nil {
		blocked, err := h.flood.Blocked(ctx, 0, ip)
		if err != nil {
			h.logger.Warn("flood check failed", slog.Any("error", err))
		} else if blocked {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "too many failed logins, try again later")
			return
		}
	}

	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "name and password are required")
		return
	}

	snap := settings.SnapshotFromContext(ctx)
	member, cookie, err := h.service.Authenticate(ctx, snap, req.Name, req.Password, ip)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid name or password")
			return
		}
		h.logger.Error("authenticate failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}

	if sess := shared.SessionFromContext(ctx); sess != nil {
		sess.SetLogin(h.service.SessionRecord(member), r.UserAgent())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     snap.CookieName,
		Value:    identity.EncodeLoginCookie(cookie),
		Expires:  time.Unix(cookie.Expires, 0),
		Domain:   cookie.Domain,
		Path:     cookie.Path,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	if member.TFASecret != "" {
		httpx.JSON(w, http.StatusOK, map[string]any{
			"member_id":           member.ID,
			"two_factor_required": true,
		})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"member_id": member.ID,
		"name":      member.Name,
	})
}

// handleVerify completes a two-factor login. The password step must
// already have stored a login record in the session.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	if sess == nil || sess.Login() == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no pending login")
		return
	}

	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "code is required")
		return
	}

	snap := settings.SnapshotFromContext(ctx)
	member, err := h.repo.Member(ctx, snap, sess.Login().MemberID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no pending login")
			return
		}
		h.logger.Error("member load failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}

	cookie, err := h.service.VerifyTwoFactor(ctx, member, req.Code, remoteIP(r))
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrTwoFactorSetup):
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "two-factor is not enabled for this account")
		case errors.Is(err, shared.ErrInvalidCredentials):
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid code")
		default:
			h.logger.Error("two-factor verify failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.twoFactorCookie,
		Value:    identity.EncodeTwoFactorCookie(cookie),
		Expires:  time.Now().Add(identity.LoginCookieLifetime),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	httpx.JSON(w, http.StatusOK, map[string]any{"member_id": member.ID, "verified": true})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap := settings.SnapshotFromContext(ctx)

	if sess := shared.SessionFromContext(ctx); sess != nil {
		sess.ClearLogin()
		h.sessionManager.Destroy(sess)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     snap.CookieName,
		Value:    "",
		MaxAge:   -1,
		Domain:   snap.CookieDomain,
		Path:     snap.CookiePath,
		HttpOnly: true,
	})
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
