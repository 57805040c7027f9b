package app

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/parlor-forum/parlor/internal/identity"
	"github.com/parlor-forum/parlor/internal/observability"
	"github.com/parlor-forum/parlor/internal/perms"
	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
)

// Paths that are themselves part of the two-factor flow. Requests to
// these must never be bounced back into the flow they implement.
const (
	twoFactorVerifyPath = "/login/verify"
	twoFactorSetupPath  = "/login/setup-2fa"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Settings       *settings.Service
	Resolver       *identity.Resolver
	Engine         *perms.Engine
	Metrics        *observability.Metrics
}

type responseWriterWithCommit struct {
	http.ResponseWriter
	sess          *shared.Session
	manager       *shared.SessionManager
	ctx           context.Context
	req           *http.Request
	headerWritten bool
}

func (w *responseWriterWithCommit) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		_ = w.manager.Commit(w.ctx, w.ResponseWriter, w.req, w.sess)
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWithCommit) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

// MiddlewareStack installs the Parlor middleware chain. Order matters:
// the session must be loaded before identity resolution, and identity
// must be resolved before any handler runs.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	sessionMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := cfg.SessionManager.Load(ctx, r)
			if err != nil {
				cfg.Logger.Error("failed to load session", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			ctx = shared.ContextWithSession(ctx, sess)

			// Wrap to commit the session before the first header write.
			wrapped := &responseWriterWithCommit{
				ResponseWriter: w,
				sess:           sess,
				manager:        cfg.SessionManager,
				ctx:            ctx,
				req:            r.WithContext(ctx),
			}

			next.ServeHTTP(wrapped, r.WithContext(ctx))
		})
	}

	csrfMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			sess := shared.SessionFromContext(r.Context())
			if sess == nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			token := r.PostFormValue(shared.CSRFFormField)
			if token == "" {
				token = r.Header.Get("X-CSRF-Token")
			}
			if err := cfg.CSRFManager.VerifyToken(r.Context(), sess, token); err != nil {
				cfg.Logger.Warn("csrf validation failed", slog.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		sessionMiddleware,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		csrfMiddleware,
		identityMiddleware(cfg),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// identityMiddleware resolves the requester's identity on every request
// and computes the global permission set before any handler runs.
// Resolution never fails a request: broken credentials, missing rows
// and infrastructure faults all degrade to guest.
func identityMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			snap, err := cfg.Settings.Snapshot(ctx)
			if err != nil {
				cfg.Logger.Warn("settings snapshot load failed, using defaults", slog.Any("error", err))
			}

			req := identity.Request{
				Session:         shared.SessionFromContext(ctx),
				UserAgent:       r.UserAgent(),
				RemoteIP:        remoteIP(r),
				TwoFactorAction: isTwoFactorPath(r.URL.Path),
			}
			if c, cerr := r.Cookie(snap.CookieName); cerr == nil {
				req.CookieValue = c.Value
			}
			if cfg.Config != nil && cfg.Config.TwoFactorCookie != "" {
				if c, cerr := r.Cookie(cfg.Config.TwoFactorCookie); cerr == nil {
					req.TwoFactorCookieValue = c.Value
				}
			}

			res, err := cfg.Resolver.Resolve(ctx, snap, req)
			if err != nil {
				cfg.Logger.Error("identity resolution failed", slog.Any("error", err))
				res = &identity.Result{Identity: identity.Guest()}
				cfg.Metrics.Resolution("error")
			}

			if res.ReissueCookie != nil {
				setLoginCookie(w, snap, *res.ReissueCookie)
			}

			switch {
			case res.TwoFactorChallenge:
				cfg.Metrics.Resolution("two_factor_challenge")
				http.Redirect(w, r, twoFactorVerifyPath, http.StatusSeeOther)
				return
			case res.TwoFactorSetup:
				cfg.Metrics.Resolution("two_factor_setup")
				http.Redirect(w, r, twoFactorSetupPath, http.StatusSeeOther)
				return
			}

			id := res.Identity
			if err := cfg.Engine.Compute(ctx, snap, id, nil, req.RemoteIP); err != nil {
				// Permissions stay empty, which denies everything. The
				// request still proceeds so public pages keep working.
				cfg.Logger.Error("permission compute failed",
					slog.Int64("member", id.MemberID), slog.Any("error", err))
			}

			cfg.Metrics.Resolution(resolutionOutcome(id))

			ctx = settings.ContextWithSnapshot(ctx, snap)
			ctx = identity.ContextWithIdentity(ctx, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setLoginCookie(w http.ResponseWriter, snap settings.Snapshot, c identity.LoginCookie) {
	http.SetCookie(w, &http.Cookie{
		Name:     snap.CookieName,
		Value:    identity.EncodeLoginCookie(c),
		Expires:  time.Unix(c.Expires, 0),
		Domain:   c.Domain,
		Path:     c.Path,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func resolutionOutcome(id *identity.Identity) string {
	switch {
	case id.PossiblyRobot:
		return "robot"
	case id.IsGuest():
		return "guest"
	default:
		return "member"
	}
}

func isTwoFactorPath(path string) bool {
	return strings.HasPrefix(path, twoFactorVerifyPath) || strings.HasPrefix(path, twoFactorSetupPath)
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
