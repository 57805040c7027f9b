package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlor-forum/parlor/internal/admin"
	"github.com/parlor-forum/parlor/internal/auth"
	"github.com/parlor-forum/parlor/internal/boards"
	"github.com/parlor-forum/parlor/internal/identity"
	"github.com/parlor-forum/parlor/internal/observability"
	"github.com/parlor-forum/parlor/internal/perms"
	"github.com/parlor-forum/parlor/internal/platform/httpx"
	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
	"github.com/parlor-forum/parlor/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Settings       *settings.Service
	Resolver       *identity.Resolver
	Engine         *perms.Engine
	AuthHandler    *auth.Handler
	BoardsHandler  *boards.Handler
	AdminHandler   *admin.Handler
	JobHandler     *jobs.Handler
	Pool           *pgxpool.Pool
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Parlor defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Settings:       params.Settings,
		Resolver:       params.Resolver,
		Engine:         params.Engine,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Who the middleware decided the requester is, after the global
	// permission pass. Mostly a debugging surface, but cheap: all the
	// work already happened.
	r.Get("/me", func(w http.ResponseWriter, req *http.Request) {
		id := identity.FromContext(req.Context())
		httpx.JSON(w, http.StatusOK, map[string]any{
			"member_id":      id.MemberID,
			"name":           id.Name,
			"guest":          id.IsGuest(),
			"admin":          id.IsAdmin(),
			"groups":         id.Groups,
			"possibly_robot": id.PossiblyRobot,
		})
	})

	params.AuthHandler.MountRoutes(r)
	params.BoardsHandler.MountRoutes(r)
	r.Route("/admin", params.AdminHandler.Routes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
