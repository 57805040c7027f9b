package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlor-forum/parlor/internal/admin"
	"github.com/parlor-forum/parlor/internal/app"
	"github.com/parlor-forum/parlor/internal/auth"
	"github.com/parlor-forum/parlor/internal/boards"
	"github.com/parlor-forum/parlor/internal/flood"
	"github.com/parlor-forum/parlor/internal/groups"
	"github.com/parlor-forum/parlor/internal/identity"
	"github.com/parlor-forum/parlor/internal/observability"
	"github.com/parlor-forum/parlor/internal/perms"
	"github.com/parlor-forum/parlor/internal/platform/cache"
	"github.com/parlor-forum/parlor/internal/settings"
	"github.com/parlor-forum/parlor/internal/shared"
	"github.com/parlor-forum/parlor/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store := cache.NewRedisStore(redisClient, cfg.CachePrefix)
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	settingsRepo := settings.NewRepository(pool)
	settingsService := settings.NewService(settingsRepo, store, 0)

	floodGuard := flood.NewGuard(redisClient, cfg.FloodLimit, cfg.FloodWindow, cfg.FloodLockout)

	registry := groups.NewRegistry(pool, store)
	identityRepo := identity.NewRepository(pool, store)
	robots := identity.NewRobotMatcher(identityRepo.RobotSignatures)
	resolver := identity.NewResolver(identityRepo, registry, robots, floodGuard, logger)
	identityService := identity.NewService(identityRepo, floodGuard)

	permsRepo := perms.NewRepository(pool)
	banRepo := perms.NewBanRepository(pool)
	engine := perms.NewEngine(permsRepo, store, banRepo, metrics, logger)

	boardsRepo := boards.NewRepository(pool)
	boardsResolver := boards.NewResolver(boardsRepo, store, metrics, logger)
	boardsHandler := boards.NewHandler(boardsResolver, engine, logger)

	authHandler := auth.NewHandler(logger, identityService, identityRepo, sessionManager, csrfManager, floodGuard, cfg.TwoFactorCookie, cfg.LoginRateLimit, cfg.LoginRateWindow)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("asynq client", slog.Any("error", err))
		jobsClient = nil
	} else {
		defer func() {
			if err := jobsClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
	}
	var warmup admin.WarmupEnqueuer
	if jobsClient != nil {
		warmup = jobsClient
	}

	adminRepo := admin.NewRepository(pool)
	adminHandler := admin.NewHandler(adminRepo, settingsService, warmup, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Settings:       settingsService,
		Resolver:       resolver,
		Engine:         engine,
		AuthHandler:    authHandler,
		BoardsHandler:  boardsHandler,
		AdminHandler:   adminHandler,
		JobHandler:     jobHandler,
		Pool:           pool,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
