package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lexofis/lexofis/internal/app"
	"github.com/lexofis/lexofis/internal/auth"
	"github.com/lexofis/lexofis/internal/observability"
	"github.com/lexofis/lexofis/internal/platform/cache"
	"github.com/lexofis/lexofis/internal/platform/db"
	"github.com/lexofis/lexofis/internal/profile"
	"github.com/lexofis/lexofis/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
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

	vault, err := auth.NewVault(
		auth.NewRedisStore(redisClient, cfg.SessionKey),
		auth.NewMemoryStore(),
		[]byte(cfg.SessionSecret),
	)
	if err != nil {
		logger.Error("build session vault", slog.Any("error", err))
		os.Exit(1)
	}

	bus := auth.NewRedisEventBus(redisClient, cfg.AuthEventChannel, logger)
	identity := auth.NewIdentityClient(cfg.IdentityURL, cfg.IdentityAPIKey, nil)
	profiles := profile.NewRepository(pool)

	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	manager, err := auth.NewManager(auth.ManagerParams{
		Backend:          identity,
		Profiles:         profiles,
		Vault:            vault,
		Events:           bus,
		Queue:            queue,
		Logger:           logger,
		RefreshThreshold: cfg.SessionRefreshThreshold,
	})
	if err != nil {
		logger.Error("build session manager", slog.Any("error", err))
		os.Exit(1)
	}
	if err := manager.Restore(ctx); err != nil {
		logger.Warn("restore session", slog.Any("error", err))
	}

	reconciler := auth.NewReconciler(manager, bus, logger)
	go func() {
		if err := reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("auth reconciler", slog.Any("error", err))
			stop()
		}
	}()

	metrics := observability.NewMetrics()
	authHandler := auth.NewHandler(logger, manager, metrics.ObserveAuth)

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		AuthHandler: authHandler,
		Metrics:     metrics,
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
