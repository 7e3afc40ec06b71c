package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fiacom/gestionale/cmd/gestionale/cli"
	"github.com/fiacom/gestionale/internal/app"
	"github.com/fiacom/gestionale/internal/auth"
	contohttp "github.com/fiacom/gestionale/internal/conto/http"
	"github.com/fiacom/gestionale/internal/conto/ingest"
	"github.com/fiacom/gestionale/internal/conto/report"
	"github.com/fiacom/gestionale/internal/conto/store"
	"github.com/fiacom/gestionale/internal/directory"
	"github.com/fiacom/gestionale/internal/observability"
	"github.com/fiacom/gestionale/internal/platform/cache"
	"github.com/fiacom/gestionale/internal/platform/db"
	"github.com/fiacom/gestionale/internal/shared"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "conto-preview" {
		opts, err := cli.ParsePreviewArgs(os.Args[2:], os.Stdout, os.Stderr)
		if err != nil {
			os.Exit(2)
		}
		os.Exit(cli.RunPreview(opts))
	}

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "gestionale_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	directoryRepo := directory.NewRepository(dbpool)
	contoStore := store.NewRepository(dbpool)

	summaries, breakdowns, err := buildReportCaches(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("conto cache", slog.Any("error", err))
		os.Exit(1)
	}
	reports := report.NewService(contoStore, directoryRepo, summaries, breakdowns, metrics, logger)
	ingestService := ingest.NewService(contoStore, directoryRepo, reports, logger,
		ingest.WithAuditor(auditLogger),
		ingest.WithMetrics(metrics),
	)
	contoHandler := contohttp.NewHandler(logger, ingestService, reports, contohttp.Config{
		MaxUploadBytes: cfg.ContoMaxUploadBytes,
		UploadsPerMin:  cfg.ContoUploadRate,
	})

	authService := auth.NewService(directoryRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		AuthService:    authService,
		AuthHandler:    authHandler,
		ContoHandler:   contoHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("conto_cache", cfg.ContoCacheBackend))
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

// buildReportCaches returns nil caches for the "none" backend.
func buildReportCaches(ctx context.Context, cfg *app.Config, client *redis.Client, logger *slog.Logger) (report.Cache, report.Cache, error) {
	switch cfg.ContoCacheBackend {
	case app.CacheBackendRedis:
		summaries := report.NewRedisCache(client, "conto:summary", cfg.ContoCacheTTL)
		breakdowns := report.NewRedisCache(client, "conto:breakdown", cfg.ContoCacheTTL)
		for _, c := range []*report.RedisCache{summaries, breakdowns} {
			if _, err := c.Generation(ctx); err != nil {
				return nil, nil, fmt.Errorf("init report cache version: %w", err)
			}
		}
		logger.Info("conto cache shared through redis", slog.Duration("ttl", cfg.ContoCacheTTL))
		return summaries, breakdowns, nil
	case app.CacheBackendNone:
		logger.Warn("conto cache disabled")
		return nil, nil, nil
	default:
		return report.NewMemoryCache(cfg.ContoCacheTTL, time.Now), report.NewMemoryCache(cfg.ContoCacheTTL, time.Now), nil
	}
}
