package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"assetforge/internal/bootstrap"
	"assetforge/internal/http/handlers"
	httpapi "assetforge/internal/http/httpapi"
	"assetforge/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to build services")
	}
	defer svc.Close()

	if cfg.ReconcileOnStartup {
		if _, err := svc.Reconcile(ctx, logger); err != nil {
			logger.Error().Err(err).Msg("api: startup reconcile failed")
		}
	}

	app := handlers.NewApp(svc.Orchestrator, svc.Ledger, svc.Cache, logger)
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:          logger,
		RateLimitPerMin: cfg.RateLimitPerMin,
		AllowedOrigins:  cfg.AllowedOrigins,
	})
	server := infra.NewHTTPServer(cfg, router)

	logger.Info().
		Str("store", cfg.ArtifactStore).
		Strs("providers", cfg.QuotaProviders()).
		Msgf("API listening on %s", server.Addr())
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}
	if n := svc.Orchestrator.InFlight(); n > 0 {
		logger.Warn().Int("in_flight", n).Msg("stopping with generations in flight")
	}
	logger.Info().Msg("server stopped")
}
