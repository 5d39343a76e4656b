// Package bootstrap builds the long-lived services shared by the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"assetforge/internal/adapter/repo"
	"assetforge/internal/cache"
	"assetforge/internal/domain"
	"assetforge/internal/inflight"
	"assetforge/internal/infra"
	"assetforge/internal/normalize"
	"assetforge/internal/orchestrator"
	"assetforge/internal/providers/generator"
	"assetforge/internal/providers/prompt"
	"assetforge/internal/quota"
	"assetforge/internal/storage"
)

// Services owns every component with process lifetime. Close releases
// connections in reverse order of creation.
type Services struct {
	Config       *infra.Config
	Ledger       *quota.Ledger
	Cache        *cache.ArtifactCache
	Recovery     *storage.RecoveryLog
	Orchestrator *orchestrator.Orchestrator

	closers []func()
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Build wires the pipeline from cfg.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Services, error) {
	s := &Services{Config: cfg}

	repository, err := s.artifactRepository(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Cache = cache.New(repository, logger)
	s.Ledger = quota.NewLedger(cfg.QuotaLimits)

	recovery, err := storage.NewRecoveryLog(cfg.RecoveryLogPath)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Recovery = recovery

	var chat *openai.Client
	if cfg.OpenAIAPIKey != "" {
		chat = prompt.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, &http.Client{Timeout: cfg.EnricherTimeout + 5*time.Second})
	} else {
		logger.Warn().Msg("bootstrap: OPENAI_API_KEY missing, normalizer and enricher use fallbacks only")
	}

	normOpts := normalize.Options{
		Model:   cfg.OpenAIModel,
		Timeout: cfg.NormalizerTimeout,
		OnFallback: func(reason string, err error) {
			logger.Warn().Err(err).Str("fallback_reason", reason).Msg("normalizer: using folded prompt")
		},
	}
	expOpts := prompt.OpenAIOptions{
		Model:   cfg.OpenAIModel,
		Timeout: cfg.EnricherTimeout,
		OnFallback: func(reason string, err error) {
			logger.Warn().Err(err).Str("fallback_reason", reason).Msg("enricher: using static rules")
		},
	}
	if chat != nil {
		normOpts.Classifier = chat
		expOpts.Client = chat
	}

	generators := make(map[domain.Provider]orchestrator.Generator, 2)
	policies := make(map[domain.Provider]orchestrator.PollPolicy, 2)
	for provider, gc := range map[domain.Provider]infra.GeneratorConfig{
		domain.ProviderModel:  cfg.Model,
		domain.ProviderSkybox: cfg.Skybox,
	} {
		client, err := generator.NewClient(generator.Options{
			BaseURL:       gc.BaseURL,
			APIKey:        gc.APIKey,
			VendorID:      gc.VendorID,
			Timeout:       cfg.GeneratorTimeout,
			RatePerSecond: cfg.GeneratorRatePerS,
			Logger:        &logger,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bootstrap: %s generator: %w", provider, err)
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		generators[provider] = client
		policies[provider] = orchestrator.PollPolicy{
			Interval:    gc.PollInterval,
			MaxAttempts: gc.MaxAttempts,
			MaxElapsed:  gc.MaxElapsed,
		}
	}

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Ledger:     s.Ledger,
		Normalizer: normalize.New(normOpts),
		Cache:      s.Cache,
		Registry:   inflight.NewRegistry(),
		Enricher:   prompt.NewOpenAIExpander(expOpts),
		Generators: generators,
		Policies:   policies,
		Recovery:   recovery,
		Logger:     logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Orchestrator = orch
	return s, nil
}

func (s *Services) artifactRepository(ctx context.Context, cfg *infra.Config, logger infra.Logger) (domain.ArtifactRepository, error) {
	switch cfg.ArtifactStore {
	case infra.StoreMemory:
		logger.Warn().Msg("bootstrap: in-memory artifact store, artifacts are lost on restart")
		return cache.NewMemoryRepository(), nil
	case infra.StorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)
		pg := repo.NewArtifactRepository(infra.NewSQLRunner(pool, logger))
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap: ensure artifact schema: %w", err)
		}
		return pg, nil
	case infra.StoreRedis:
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		return repo.NewArtifactRedisRepository(client), nil
	default:
		return nil, errors.New("bootstrap: unsupported artifact store " + cfg.ArtifactStore)
	}
}

// Reconcile replays the recovery log into the artifact store.
func (s *Services) Reconcile(ctx context.Context, logger infra.Logger) (orchestrator.ReconcileReport, error) {
	entries, skipped, err := storage.ReadRecoveryLog(s.Recovery.Path())
	if err != nil {
		return orchestrator.ReconcileReport{}, err
	}
	if skipped > 0 {
		logger.Warn().Int("skipped", skipped).Str("path", s.Recovery.Path()).Msg("bootstrap: malformed recovery log lines")
	}
	report, err := s.Orchestrator.Reconcile(ctx, entries)
	if err != nil {
		return report, err
	}
	logger.Info().
		Int("scanned", report.Scanned).
		Int("restored", report.Restored).
		Int("present", report.Present).
		Int("skipped", report.Skipped+skipped).
		Msg("bootstrap: recovery log reconciled")
	return report, nil
}
