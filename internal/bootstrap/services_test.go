package bootstrap

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"assetforge/internal/domain"
	"assetforge/internal/infra"
	"assetforge/internal/storage"
)

func testConfig(t *testing.T) *infra.Config {
	t.Helper()
	return &infra.Config{
		ArtifactStore:     infra.StoreMemory,
		NormalizerTimeout: time.Second,
		EnricherTimeout:   time.Second,
		Model:             infra.GeneratorConfig{BaseURL: "http://127.0.0.1:1", PollInterval: time.Millisecond, MaxAttempts: 1},
		Skybox:            infra.GeneratorConfig{BaseURL: "http://127.0.0.1:1", PollInterval: time.Millisecond, MaxElapsed: time.Second},
		GeneratorTimeout:  time.Second,
		QuotaLimits:       map[string]int{"model": 3, "skybox": 1},
		RecoveryLogPath:   filepath.Join(t.TempDir(), "recovery.log"),
	}
}

func TestBuildMemoryStoreAndReconcile(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := testConfig(t)
	ctx := context.Background()

	log, err := storage.NewRecoveryLog(cfg.RecoveryLogPath)
	if err != nil {
		t.Fatalf("NewRecoveryLog: %v", err)
	}
	if err := log.Append(ctx, storage.RecoveryEntry{
		ExternalID:   "t-1",
		Prompt:       "stone well",
		ResultURI:    "https://cdn/well.glb",
		Provider:     domain.ProviderModel,
		CanonicalKey: "well",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	svc, err := Build(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer svc.Close()

	report, err := svc.Reconcile(ctx, logger)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Restored != 1 {
		t.Fatalf("report = %+v", report)
	}
	out, err := svc.Orchestrator.Generate(ctx, domain.GenerationRequest{RawPrompt: "stone well", Provider: domain.ProviderModel})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Source != domain.SourceCache || out.Artifact.ArtifactLocation != "https://cdn/well.glb" {
		t.Fatalf("outcome = %+v", out)
	}
	if used := svc.Ledger.Snapshot("model").Used; used != 0 {
		t.Fatalf("quota used = %d", used)
	}
}

func TestBuildRejectsUnknownStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.ArtifactStore = "etcd"
	if _, err := Build(context.Background(), cfg, zerolog.New(io.Discard)); err == nil {
		t.Fatalf("expected error for unknown store")
	}
}
