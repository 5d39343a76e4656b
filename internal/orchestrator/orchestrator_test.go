package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"assetforge/internal/cache"
	"assetforge/internal/domain"
	"assetforge/internal/inflight"
	"assetforge/internal/providers/generator"
	"assetforge/internal/providers/prompt"
	"assetforge/internal/quota"
	"assetforge/internal/storage"
)

type stubNormalizer struct {
	keys  map[string]string
	calls atomic.Int32
}

func (s *stubNormalizer) Reduce(ctx context.Context, provider domain.Provider, rawPrompt string) string {
	s.calls.Add(1)
	if key, ok := s.keys[rawPrompt]; ok {
		return key
	}
	return strings.ToLower(strings.TrimSpace(rawPrompt))
}

type stubEnricher struct {
	calls atomic.Int32
	err   error
}

func (s *stubEnricher) Expand(ctx context.Context, req prompt.ExpandRequest) (*prompt.ExpandResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &prompt.ExpandResult{Prompt: "enriched " + req.Prompt, Provider: "stub"}, nil
}

// stubGenerator answers Status from a script; the last step repeats.
type stubGenerator struct {
	mu        sync.Mutex
	submits   atomic.Int32
	polls     atomic.Int32
	submitErr error
	release   chan struct{}
	steps     []statusStep
	prompts   []string
}

type statusStep struct {
	status   domain.RemoteStatus
	location string
	err      error
}

func (g *stubGenerator) Submit(ctx context.Context, req generator.SubmitRequest) (string, error) {
	n := g.submits.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, req.Prompt)
	g.mu.Unlock()
	if g.release != nil {
		<-g.release
	}
	if g.submitErr != nil {
		return "", g.submitErr
	}
	return fmt.Sprintf("task-%d", n), nil
}

func (g *stubGenerator) Status(ctx context.Context, externalID string) (*domain.RemoteJob, error) {
	n := int(g.polls.Add(1))
	step := g.steps[len(g.steps)-1]
	if n <= len(g.steps) {
		step = g.steps[n-1]
	}
	if step.err != nil {
		return nil, step.err
	}
	return &domain.RemoteJob{ExternalID: externalID, Status: step.status, ResultLocation: step.location}, nil
}

type memoryRecovery struct {
	mu      sync.Mutex
	entries []storage.RecoveryEntry
}

func (m *memoryRecovery) Append(ctx context.Context, e storage.RecoveryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryRecovery) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type fixture struct {
	orch       *Orchestrator
	ledger     *quota.Ledger
	repo       *cache.MemoryRepository
	cache      *cache.ArtifactCache
	registry   *inflight.Registry
	normalizer *stubNormalizer
	enricher   *stubEnricher
	model      *stubGenerator
	skybox     *stubGenerator
	recovery   *memoryRecovery
}

func newFixture(t *testing.T, limits map[string]int) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	f := &fixture{
		ledger:     quota.NewLedger(limits),
		repo:       cache.NewMemoryRepository(),
		registry:   inflight.NewRegistry(),
		normalizer: &stubNormalizer{keys: map[string]string{}},
		enricher:   &stubEnricher{},
		model:      &stubGenerator{steps: []statusStep{{status: domain.RemoteStatusSuccess, location: "https://cdn/model.glb"}}},
		skybox:     &stubGenerator{steps: []statusStep{{status: domain.RemoteStatusSuccess, location: "https://cdn/sky.png"}}},
		recovery:   &memoryRecovery{},
	}
	f.cache = cache.New(f.repo, logger)
	orch, err := New(Dependencies{
		Ledger:     f.ledger,
		Normalizer: f.normalizer,
		Cache:      f.cache,
		Registry:   f.registry,
		Enricher:   f.enricher,
		Generators: map[domain.Provider]Generator{
			domain.ProviderModel:  f.model,
			domain.ProviderSkybox: f.skybox,
		},
		Policies: map[domain.Provider]PollPolicy{
			domain.ProviderModel:  {Interval: time.Millisecond, MaxAttempts: 5},
			domain.ProviderSkybox: {Interval: time.Millisecond, MaxElapsed: 50 * time.Millisecond},
		},
		Recovery: f.recovery,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.orch = orch
	return f
}

func defaultLimits() map[string]int {
	return map[string]int{"model": 10, "skybox": 10}
}

func waitIdle(t *testing.T, r *inflight.Registry) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.InFlight() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("registry still has %d jobs", r.InFlight())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConcurrentEquivalentPromptsShareOneSubmission(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.normalizer.keys["wooden chair"] = "chair"
	f.normalizer.keys["a sturdy wooden chair"] = "chair"
	f.model.release = make(chan struct{})

	prompts := []string{"wooden chair", "a sturdy wooden chair", "wooden chair", "a sturdy wooden chair"}
	outcomes := make([]*domain.Outcome, len(prompts))
	errs := make([]error, len(prompts))
	var wg sync.WaitGroup
	for i, p := range prompts {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			outcomes[i], errs[i] = f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: p, Provider: domain.ProviderModel})
		}(i, p)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.normalizer.calls.Load() < int32(len(prompts)) {
		if time.Now().After(deadline) {
			t.Fatalf("callers never reached normalization")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(f.model.release)
	wg.Wait()

	if got := f.model.submits.Load(); got != 1 {
		t.Fatalf("submissions = %d, want 1", got)
	}
	starters := 0
	for i := range prompts {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if outcomes[i].Artifact.ArtifactLocation != "https://cdn/model.glb" {
			t.Fatalf("caller %d location = %q", i, outcomes[i].Artifact.ArtifactLocation)
		}
		if outcomes[i].Source == domain.SourceGenerated {
			starters++
		}
	}
	if starters != 1 {
		t.Fatalf("starters = %d, want 1", starters)
	}
	if used := f.ledger.Snapshot("model").Used; used != 1 {
		t.Fatalf("quota used = %d, want 1", used)
	}
	if f.registry.InFlight() != 0 {
		t.Fatalf("registry not drained")
	}
}

func TestCachedPromptShortCircuits(t *testing.T) {
	f := newFixture(t, defaultLimits())
	if _, err := f.cache.Store(context.Background(), domain.ProviderModel, "sword", "sword", "https://cdn/sword.glb", "t-0"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	f.normalizer.keys["a rusty iron sword"] = "sword"

	out, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "a rusty iron sword", Provider: domain.ProviderModel})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Source != domain.SourceCache || out.Artifact.ArtifactLocation != "https://cdn/sword.glb" {
		t.Fatalf("outcome = %+v", out)
	}
	if f.model.submits.Load() != 0 || f.enricher.calls.Load() != 0 {
		t.Fatalf("cache hit reached the generator")
	}
	if used := f.ledger.Snapshot("model").Used; used != 0 {
		t.Fatalf("quota used = %d, want 0", used)
	}
}

func TestQuotaExhaustedStopsBeforeAnyWork(t *testing.T) {
	f := newFixture(t, map[string]int{"model": 1, "skybox": 1})
	if err := f.ledger.Consume("model"); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	_, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "desk", Provider: domain.ProviderModel})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("error = %v, want ErrQuotaExceeded", err)
	}
	if domain.CodeOf(err) != domain.CodeQuotaExceeded {
		t.Fatalf("code = %q", domain.CodeOf(err))
	}
	if f.normalizer.calls.Load() != 0 || f.enricher.calls.Load() != 0 || f.model.submits.Load() != 0 {
		t.Fatalf("work happened after quota denial")
	}
	if used := f.ledger.Snapshot("model").Used; used != 1 {
		t.Fatalf("quota used = %d, want 1", used)
	}
}

func TestPollingTimeoutLeavesNoCacheAndAllowsRetry(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.model.steps = []statusStep{{status: domain.RemoteStatusRunning}}

	_, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "lamp", Provider: domain.ProviderModel})
	if !errors.Is(err, domain.ErrGenerationTimeout) {
		t.Fatalf("error = %v, want ErrGenerationTimeout", err)
	}
	if polls := f.model.polls.Load(); polls != 5 {
		t.Fatalf("polls = %d, want 5", polls)
	}
	if f.repo.Len() != 0 || f.recovery.len() != 0 {
		t.Fatalf("timeout wrote a result")
	}
	if f.registry.InFlight() != 0 {
		t.Fatalf("registry entry left behind")
	}

	f.model.polls.Store(0)
	f.model.steps = []statusStep{{status: domain.RemoteStatusSuccess, location: "https://cdn/lamp.glb"}}
	out, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "lamp", Provider: domain.ProviderModel})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.Source != domain.SourceGenerated || f.model.submits.Load() != 2 {
		t.Fatalf("retry did not start a fresh job: %+v submits=%d", out, f.model.submits.Load())
	}
}

func TestInsufficientCreditKeepsConsumedQuota(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.model.submitErr = fmt.Errorf("%w: no funds", domain.ErrInsufficientCredit)

	_, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "throne", Provider: domain.ProviderModel})
	if domain.CodeOf(err) != domain.CodeInsufficientCredit {
		t.Fatalf("code = %q (err %v)", domain.CodeOf(err), err)
	}
	if used := f.ledger.Snapshot("model").Used; used != 1 {
		t.Fatalf("quota used = %d, want 1", used)
	}
	if f.model.polls.Load() != 0 {
		t.Fatalf("failed submission was polled")
	}
}

func TestTransientPollFailuresConsumeAttempts(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.model.steps = []statusStep{
		{err: fmt.Errorf("%w: status 503", generator.ErrUnavailable)},
		{status: domain.RemoteStatusQueued},
		{err: fmt.Errorf("%w: connection reset", generator.ErrUnavailable)},
		{status: domain.RemoteStatusSuccess, location: "https://cdn/crate.glb"},
	}
	out, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "crate", Provider: domain.ProviderModel})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Artifact.ArtifactLocation != "https://cdn/crate.glb" || f.model.polls.Load() != 4 {
		t.Fatalf("outcome = %+v polls = %d", out, f.model.polls.Load())
	}
}

func TestPollErrorsEndTheJob(t *testing.T) {
	cases := []struct {
		name string
		step statusStep
		want error
	}{
		{name: "parse", step: statusStep{err: fmt.Errorf("%w: bad json", domain.ErrUpstreamParse)}, want: domain.ErrUpstreamParse},
		{name: "failed", step: statusStep{status: domain.RemoteStatusFailed}, want: domain.ErrGenerationFailed},
		{name: "cancelled", step: statusStep{status: domain.RemoteStatusCancelled}, want: domain.ErrGenerationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, defaultLimits())
			f.model.steps = []statusStep{tc.step}
			_, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "door", Provider: domain.ProviderModel})
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			if f.model.polls.Load() != 1 {
				t.Fatalf("polls = %d, want 1", f.model.polls.Load())
			}
			if f.repo.Len() != 0 {
				t.Fatalf("failure wrote to cache")
			}
		})
	}
}

func TestSkyboxPollingBoundedByElapsedTime(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.skybox.steps = []statusStep{{status: domain.RemoteStatusRunning}}

	start := time.Now()
	_, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "stormy sea", Provider: domain.ProviderSkybox})
	if !errors.Is(err, domain.ErrGenerationTimeout) {
		t.Fatalf("error = %v, want ErrGenerationTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("elapsed bound not honoured")
	}
	if f.skybox.polls.Load() < 2 {
		t.Fatalf("polls = %d, expected several", f.skybox.polls.Load())
	}
}

func TestSuccessWritesCacheAndRecoveryLog(t *testing.T) {
	f := newFixture(t, defaultLimits())
	out, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "Oak Barrel", Provider: domain.ProviderModel})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.CanonicalKey != "oak barrel" {
		t.Fatalf("key = %q", out.CanonicalKey)
	}
	if f.repo.Len() != 1 || f.recovery.len() != 1 {
		t.Fatalf("repo = %d recovery = %d", f.repo.Len(), f.recovery.len())
	}
	e := f.recovery.entries[0]
	if e.ExternalID != "task-1" || e.Prompt != "Oak Barrel" || e.ResultURI != "https://cdn/model.glb" || e.CanonicalKey != "oak barrel" {
		t.Fatalf("recovery entry = %+v", e)
	}
	if len(f.model.prompts) != 1 || f.model.prompts[0] != "enriched Oak Barrel" {
		t.Fatalf("submitted prompts = %v", f.model.prompts)
	}
}

func TestEnricherFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.enricher.err = errors.New("llm down")
	if _, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "chair", Provider: domain.ProviderModel}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(f.model.prompts[0], "backrest") {
		t.Fatalf("expected static description, got %q", f.model.prompts[0])
	}
}

func TestCallerLeavingDoesNotAbortJob(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.model.release = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Generate(ctx, domain.GenerationRequest{RawPrompt: "tree", Provider: domain.ProviderModel})
		done <- err
	}()
	for f.model.submits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	close(f.model.release)
	waitIdle(t, f.registry)

	hit, err := f.cache.Lookup(context.Background(), domain.ProviderModel, "tree", "tree")
	if err != nil || hit == nil {
		t.Fatalf("job did not complete after caller left: %v", err)
	}
}

func TestGenerateValidatesInput(t *testing.T) {
	f := newFixture(t, defaultLimits())
	if _, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "  ", Provider: domain.ProviderModel}); !errors.Is(err, domain.ErrInvalidPrompt) {
		t.Fatalf("empty prompt error = %v", err)
	}
	if _, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "cube", Provider: "voxel"}); !errors.Is(err, domain.ErrUnknownProvider) {
		t.Fatalf("unknown provider error = %v", err)
	}
}

func TestKeysAreScopedPerProvider(t *testing.T) {
	f := newFixture(t, defaultLimits())
	if _, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "forest", Provider: domain.ProviderModel}); err != nil {
		t.Fatalf("model: %v", err)
	}
	out, err := f.orch.Generate(context.Background(), domain.GenerationRequest{RawPrompt: "forest", Provider: domain.ProviderSkybox})
	if err != nil {
		t.Fatalf("skybox: %v", err)
	}
	if out.Source != domain.SourceGenerated || out.Artifact.ArtifactLocation != "https://cdn/sky.png" {
		t.Fatalf("skybox reused a model artifact: %+v", out)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
