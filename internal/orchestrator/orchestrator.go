// Package orchestrator drives a generation request from quota check to a
// cached artifact, making sure each concept is paid for at most once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"assetforge/internal/cache"
	"assetforge/internal/domain"
	"assetforge/internal/inflight"
	"assetforge/internal/infra"
	"assetforge/internal/providers/generator"
	"assetforge/internal/providers/prompt"
	"assetforge/internal/quota"
	"assetforge/internal/storage"
)

// Normalizer reduces a raw prompt to its canonical key.
type Normalizer interface {
	Reduce(ctx context.Context, provider domain.Provider, rawPrompt string) string
}

// Generator is one external submit-then-poll endpoint.
type Generator interface {
	Submit(ctx context.Context, req generator.SubmitRequest) (string, error)
	Status(ctx context.Context, externalID string) (*domain.RemoteJob, error)
}

// RecoveryLog receives one entry per successful generation.
type RecoveryLog interface {
	Append(ctx context.Context, entry storage.RecoveryEntry) error
}

// Dependencies are the collaborators of an Orchestrator. Every field except
// Recovery is required.
type Dependencies struct {
	Ledger     *quota.Ledger
	Normalizer Normalizer
	Cache      *cache.ArtifactCache
	Registry   *inflight.Registry
	Enricher   prompt.Expander
	Generators map[domain.Provider]Generator
	Policies   map[domain.Provider]PollPolicy
	Recovery   RecoveryLog
	Logger     infra.Logger
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	ledger     *quota.Ledger
	normalizer Normalizer
	cache      *cache.ArtifactCache
	registry   *inflight.Registry
	enricher   prompt.Expander
	generators map[domain.Provider]Generator
	policies   map[domain.Provider]PollPolicy
	recovery   RecoveryLog
	logger     infra.Logger
	now        func() time.Time
}

// New validates deps and builds an Orchestrator.
func New(deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("orchestrator: ledger is required")
	case deps.Normalizer == nil:
		return nil, errors.New("orchestrator: normalizer is required")
	case deps.Cache == nil:
		return nil, errors.New("orchestrator: cache is required")
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	case len(deps.Generators) == 0:
		return nil, errors.New("orchestrator: at least one generator is required")
	}
	enricher := deps.Enricher
	if enricher == nil {
		enricher = prompt.NewStaticExpander()
	}
	policies := make(map[domain.Provider]PollPolicy, len(deps.Generators))
	for provider := range deps.Generators {
		policies[provider] = deps.Policies[provider].withDefaults()
	}
	return &Orchestrator{
		ledger:     deps.Ledger,
		normalizer: deps.Normalizer,
		cache:      deps.Cache,
		registry:   deps.Registry,
		enricher:   enricher,
		generators: deps.Generators,
		policies:   policies,
		recovery:   deps.Recovery,
		logger:     deps.Logger,
		now:        time.Now,
	}, nil
}

// Generate returns a reusable artifact for req. A cache hit returns at once;
// otherwise the caller either starts the single job for the canonical key or
// joins the one already running. Leaving early (ctx done) does not stop a
// started job.
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.Outcome, error) {
	rawPrompt := strings.TrimSpace(req.RawPrompt)
	if rawPrompt == "" {
		return nil, domain.ErrInvalidPrompt
	}
	gen, ok := o.generators[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, req.Provider)
	}
	provider := string(req.Provider)

	if decision := o.ledger.CheckAllowed(provider); !decision.Allowed {
		return nil, fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, decision.Message)
	}

	key := o.normalizer.Reduce(ctx, req.Provider, rawPrompt)
	log := o.logger.With().
		Str("provider", provider).
		Str("canonical_key", key).
		Logger()

	hit, err := o.cache.Lookup(ctx, req.Provider, key, rawPrompt)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		log.Info().Str("artifact_id", hit.ID).Msg("orchestrator: cache hit")
		return &domain.Outcome{CanonicalKey: key, Source: domain.SourceCache, Artifact: hit}, nil
	}

	ticket, err := o.registry.JoinOrStart(flightKey(req.Provider, key), func() error {
		return o.ledger.Consume(provider)
	})
	if err != nil {
		return nil, err
	}

	source := domain.SourceJoined
	if ticket.IsStarter {
		source = domain.SourceGenerated
		log.Info().Msg("orchestrator: starting generation")
		jobCtx := context.WithoutCancel(ctx)
		go o.runJob(jobCtx, log, gen, ticket.Key, job{
			provider:  req.Provider,
			key:       key,
			rawPrompt: rawPrompt,
			options:   req.Options,
		})
	} else {
		log.Info().Time("started_at", ticket.StartedAt).Msg("orchestrator: joining in-flight generation")
	}

	res, err := ticket.Future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Reused && ticket.IsStarter {
		source = domain.SourceCache
	}
	return &domain.Outcome{CanonicalKey: key, Source: source, Artifact: res.Artifact.Clone()}, nil
}

type job struct {
	provider  domain.Provider
	key       string
	rawPrompt string
	options   map[string]any
}

// runJob owns the registry entry for flight. It always settles it, also on
// panic, so joiners are never left waiting.
func (o *Orchestrator) runJob(ctx context.Context, log zerolog.Logger, gen Generator, flight string, j job) {
	var res inflight.Result
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("orchestrator: job panicked")
			res = inflight.Result{Err: fmt.Errorf("%w: internal error", domain.ErrGenerationFailed)}
		}
		o.registry.Settle(flight, res)
	}()

	if hit := o.recheckCache(ctx, log, j); hit != nil {
		res = inflight.Result{Artifact: hit, Reused: true}
		return
	}
	artifact, err := o.execute(ctx, log, gen, j)
	if err != nil {
		log.Warn().Err(err).Str("code", domain.CodeOf(err)).Msg("orchestrator: generation failed")
		res = inflight.Result{Err: err}
		return
	}
	res = inflight.Result{Artifact: artifact}
}

// recheckCache closes the window between the caller's lookup miss and taking
// the registry slot, during which another job may have stored the artifact.
// The quota unit is already spent; the paid submission is not.
func (o *Orchestrator) recheckCache(ctx context.Context, log zerolog.Logger, j job) *domain.CachedArtifact {
	hit, err := o.cache.Lookup(ctx, j.provider, j.key, j.rawPrompt)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: cache recheck failed, submitting")
		return nil
	}
	if hit != nil {
		log.Info().Str("artifact_id", hit.ID).Msg("orchestrator: artifact stored meanwhile, skipping submission")
	}
	return hit
}

func (o *Orchestrator) execute(ctx context.Context, log zerolog.Logger, gen Generator, j job) (*domain.CachedArtifact, error) {
	started := o.now()
	enriched := o.enrich(ctx, log, j)

	externalID, err := gen.Submit(ctx, generator.SubmitRequest{
		Prompt:   enriched,
		Provider: j.provider,
		Options:  j.options,
	})
	if err != nil {
		return nil, err
	}
	log = log.With().Str("external_id", externalID).Logger()
	log.Info().Msg("orchestrator: submitted")

	remote, err := o.poll(ctx, log, gen, o.policies[j.provider], externalID)
	if err != nil {
		return nil, err
	}

	artifact, err := o.cache.Store(ctx, j.provider, j.key, j.rawPrompt, remote.ResultLocation, externalID)
	if err != nil {
		// The recovery log below still carries the result for the next reconcile.
		log.Error().Err(err).Msg("orchestrator: cache store failed")
		artifact = &domain.CachedArtifact{
			CanonicalKey:     j.key,
			Provider:         j.provider,
			RawPromptsSeen:   []string{j.rawPrompt},
			ArtifactLocation: remote.ResultLocation,
			ProviderID:       externalID,
			CreatedAt:        o.now().UTC(),
			UpdatedAt:        o.now().UTC(),
		}
	}
	o.appendRecovery(ctx, log, j, externalID, remote.ResultLocation)

	log.Info().
		Str("location", remote.ResultLocation).
		Dur("elapsed", o.now().Sub(started)).
		Msg("orchestrator: generation complete")
	return artifact, nil
}

func (o *Orchestrator) enrich(ctx context.Context, log zerolog.Logger, j job) string {
	res, err := o.enricher.Expand(ctx, prompt.ExpandRequest{Prompt: j.rawPrompt, Provider: j.provider})
	if err != nil || res == nil || strings.TrimSpace(res.Prompt) == "" {
		log.Warn().Err(err).Msg("orchestrator: enrichment unavailable, using static rules")
		res, _ = prompt.NewStaticExpander().Expand(ctx, prompt.ExpandRequest{Prompt: j.rawPrompt, Provider: j.provider})
	}
	ev := log.Debug().Str("enricher", res.Provider)
	if reason := res.Metadata["fallback_reason"]; reason != "" {
		ev = ev.Str("fallback_reason", reason)
	}
	ev.Msg("orchestrator: prompt enriched")
	return res.Prompt
}

func (o *Orchestrator) appendRecovery(ctx context.Context, log zerolog.Logger, j job, externalID, location string) {
	if o.recovery == nil {
		return
	}
	err := o.recovery.Append(ctx, storage.RecoveryEntry{
		Timestamp:    o.now(),
		Status:       domain.RemoteStatusSuccess,
		ExternalID:   externalID,
		Prompt:       j.rawPrompt,
		ResultURI:    location,
		Provider:     j.provider,
		CanonicalKey: j.key,
	})
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: recovery log append failed")
	}
}

// InFlight reports the number of running jobs.
func (o *Orchestrator) InFlight() int {
	return o.registry.InFlight()
}

// Providers lists the providers this orchestrator can generate for.
func (o *Orchestrator) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(o.generators))
	for p := range o.generators {
		out = append(out, p)
	}
	return out
}

// Canonical keys are only unique per provider.
func flightKey(provider domain.Provider, key string) string {
	return string(provider) + ":" + key
}
