package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"assetforge/internal/domain"
	"assetforge/internal/providers/generator"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultPollMaxAttempts = 60
)

// PollPolicy bounds the polling of one provider. Polling stops at whichever
// bound is hit first; a zero bound is ignored. With both bounds zero the
// default attempt cap applies.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	MaxElapsed  time.Duration
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = defaultPollInterval
	}
	if p.MaxAttempts <= 0 && p.MaxElapsed <= 0 {
		p.MaxAttempts = defaultPollMaxAttempts
	}
	return p
}

func (p PollPolicy) exhausted(attempts int, elapsed time.Duration) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	return p.MaxElapsed > 0 && elapsed >= p.MaxElapsed
}

// poll waits one interval before every status read. Transient read failures
// use up an attempt; parse errors and terminal failures end the job.
func (o *Orchestrator) poll(ctx context.Context, log zerolog.Logger, gen Generator, policy PollPolicy, externalID string) (*domain.RemoteJob, error) {
	started := o.now()
	timer := time.NewTimer(policy.Interval)
	defer timer.Stop()

	attempts := 0
	for {
		if policy.exhausted(attempts, o.now().Sub(started)) {
			return nil, fmt.Errorf("%w: %s after %d polls", domain.ErrGenerationTimeout, externalID, attempts)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrGenerationTimeout, ctx.Err())
		case <-timer.C:
		}
		attempts++

		remote, err := gen.Status(ctx, externalID)
		switch {
		case errors.Is(err, generator.ErrUnavailable):
			log.Warn().Err(err).Int("attempt", attempts).Msg("orchestrator: status read failed")
		case err != nil:
			return nil, err
		default:
			log.Debug().Int("attempt", attempts).Str("status", string(remote.Status)).Msg("orchestrator: polled")
			switch remote.Status {
			case domain.RemoteStatusSuccess:
				if remote.ResultLocation == "" {
					return nil, fmt.Errorf("%w: success without result location", domain.ErrUpstreamParse)
				}
				return remote, nil
			case domain.RemoteStatusFailed, domain.RemoteStatusCancelled:
				return nil, fmt.Errorf("%w: %s %s: %s", domain.ErrGenerationFailed, externalID, remote.Status, remote.Message)
			case domain.RemoteStatusTimeout:
				return nil, fmt.Errorf("%w: %s reported by vendor", domain.ErrGenerationTimeout, externalID)
			}
		}
		timer.Reset(policy.Interval)
	}
}
