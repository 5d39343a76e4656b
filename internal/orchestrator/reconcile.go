package orchestrator

import (
	"context"
	"strings"

	"assetforge/internal/domain"
	"assetforge/internal/storage"
)

// ReconcileReport summarizes one replay of the recovery log.
type ReconcileReport struct {
	Scanned  int
	Restored int
	Present  int
	Skipped  int
}

// Reconcile replays recovery log successes that are missing from the artifact
// store. Entries written before the provider and key columns existed are
// attributed to the model provider and re-normalized.
func (o *Orchestrator) Reconcile(ctx context.Context, entries []storage.RecoveryEntry) (ReconcileReport, error) {
	var report ReconcileReport
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		if e.Status != domain.RemoteStatusSuccess || strings.TrimSpace(e.ResultURI) == "" {
			report.Skipped++
			continue
		}
		provider := e.Provider
		if provider == "" {
			provider = domain.ProviderModel
		}
		key := strings.TrimSpace(e.CanonicalKey)
		if key == "" {
			key = o.normalizer.Reduce(ctx, provider, e.Prompt)
		}

		existing, err := o.cache.LookupKey(ctx, provider, key)
		if err != nil {
			return report, err
		}
		if !needsRestore(existing, e) {
			report.Present++
			continue
		}
		if _, err := o.cache.Store(ctx, provider, key, e.Prompt, e.ResultURI, e.ExternalID); err != nil {
			return report, err
		}
		report.Restored++
		o.logger.Info().
			Str("provider", string(provider)).
			Str("canonical_key", key).
			Str("external_id", e.ExternalID).
			Msg("orchestrator: restored artifact from recovery log")
	}
	return report, nil
}

// needsRestore is true when the key has no record, or when its record is older
// than the log entry and points elsewhere. Records under other keys that
// merely resemble the prompt do not count.
func needsRestore(existing *domain.CachedArtifact, e storage.RecoveryEntry) bool {
	if existing == nil {
		return true
	}
	if existing.ArtifactLocation == e.ResultURI {
		return false
	}
	return existing.UpdatedAt.Before(e.Timestamp)
}
