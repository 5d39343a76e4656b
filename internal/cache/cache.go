// Package cache decides whether an artifact can be reused instead of paying
// for a new generation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"assetforge/internal/domain"
	"assetforge/internal/infra"
)

// ArtifactCache is the source of truth for reuse decisions. The matching rule
// stays behind domain.ArtifactRepository so it can be replaced without
// touching orchestration.
type ArtifactCache struct {
	repo   domain.ArtifactRepository
	logger infra.Logger
}

// New wraps a repository.
func New(repo domain.ArtifactRepository, logger infra.Logger) *ArtifactCache {
	return &ArtifactCache{repo: repo, logger: logger}
}

// Lookup returns a reusable artifact or nil on a miss.
func (c *ArtifactCache) Lookup(ctx context.Context, provider domain.Provider, key, rawPrompt string) (*domain.CachedArtifact, error) {
	rec, err := c.repo.FindByKeyOrPromptContains(ctx, provider, key, rawPrompt)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if rec == nil || strings.TrimSpace(rec.ArtifactLocation) == "" {
		return nil, nil
	}
	c.logger.Debug().
		Str("provider", string(provider)).
		Str("key", key).
		Str("matched_key", rec.CanonicalKey).
		Msg("cache: hit")
	return rec, nil
}

// LookupKey returns the record stored under exactly key, or nil.
func (c *ArtifactCache) LookupKey(ctx context.Context, provider domain.Provider, key string) (*domain.CachedArtifact, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	rec, err := c.repo.FindByKeyOrPromptContains(ctx, provider, key, "")
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if rec == nil || !strings.EqualFold(rec.CanonicalKey, key) {
		return nil, nil
	}
	return rec, nil
}

// Store records a successful generation. An existing record for the key is
// updated in place: location refreshed and the prompt added to the seen set.
func (c *ArtifactCache) Store(ctx context.Context, provider domain.Provider, key, rawPrompt, location, providerID string) (*domain.CachedArtifact, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("cache store: canonical key is required")
	}
	if strings.TrimSpace(location) == "" {
		return nil, errors.New("cache store: artifact location is required")
	}
	rec := &domain.CachedArtifact{
		CanonicalKey:     key,
		Provider:         provider,
		ArtifactLocation: location,
		ProviderID:       providerID,
	}
	rec.AddPrompt(rawPrompt)
	stored, err := c.repo.UpsertByKey(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}
	return stored, nil
}

// List exposes the newest records for operators.
func (c *ArtifactCache) List(ctx context.Context, provider domain.Provider, limit int) ([]domain.CachedArtifact, error) {
	return c.repo.List(ctx, provider, limit)
}
