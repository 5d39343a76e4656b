package domain

import "context"

// ArtifactRepository is the record store behind the artifact cache. Backends
// own matching: FindByKeyOrPromptContains returns the best record whose key
// equals key, or whose key/prompts contain or are contained in prompt.
type ArtifactRepository interface {
	FindByKeyOrPromptContains(ctx context.Context, provider Provider, key, prompt string) (*CachedArtifact, error)
	UpsertByKey(ctx context.Context, record *CachedArtifact) (*CachedArtifact, error)
	List(ctx context.Context, provider Provider, limit int) ([]CachedArtifact, error)
}
