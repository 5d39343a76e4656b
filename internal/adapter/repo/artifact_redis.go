package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"assetforge/internal/cache"
	"assetforge/internal/domain"
)

const redisArtifactPrefix = "assetforge:artifacts:"

// ArtifactRepositoryRedis stores one hash per provider, field = canonical key,
// value = JSON record. Fuzzy lookups scan the provider hash. Upserts assume
// the single-writer process model of the orchestrator.
type ArtifactRepositoryRedis struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewArtifactRedisRepository wraps a redis client.
func NewArtifactRedisRepository(client redis.Cmdable) *ArtifactRepositoryRedis {
	return &ArtifactRepositoryRedis{client: client, now: time.Now}
}

func redisHashKey(provider domain.Provider) string {
	return redisArtifactPrefix + string(provider)
}

// FindByKeyOrPromptContains returns the best match or nil.
func (r *ArtifactRepositoryRedis) FindByKeyOrPromptContains(ctx context.Context, provider domain.Provider, key, prompt string) (*domain.CachedArtifact, error) {
	field := strings.ToLower(strings.TrimSpace(key))
	if field != "" {
		raw, err := r.client.HGet(ctx, redisHashKey(provider), field).Result()
		switch {
		case err == nil:
			return decodeRedisArtifact(raw)
		case !errors.Is(err, redis.Nil):
			return nil, fmt.Errorf("redis hget: %w", err)
		}
	}
	all, err := r.client.HGetAll(ctx, redisHashKey(provider)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	var best *domain.CachedArtifact
	for _, raw := range all {
		rec, err := decodeRedisArtifact(raw)
		if err != nil {
			continue
		}
		if cache.Match(rec, key, prompt) == cache.NoMatch {
			continue
		}
		if best == nil || rec.UpdatedAt.After(best.UpdatedAt) {
			best = rec
		}
	}
	return best, nil
}

// UpsertByKey merges the record into the existing hash field.
func (r *ArtifactRepositoryRedis) UpsertByKey(ctx context.Context, record *domain.CachedArtifact) (*domain.CachedArtifact, error) {
	field := strings.ToLower(strings.TrimSpace(record.CanonicalKey))
	hashKey := redisHashKey(record.Provider)
	now := r.now().UTC()

	var merged *domain.CachedArtifact
	raw, err := r.client.HGet(ctx, hashKey, field).Result()
	switch {
	case err == nil:
		existing, decodeErr := decodeRedisArtifact(raw)
		if decodeErr != nil {
			return nil, decodeErr
		}
		merged = existing
		merged.ArtifactLocation = record.ArtifactLocation
		if record.ProviderID != "" {
			merged.ProviderID = record.ProviderID
		}
		for _, p := range record.RawPromptsSeen {
			merged.AddPrompt(p)
		}
	case errors.Is(err, redis.Nil):
		merged = record.Clone()
		merged.CanonicalKey = field
		if merged.ID == "" {
			merged.ID = uuid.NewString()
		}
		merged.CreatedAt = now
	default:
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	merged.UpdatedAt = now

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	if err := r.client.HSet(ctx, hashKey, field, encoded).Err(); err != nil {
		return nil, fmt.Errorf("redis hset: %w", err)
	}
	return merged, nil
}

// List returns the newest records for a provider.
func (r *ArtifactRepositoryRedis) List(ctx context.Context, provider domain.Provider, limit int) ([]domain.CachedArtifact, error) {
	all, err := r.client.HGetAll(ctx, redisHashKey(provider)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make([]domain.CachedArtifact, 0, len(all))
	for _, raw := range all {
		rec, err := decodeRedisArtifact(raw)
		if err != nil {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func decodeRedisArtifact(raw string) (*domain.CachedArtifact, error) {
	var rec domain.CachedArtifact
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &rec, nil
}

var _ domain.ArtifactRepository = (*ArtifactRepositoryRedis)(nil)
