package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"assetforge/internal/domain"
)

// MemoryRepository keeps artifact records in process memory. It is the
// default backend for development and the one used by tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.CachedArtifact
	now     func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*domain.CachedArtifact), now: time.Now}
}

func memoryKey(provider domain.Provider, key string) string {
	return string(provider) + ":" + fold(key)
}

// FindByKeyOrPromptContains returns the best matching record, exact key first,
// then the most recently updated fuzzy match.
func (m *MemoryRepository) FindByKeyOrPromptContains(ctx context.Context, provider domain.Provider, key, prompt string) (*domain.CachedArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[memoryKey(provider, key)]; ok {
		return rec.Clone(), nil
	}
	var best *domain.CachedArtifact
	for _, rec := range m.records {
		if rec.Provider != provider {
			continue
		}
		if Match(rec, key, prompt) == NoMatch {
			continue
		}
		if best == nil || rec.UpdatedAt.After(best.UpdatedAt) {
			best = rec
		}
	}
	return best.Clone(), nil
}

// UpsertByKey creates the record or merges it into the existing one.
func (m *MemoryRepository) UpsertByKey(ctx context.Context, record *domain.CachedArtifact) (*domain.CachedArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryKey(record.Provider, record.CanonicalKey)
	existing, ok := m.records[k]
	if !ok {
		rec := record.Clone()
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		m.records[k] = rec
		return rec.Clone(), nil
	}
	existing.ArtifactLocation = record.ArtifactLocation
	if record.ProviderID != "" {
		existing.ProviderID = record.ProviderID
	}
	for _, p := range record.RawPromptsSeen {
		existing.AddPrompt(p)
	}
	existing.UpdatedAt = now
	return existing.Clone(), nil
}

// List returns the newest records for a provider.
func (m *MemoryRepository) List(ctx context.Context, provider domain.Provider, limit int) ([]domain.CachedArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]domain.CachedArtifact, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Provider == provider {
			out = append(out, *rec.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

var _ domain.ArtifactRepository = (*MemoryRepository)(nil)
