package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"assetforge/internal/domain"
	"assetforge/internal/infra"
	"assetforge/internal/sqlinline"
)

// ArtifactRepositoryPG implements domain.ArtifactRepository on PostgreSQL.
// Containment matching runs inside the query.
type ArtifactRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewArtifactRepository creates a new artifact repository backed by PostgreSQL.
func NewArtifactRepository(sql infra.SQLExecutor) *ArtifactRepositoryPG {
	return &ArtifactRepositoryPG{sql: sql}
}

// EnsureSchema creates the artifacts table when missing.
func (r *ArtifactRepositoryPG) EnsureSchema(ctx context.Context) error {
	_, err := r.sql.Exec(ctx, sqlinline.QCreateArtifactsTable)
	return err
}

// FindByKeyOrPromptContains returns the best match or nil.
func (r *ArtifactRepositoryPG) FindByKeyOrPromptContains(ctx context.Context, provider domain.Provider, key, prompt string) (*domain.CachedArtifact, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QFindArtifact, string(provider), key, prompt)
	rec, err := scanArtifact(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// UpsertByKey inserts the record or merges prompts into the existing row.
func (r *ArtifactRepositoryPG) UpsertByKey(ctx context.Context, record *domain.CachedArtifact) (*domain.CachedArtifact, error) {
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	prompts := record.RawPromptsSeen
	if prompts == nil {
		prompts = []string{}
	}
	row := r.sql.QueryRow(ctx, sqlinline.QUpsertArtifact,
		id,
		string(record.Provider),
		record.CanonicalKey,
		prompts,
		record.ArtifactLocation,
		record.ProviderID,
	)
	return scanArtifact(row)
}

// List returns the newest records for a provider.
func (r *ArtifactRepositoryPG) List(ctx context.Context, provider domain.Provider, limit int) ([]domain.CachedArtifact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListArtifacts, string(provider), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CachedArtifact
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanArtifact(row pgx.Row) (*domain.CachedArtifact, error) {
	var (
		rec       domain.CachedArtifact
		provider  string
		prompts   []string
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&rec.ID,
		&provider,
		&rec.CanonicalKey,
		&prompts,
		&rec.ArtifactLocation,
		&rec.ProviderID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	rec.Provider = domain.Provider(provider)
	rec.RawPromptsSeen = prompts
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	return &rec, nil
}

var _ domain.ArtifactRepository = (*ArtifactRepositoryPG)(nil)
