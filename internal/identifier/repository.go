package identifier

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// PGRepository stores aliases in entity_aliases and sequences in entity_sequences.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// NextSequence increments and returns the per-kind counter.
func (r *PGRepository) NextSequence(ctx context.Context, kind Kind) (int64, error) {
	var next int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO entity_sequences (kind, last_value) VALUES ($1, 1)
		ON CONFLICT (kind) DO UPDATE SET last_value = entity_sequences.last_value + 1
		RETURNING last_value`, string(kind)).Scan(&next)
	if err != nil {
		return 0, shared.Infra("identifier: next sequence", err)
	}
	return next, nil
}

// SaveAlias records the legacy number for id.
func (r *PGRepository) SaveAlias(ctx context.Context, kind Kind, id uuid.UUID, legacy string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO entity_aliases (kind, entity_id, legacy_no) VALUES ($1, $2, $3)`, string(kind), id, legacy)
	if err != nil {
		if _, ok := shared.UniqueViolation(err); ok {
			return ErrAliasTaken
		}
		return shared.Infra("identifier: save alias", err)
	}
	return nil
}

// LookupAlias maps a legacy number back to the entity id.
func (r *PGRepository) LookupAlias(ctx context.Context, kind Kind, legacy string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT entity_id FROM entity_aliases WHERE kind=$1 AND legacy_no=$2`, string(kind), legacy).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUnknownAlias
		}
		return uuid.Nil, shared.Infra("identifier: lookup alias", err)
	}
	return id, nil
}

// LegacyFor returns the legacy number assigned to id.
func (r *PGRepository) LegacyFor(ctx context.Context, kind Kind, id uuid.UUID) (string, error) {
	var legacy string
	err := r.pool.QueryRow(ctx, `SELECT legacy_no FROM entity_aliases WHERE kind=$1 AND entity_id=$2`, string(kind), id).Scan(&legacy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUnknownAlias
		}
		return "", shared.Infra("identifier: legacy for", err)
	}
	return legacy, nil
}
