package identifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Repository persists legacy sequences and aliases.
type Repository interface {
	NextSequence(ctx context.Context, kind Kind) (int64, error)
	SaveAlias(ctx context.Context, kind Kind, id uuid.UUID, legacy string) error
	LookupAlias(ctx context.Context, kind Kind, legacy string) (uuid.UUID, error)
	LegacyFor(ctx context.Context, kind Kind, id uuid.UUID) (string, error)
}

// Registry issues identities and resolves external references to canonical keys.
type Registry struct {
	repo   Repository
	cache  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	newID  func() uuid.UUID
}

// NewRegistry constructs a Registry. cache may be nil.
func NewRegistry(repo Repository, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, cache: cache, ttl: ttl, logger: logger, newID: uuid.New}
}

// Issue allocates a new identity for kind. A legacy number whose entity is never
// persisted stays reserved; gaps in the sequence are expected.
func (r *Registry) Issue(ctx context.Context, kind Kind) (Identity, error) {
	if !kind.Valid() {
		return Identity{}, fmt.Errorf("%w: unknown identifier kind %q", shared.ErrValidation, kind)
	}
	seq, err := r.repo.NextSequence(ctx, kind)
	if err != nil {
		return Identity{}, err
	}
	legacy, err := FormatLegacy(seq)
	if err != nil {
		return Identity{}, err
	}
	id := r.newID()
	if err := r.repo.SaveAlias(ctx, kind, id, legacy); err != nil {
		return Identity{}, err
	}
	return Identity{ID: id, Legacy: legacy}, nil
}

// Resolve accepts a uuid or a legacy number and returns the canonical key.
// A uuid is returned as-is; existence is checked by the owning component.
func (r *Registry) Resolve(ctx context.Context, kind Kind, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if id, err := ParseUUID(raw); err == nil {
		return id, nil
	}
	if err := ValidateLegacy(raw); err != nil {
		return uuid.Nil, err
	}
	key := shared.LegacyAliasCacheKey(string(kind), raw)
	if id, ok := r.cached(ctx, key); ok {
		return id, nil
	}
	res, err, _ := r.group.Do(key, func() (interface{}, error) {
		id, err := r.repo.LookupAlias(ctx, kind, raw)
		if err != nil {
			return uuid.Nil, err
		}
		r.store(ctx, key, id)
		return id, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return res.(uuid.UUID), nil
}

// Legacy returns the legacy alias of id.
func (r *Registry) Legacy(ctx context.Context, kind Kind, id uuid.UUID) (string, error) {
	return r.repo.LegacyFor(ctx, kind, id)
}

func (r *Registry) cached(ctx context.Context, key string) (uuid.UUID, bool) {
	if r.cache == nil {
		return uuid.Nil, false
	}
	raw, err := r.cache.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("identifier cache get", slog.String("key", key), slog.Any("error", err))
		}
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (r *Registry) store(ctx context.Context, key string, id uuid.UUID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, id.String(), r.ttl).Err(); err != nil {
		r.logger.Warn("identifier cache set", slog.String("key", key), slog.Any("error", err))
	}
}
