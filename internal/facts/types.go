package facts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"concord/internal/temporal"
	"concord/pkg/platform/sentinel"
)

const typeCacheTTL = 12 * time.Hour

// TypeRegistry resolves fact types by natural key, creating them lazily on
// first sighting. Resolved surrogate ids are cached in Redis because type rows
// are consulted on every observation; the registry degrades to store lookups
// when no cache is configured.
type TypeRegistry struct {
	store  Store
	cache  *redis.Client
	logger *slog.Logger
}

func NewTypeRegistry(store Store, cache *redis.Client, logger *slog.Logger) *TypeRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &TypeRegistry{store: store, cache: cache, logger: logger}
}

// GetOrCreate returns the type row for the natural key, creating a skeleton
// row on first sighting and folding newly-learned display metadata into an
// existing one.
func (r *TypeRegistry) GetOrCreate(ctx context.Context, key TypeKey, sourceSystem, name, unit, valueKind string, eventTime, storedFrom time.Time) (*FactType, error) {
	if id, ok := r.cachedID(ctx, key); ok {
		if existing, err := r.store.Types().GetCurrentLive(ctx, key); err == nil && existing.ID == id {
			return r.refresh(ctx, key, existing, name, unit, valueKind, eventTime, storedFrom)
		}
	}

	existing, err := r.store.Types().GetCurrentLive(ctx, key)
	if err == nil {
		r.cacheID(ctx, key, existing.ID)
		return r.refresh(ctx, key, existing, name, unit, valueKind, eventTime, storedFrom)
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	created := &FactType{
		ID:           uuid.New(),
		Scope:        key.Scope,
		Code:         key.Code,
		SourceSystem: sourceSystem,
		Name:         name,
		Unit:         unit,
		ValueKind:    valueKind,
	}
	created.ValidFrom = eventTime
	created.StoredFrom = storedFrom
	if err := r.store.Types().InsertLive(ctx, key, created); err != nil {
		return nil, err
	}
	r.cacheID(ctx, key, created.ID)
	r.logger.Info("created fact type", "scope", key.Scope, "code", key.Code)
	return created, nil
}

// refresh folds later-learned metadata into the type row. The surrogate id is
// stable across versions.
func (r *TypeRegistry) refresh(ctx context.Context, key TypeKey, current *FactType, name, unit, valueKind string, eventTime, storedFrom time.Time) (*FactType, error) {
	_, err := temporal.Upsert(ctx, r.store.Types(), key,
		func() *FactType { return current.Copy() },
		func(rs *temporal.RowState[*FactType]) error {
			t := rs.Entity()
			if name != "" {
				temporal.Assign(rs, name, t.Name, func(v string) { t.Name = v })
			}
			if unit != "" {
				temporal.Assign(rs, unit, t.Unit, func(v string) { t.Unit = v })
			}
			if valueKind != "" {
				temporal.Assign(rs, valueKind, t.ValueKind, func(v string) { t.ValueKind = v })
			}
			return nil
		},
		eventTime, storedFrom,
	)
	if err != nil {
		return nil, err
	}
	return r.store.Types().GetCurrentLive(ctx, key)
}

func (r *TypeRegistry) cachedID(ctx context.Context, key TypeKey) (uuid.UUID, bool) {
	if r.cache == nil {
		return uuid.Nil, false
	}
	raw, err := r.cache.Get(ctx, cacheKey(key)).Result()
	if err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (r *TypeRegistry) cacheID(ctx context.Context, key TypeKey, id uuid.UUID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(key), id.String(), typeCacheTTL).Err(); err != nil {
		r.logger.Warn("fact type cache write failed", "key", key.String(), "error", err)
	}
}

func cacheKey(key TypeKey) string {
	return "concord:fact-type:" + key.String()
}
