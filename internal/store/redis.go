package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/capgain/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. A miss can race with an
// append and cache a stale snapshot until the TTL expires, so callers that
// write back use Latest.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateSimulation(ctx context.Context, sim *model.Simulation) error {
	if err := s.primary.CreateSimulation(ctx, sim); err != nil {
		return err
	}
	s.cacheSimulation(ctx, sim)
	return nil
}

func (s *CachedStore) AppendEntries(ctx context.Context, id string, wallet model.WalletState, entries []model.Entry) error {
	err := s.primary.AppendEntries(ctx, id, wallet, entries)
	// Invalidate on success and on failure: a failed append may mean the
	// cached copy is behind the primary.
	s.rdb.Del(ctx, simulationKey(id))
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSimulation(ctx context.Context, id string) (*model.Simulation, error) {
	data, err := s.rdb.Get(ctx, simulationKey(id)).Bytes()
	if err == nil {
		var sim model.Simulation
		if json.Unmarshal(data, &sim) == nil {
			return &sim, nil
		}
	}

	// Cache miss: read from primary.
	sim, err := s.primary.GetSimulation(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheSimulation(ctx, sim)
	return sim, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListSimulations(ctx context.Context) ([]model.Simulation, error) {
	return s.primary.ListSimulations(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSimulation(ctx context.Context, sim *model.Simulation) {
	if data, err := json.Marshal(sim); err == nil {
		s.rdb.Set(ctx, simulationKey(sim.ID), data, s.ttl)
	}
}

func simulationKey(id string) string { return fmt.Sprintf("simulation:%s", id) }
