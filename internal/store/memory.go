package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/capgain/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	simulations map[string]*model.Simulation
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		simulations: make(map[string]*model.Simulation),
	}
}

func (s *MemoryStore) CreateSimulation(_ context.Context, sim *model.Simulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.simulations[sim.ID]; ok {
		return fmt.Errorf("simulation %s already exists", sim.ID)
	}

	// Store a copy to avoid external mutation.
	s.simulations[sim.ID] = cloneSimulation(sim, true)
	return nil
}

func (s *MemoryStore) GetSimulation(_ context.Context, id string) (*model.Simulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sim, ok := s.simulations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneSimulation(sim, true), nil
}

func (s *MemoryStore) ListSimulations(_ context.Context) ([]model.Simulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sims := make([]model.Simulation, 0, len(s.simulations))
	for _, sim := range s.simulations {
		sims = append(sims, *cloneSimulation(sim, false))
	}
	sort.Slice(sims, func(i, j int) bool {
		return sims[i].CreatedAt.After(sims[j].CreatedAt)
	})
	return sims, nil
}

func (s *MemoryStore) AppendEntries(_ context.Context, id string, wallet model.WalletState, entries []model.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sim, ok := s.simulations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := len(sim.Entries) + 1
	for i, e := range entries {
		if e.Seq != next+i {
			return fmt.Errorf("%w: simulation %s: entry seq %d out of order, expected %d", ErrConflict, id, e.Seq, next+i)
		}
	}

	sim.Entries = append(sim.Entries, entries...)
	sim.Wallet = wallet
	sim.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneSimulation(sim *model.Simulation, withEntries bool) *model.Simulation {
	c := *sim
	c.Entries = nil
	if withEntries && len(sim.Entries) > 0 {
		c.Entries = append([]model.Entry(nil), sim.Entries...)
	}
	return &c
}
