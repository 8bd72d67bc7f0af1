// Package store defines the persistence interface for simulations.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-process use).
package store

import (
	"context"
	"errors"

	"github.com/atmx/capgain/internal/model"
)

var (
	// ErrNotFound is returned when a simulation does not exist.
	ErrNotFound = errors.New("store: simulation not found")
	// ErrConflict is returned when appended entries do not continue the
	// simulation's current sequence.
	ErrConflict = errors.New("store: conflicting append")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// CreateSimulation persists a new simulation with its initial entries.
	CreateSimulation(ctx context.Context, sim *model.Simulation) error

	// GetSimulation retrieves a simulation and all its entries.
	GetSimulation(ctx context.Context, id string) (*model.Simulation, error)

	// ListSimulations returns all simulations without their entries,
	// newest first.
	ListSimulations(ctx context.Context) ([]model.Simulation, error)

	// AppendEntries appends immutable entries to a simulation and records
	// the wallet state after the last one. Entry sequence numbers must
	// continue from the simulation's current entries.
	AppendEntries(ctx context.Context, id string, wallet model.WalletState, entries []model.Entry) error
}

// Latest reads a simulation from the source of truth, bypassing any cache
// layer. Use it when the result feeds a write such as AppendEntries.
func Latest(ctx context.Context, st Store, id string) (*model.Simulation, error) {
	if c, ok := st.(*CachedStore); ok {
		return c.primary.GetSimulation(ctx, id)
	}
	return st.GetSimulation(ctx, id)
}
