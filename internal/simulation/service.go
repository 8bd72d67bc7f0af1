// Package simulation provides the HTTP handlers for replaying, storing and
// resuming capital-gains simulations.
//
// All monetary values use shopspring/decimal — never float64 for money.
package simulation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/capgain/internal/batch"
	"github.com/atmx/capgain/internal/metrics"
	"github.com/atmx/capgain/internal/model"
	"github.com/atmx/capgain/internal/store"
	"github.com/atmx/capgain/internal/validation"
	"github.com/atmx/capgain/internal/wallet"
)

// Service handles simulation requests. Resuming a stored simulation is
// serialized with a mutex (single-instance); the store's sequence check
// rejects conflicting appends from other instances.
type Service struct {
	store     store.Store
	validator *validation.Validator // nil: permissive replay
	processor *batch.Processor
	mu        sync.Mutex
	wsHub     *WSHub // optional WebSocket hub for broadcasts
}

// NewService creates a new simulation service.
// Pass a nil validator for permissive replay and nil hub to disable
// WebSocket broadcasting.
func NewService(st store.Store, v *validation.Validator, proc *batch.Processor, hub *WSHub) *Service {
	return &Service{
		store:     st,
		validator: v,
		processor: proc,
		wsHub:     hub,
	}
}

// --- Response types ---

// SimulationResponse is returned when operations are replayed.
type SimulationResponse struct {
	ID      string            `json:"id"`
	Results []model.TaxResult `json:"results"`
	Wallet  model.WalletState `json:"wallet"`
}

// BatchResponse is returned from POST /batches, one result list per line.
type BatchResponse struct {
	Simulations [][]model.TaxResult `json:"simulations"`
}

// --- HTTP Handlers ---

// CreateSimulation handles POST /api/v1/simulations
// Body: JSON array of operations. Replays them on a fresh wallet and stores
// the simulation.
func (s *Service) CreateSimulation(w http.ResponseWriter, r *http.Request) {
	ops, ok := decodeOperations(w, r)
	if !ok {
		return
	}

	if !s.validate(w, model.WalletState{}, ops) {
		return
	}

	start := time.Now()
	results, state := wallet.RunFrom(model.WalletState{}, ops)
	metrics.ObserveSimulation(metrics.SourceAPI, ops, results, time.Since(start))

	now := time.Now().UTC()
	sim := &model.Simulation{
		ID:        uuid.New().String(),
		Wallet:    state,
		Entries:   newEntries(1, ops, results, now),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateSimulation(r.Context(), sim); err != nil {
		slog.Error("store simulation failed", "id", sim.ID, "err", err)
		writeError(w, "failed to store simulation", http.StatusInternalServerError)
		return
	}

	slog.Info("simulation created",
		"id", sim.ID,
		"operations", len(ops),
		"total_tax", totalTax(results).String(),
		"shares", state.Shares,
	)
	s.broadcast(EventSimulationCreated, sim.ID, len(ops), results, state)

	writeJSON(w, http.StatusCreated, SimulationResponse{ID: sim.ID, Results: results, Wallet: state})
}

// GetSimulation handles GET /api/v1/simulations/{simulationID}
func (s *Service) GetSimulation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "simulationID")

	sim, err := s.store.GetSimulation(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if sim.Entries == nil {
		sim.Entries = []model.Entry{}
	}
	writeJSON(w, http.StatusOK, sim)
}

// ListSimulations handles GET /api/v1/simulations
func (s *Service) ListSimulations(w http.ResponseWriter, r *http.Request) {
	sims, err := s.store.ListSimulations(r.Context())
	if err != nil {
		writeError(w, "failed to list simulations", http.StatusInternalServerError)
		return
	}
	if sims == nil {
		sims = []model.Simulation{}
	}
	writeJSON(w, http.StatusOK, sims)
}

// AppendOperations handles POST /api/v1/simulations/{simulationID}/operations
// Resumes the stored simulation from its persisted wallet state.
func (s *Service) AppendOperations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "simulationID")

	ops, ok := decodeOperations(w, r)
	if !ok {
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	sim, err := store.Latest(ctx, s.store, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if !s.validate(w, sim.Wallet, ops) {
		return
	}

	start := time.Now()
	results, state := wallet.RunFrom(sim.Wallet, ops)
	metrics.ObserveSimulation(metrics.SourceAPI, ops, results, time.Since(start))

	entries := newEntries(len(sim.Entries)+1, ops, results, time.Now().UTC())
	if err := s.store.AppendEntries(ctx, id, state, entries); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeStoreError(w, err)
		case errors.Is(err, store.ErrConflict):
			slog.Warn("append conflict", "id", id, "err", err)
			writeError(w, "simulation was modified concurrently, retry", http.StatusConflict)
		default:
			slog.Error("append entries failed", "id", id, "err", err)
			writeError(w, "failed to append operations", http.StatusInternalServerError)
		}
		return
	}

	slog.Info("simulation extended",
		"id", id,
		"operations", len(ops),
		"total_entries", len(sim.Entries)+len(entries),
		"total_tax", totalTax(results).String(),
	)
	s.broadcast(EventSimulationExtended, id, len(ops), results, state)

	writeJSON(w, http.StatusOK, SimulationResponse{ID: id, Results: results, Wallet: state})
}

// ProcessBatch handles POST /api/v1/batches
// Body: one JSON operation array per line, ended by a blank line or EOF.
// Results are returned in line order and not stored.
func (s *Service) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	lines, err := batch.ReadLines(r.Body)
	if err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	out, err := s.processor.Process(r.Context(), lines)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		var lerr *batch.LineError
		if errors.As(err, &lerr) {
			writeError(w, lerr.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "batch processing failed", http.StatusInternalServerError)
		return
	}

	for i := range out {
		if out[i] == nil {
			out[i] = []model.TaxResult{}
		}
	}
	writeJSON(w, http.StatusOK, BatchResponse{Simulations: out})
}

// --- Helpers ---

func (s *Service) validate(w http.ResponseWriter, state model.WalletState, ops []model.Operation) bool {
	if s.validator == nil {
		return true
	}
	if err := s.validator.CheckAll(state, ops); err != nil {
		metrics.ValidationRejections.Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return false
	}
	return true
}

func (s *Service) broadcast(kind, id string, n int, results []model.TaxResult, state model.WalletState) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:         kind,
		SimulationID: id,
		Operations:   n,
		TotalTax:     totalTax(results).String(),
		Shares:       state.Shares,
	})
}

func decodeOperations(w http.ResponseWriter, r *http.Request) ([]model.Operation, bool) {
	var ops []model.Operation
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil || ops == nil {
		writeError(w, "invalid request body: expected a JSON array of operations", http.StatusBadRequest)
		return nil, false
	}
	return ops, true
}

func newEntries(firstSeq int, ops []model.Operation, results []model.TaxResult, at time.Time) []model.Entry {
	entries := make([]model.Entry, len(ops))
	for i, op := range ops {
		entries[i] = model.Entry{
			Seq:       firstSeq + i,
			Operation: op,
			Tax:       results[i].Tax,
			CreatedAt: at,
		}
	}
	return entries
}

func totalTax(results []model.TaxResult) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range results {
		sum = sum.Add(r.Tax)
	}
	return sum
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "simulation not found", http.StatusNotFound)
		return
	}
	writeError(w, "failed to load simulation", http.StatusInternalServerError)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
