package simulation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/capgain/internal/batch"
	"github.com/atmx/capgain/internal/model"
	"github.com/atmx/capgain/internal/simulation"
	"github.com/atmx/capgain/internal/store"
	"github.com/atmx/capgain/internal/validation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T, v *validation.Validator) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	return ms, newRouter(t, ms, v, nil)
}

func newRouter(t *testing.T, st store.Store, v *validation.Validator, hub *simulation.WSHub) chi.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proc := batch.NewProcessor(2, v, logger)
	svc := simulation.NewService(st, v, proc, hub)

	r := chi.NewRouter()
	r.Get("/api/v1/simulations", svc.ListSimulations)
	r.Post("/api/v1/simulations", svc.CreateSimulation)
	r.Get("/api/v1/simulations/{simulationID}", svc.GetSimulation)
	r.Post("/api/v1/simulations/{simulationID}/operations", svc.AppendOperations)
	r.Post("/api/v1/batches", svc.ProcessBatch)

	return r
}

func doJSON(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeSimulation(t *testing.T, w *httptest.ResponseRecorder) simulation.SimulationResponse {
	t.Helper()
	var resp simulation.SimulationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v: %s", err, w.Body.String())
	}
	return resp
}

// TaxResult marshals as a bare number; decode results through this shape.
type resultsOnly struct {
	Results []struct {
		Tax json.Number `json:"tax"`
	} `json:"results"`
}

func taxes(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var r resultsOnly
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	out := make([]string, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Tax.String()
	}
	return out
}

// --- Create ---

func TestCreateSimulation(t *testing.T) {
	ms, router := newTestEnv(t, nil)

	w := doJSON(t, router, "POST", "/api/v1/simulations",
		`[{"operation":"buy","unit-cost":10.00,"quantity":10000},{"operation":"sell","unit-cost":20.00,"quantity":5000}]`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	got := taxes(t, w)
	if len(got) != 2 || got[0] != "0" || got[1] != "10000" {
		t.Errorf("unexpected taxes: %v", got)
	}

	resp := decodeSimulation(t, w)
	if resp.ID == "" {
		t.Fatal("expected non-empty id")
	}
	if resp.Wallet.Shares != 5000 || !resp.Wallet.AveragePrice.Equal(d(10)) {
		t.Errorf("unexpected wallet: %+v", resp.Wallet)
	}

	sim, err := ms.GetSimulation(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("simulation not stored: %v", err)
	}
	if len(sim.Entries) != 2 || sim.Entries[1].Seq != 2 || !sim.Entries[1].Tax.Equal(d(10000)) {
		t.Errorf("unexpected stored entries: %+v", sim.Entries)
	}
}

func TestCreateSimulation_InvalidBody(t *testing.T) {
	_, router := newTestEnv(t, nil)
	for _, body := range []string{`not json`, `{"operation":"buy"}`, `null`} {
		w := doJSON(t, router, "POST", "/api/v1/simulations", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestCreateSimulation_StrictRejectsOverSell(t *testing.T) {
	ms, router := newTestEnv(t, validation.New())

	w := doJSON(t, router, "POST", "/api/v1/simulations",
		`[{"operation":"buy","unit-cost":10,"quantity":100},{"operation":"sell","unit-cost":10,"quantity":101}]`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "operation 2") {
		t.Errorf("error should name the operation, got %s", w.Body.String())
	}

	sims, _ := ms.ListSimulations(context.Background())
	if len(sims) != 0 {
		t.Errorf("rejected simulation must not be stored, got %d", len(sims))
	}
}

// --- Resume ---

func TestAppendOperations_ResumesFromStoredWallet(t *testing.T) {
	ms, router := newTestEnv(t, nil)

	w := doJSON(t, router, "POST", "/api/v1/simulations",
		`[{"operation":"buy","unit-cost":20.00,"quantity":10000},{"operation":"sell","unit-cost":10.00,"quantity":5000}]`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	created := decodeSimulation(t, w)
	if !created.Wallet.AccumulatedLoss.Equal(d(50000)) {
		t.Fatalf("expected loss 50000, got %s", created.Wallet.AccumulatedLoss)
	}

	w = doJSON(t, router, "POST", "/api/v1/simulations/"+created.ID+"/operations",
		`[{"operation":"sell","unit-cost":60.00,"quantity":5000}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := taxes(t, w); len(got) != 1 || got[0] != "30000" {
		t.Errorf("expected tax 30000 after loss offset, got %v", got)
	}

	resumed := decodeSimulation(t, w)
	if resumed.Wallet.Shares != 0 || !resumed.Wallet.AccumulatedLoss.IsZero() {
		t.Errorf("unexpected wallet after resume: %+v", resumed.Wallet)
	}

	sim, _ := ms.GetSimulation(context.Background(), created.ID)
	if len(sim.Entries) != 3 || sim.Entries[2].Seq != 3 {
		t.Errorf("expected 3 sequential entries, got %+v", sim.Entries)
	}
}

func TestAppendOperations_NotFound(t *testing.T) {
	_, router := newTestEnv(t, nil)
	w := doJSON(t, router, "POST", "/api/v1/simulations/missing/operations",
		`[{"operation":"buy","unit-cost":1,"quantity":1}]`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAppendOperations_StrictUsesStoredShares(t *testing.T) {
	_, router := newTestEnv(t, validation.New())

	w := doJSON(t, router, "POST", "/api/v1/simulations",
		`[{"operation":"buy","unit-cost":10,"quantity":100}]`)
	id := decodeSimulation(t, w).ID

	w = doJSON(t, router, "POST", "/api/v1/simulations/"+id+"/operations",
		`[{"operation":"sell","unit-cost":12,"quantity":100}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("selling stored shares should pass, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/simulations/"+id+"/operations",
		`[{"operation":"sell","unit-cost":12,"quantity":1}]`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 once the position is closed, got %d", w.Code)
	}
}

// appendFailStore fails every append with err.
type appendFailStore struct {
	*store.MemoryStore
	err error
}

func (s *appendFailStore) AppendEntries(context.Context, string, model.WalletState, []model.Entry) error {
	return s.err
}

func TestAppendOperations_StoreErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"conflict", fmt.Errorf("%w: entry seq 3 out of order", store.ErrConflict), http.StatusConflict},
		{"outage", errors.New("dial tcp: connection refused"), http.StatusInternalServerError},
		{"deleted", fmt.Errorf("%w: s1", store.ErrNotFound), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &appendFailStore{MemoryStore: store.NewMemoryStore(), err: tt.err}
			router := newRouter(t, st, nil, nil)

			w := doJSON(t, router, "POST", "/api/v1/simulations", `[{"operation":"buy","unit-cost":10,"quantity":10}]`)
			id := decodeSimulation(t, w).ID

			w = doJSON(t, router, "POST", "/api/v1/simulations/"+id+"/operations",
				`[{"operation":"sell","unit-cost":12,"quantity":5}]`)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

// --- Queries ---

func TestGetSimulation(t *testing.T) {
	_, router := newTestEnv(t, nil)
	w := doJSON(t, router, "POST", "/api/v1/simulations", `[{"operation":"buy","unit-cost":10,"quantity":10}]`)
	id := decodeSimulation(t, w).ID

	w = doJSON(t, router, "GET", "/api/v1/simulations/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sim model.Simulation
	json.Unmarshal(w.Body.Bytes(), &sim)
	if sim.ID != id || len(sim.Entries) != 1 || sim.Entries[0].Operation.Kind != model.KindBuy {
		t.Errorf("unexpected simulation: %+v", sim)
	}

	w = doJSON(t, router, "GET", "/api/v1/simulations/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListSimulations(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := doJSON(t, router, "GET", "/api/v1/simulations", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", w.Code, w.Body.String())
	}

	doJSON(t, router, "POST", "/api/v1/simulations", `[{"operation":"buy","unit-cost":10,"quantity":10}]`)
	doJSON(t, router, "POST", "/api/v1/simulations", `[{"operation":"buy","unit-cost":10,"quantity":20}]`)

	w = doJSON(t, router, "GET", "/api/v1/simulations", "")
	var sims []model.Simulation
	json.Unmarshal(w.Body.Bytes(), &sims)
	if len(sims) != 2 {
		t.Errorf("expected 2 simulations, got %d", len(sims))
	}
}

// --- Batches ---

func TestProcessBatch(t *testing.T) {
	_, router := newTestEnv(t, nil)

	body := `[{"operation":"buy","unit-cost":10.00,"quantity":10000},{"operation":"sell","unit-cost":20.00,"quantity":5000}]
[{"operation":"buy","unit-cost":20.00,"quantity":10000},{"operation":"sell","unit-cost":10.00,"quantity":5000}]

[{"operation":"buy","unit-cost":1,"quantity":1}]
`
	req := httptest.NewRequest("POST", "/api/v1/batches", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	want := `{"simulations":[[{"tax":0},{"tax":10000}],[{"tax":0},{"tax":0}]]}`
	if strings.TrimSpace(w.Body.String()) != want {
		t.Errorf("expected %s, got %s", want, w.Body.String())
	}
}

func TestProcessBatch_InvalidLine(t *testing.T) {
	_, router := newTestEnv(t, nil)

	req := httptest.NewRequest("POST", "/api/v1/batches", strings.NewReader("[]\n{oops\n"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "line 2") {
		t.Errorf("error should name the line, got %s", w.Body.String())
	}
}

func TestProcessBatch_StrictRejectionIsUnprocessable(t *testing.T) {
	_, router := newTestEnv(t, validation.New())

	body := `[{"operation":"buy","unit-cost":10,"quantity":100}]
[{"operation":"buy","unit-cost":10,"quantity":100},{"operation":"sell","unit-cost":10,"quantity":101}]
`
	req := httptest.NewRequest("POST", "/api/v1/batches", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "line 2") {
		t.Errorf("error should name the line, got %s", w.Body.String())
	}
}
