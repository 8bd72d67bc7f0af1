package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/atmx/capgain/internal/model"
)

func TestObserveSimulation(t *testing.T) {
	ops := []model.Operation{
		{Kind: model.KindBuy, UnitCost: decimal.NewFromInt(10), Quantity: 10},
		{Kind: model.KindSell, UnitCost: decimal.NewFromInt(20), Quantity: 10},
		{Kind: "split", Quantity: 1},
	}
	results := []model.TaxResult{
		{Tax: decimal.Zero},
		{Tax: decimal.NewFromFloat(1.5)},
		{Tax: decimal.Zero},
	}

	simsBefore := testutil.ToFloat64(SimulationsTotal.WithLabelValues(SourceBatch))
	otherBefore := testutil.ToFloat64(OperationsTotal.WithLabelValues("other"))
	taxBefore := testutil.ToFloat64(TaxTotal)

	ObserveSimulation(SourceBatch, ops, results, time.Millisecond)

	if got := testutil.ToFloat64(SimulationsTotal.WithLabelValues(SourceBatch)) - simsBefore; got != 1 {
		t.Errorf("expected 1 simulation recorded, got %v", got)
	}
	if got := testutil.ToFloat64(OperationsTotal.WithLabelValues("other")) - otherBefore; got != 1 {
		t.Errorf("expected unknown kind under label other, got %v", got)
	}
	if got := testutil.ToFloat64(TaxTotal) - taxBefore; got != 1.5 {
		t.Errorf("expected tax 1.5 recorded, got %v", got)
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/v1/simulations/{simulationID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/simulations/{simulationID}", "404"))

	req := httptest.NewRequest("GET", "/api/v1/simulations/abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/simulations/{simulationID}", "404"))
	if after-before != 1 {
		t.Errorf("expected request counted under route pattern, got delta %v", after-before)
	}
}
