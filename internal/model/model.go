// Package model defines the core domain types shared across the tax engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the operation type of a trade instruction.
type Kind string

// Supported operation kinds. Any other value is carried as-is and
// replays as a zero-tax no-op.
const (
	KindBuy  Kind = "buy"
	KindSell Kind = "sell"
)

// Operation is one immutable trade instruction.
// Wire form: {"operation":"buy","unit-cost":10.00,"quantity":10000}
type Operation struct {
	Kind     Kind            `json:"operation" db:"operation"`
	UnitCost decimal.Decimal `json:"unit-cost" db:"unit_cost"`
	Quantity int64           `json:"quantity" db:"quantity"`
}

// WalletState is the mutable state of one simulation.
type WalletState struct {
	Shares          int64           `json:"shares" db:"shares"`
	AveragePrice    decimal.Decimal `json:"average_price" db:"average_price"`
	AccumulatedLoss decimal.Decimal `json:"accumulated_loss" db:"accumulated_loss"`
}

// TaxResult is the tax owed for one operation, rounded to cents.
type TaxResult struct {
	Tax decimal.Decimal `json:"tax"`
}

// MarshalJSON emits the tax as a bare JSON number ({"tax":10000}).
func (r TaxResult) MarshalJSON() ([]byte, error) {
	return []byte(`{"tax":` + r.Tax.String() + `}`), nil
}

// Entry is an immutable record of one replayed operation.
// Once appended to a simulation, entries are never modified.
type Entry struct {
	Seq       int             `json:"seq" db:"seq"`
	Operation Operation       `json:"operation"`
	Tax       decimal.Decimal `json:"tax" db:"tax"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Simulation is a persisted replay: its entries so far and the wallet
// state after the last one. Resuming continues from Wallet.
type Simulation struct {
	ID        string      `json:"id" db:"id"`
	Wallet    WalletState `json:"wallet"`
	Entries   []Entry     `json:"entries"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// Results returns the tax results of the simulation's entries in order.
func (s *Simulation) Results() []TaxResult {
	results := make([]TaxResult, len(s.Entries))
	for i, e := range s.Entries {
		results[i] = TaxResult{Tax: e.Tax}
	}
	return results
}
