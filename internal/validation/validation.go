// Package validation implements the optional strict guard that runs in front
// of the simulation engine.
//
// The engine itself is total: it replays negative quantities, negative prices
// and over-sells arithmetically. Drivers running in strict mode check each
// operation against the wallet state it would be applied to and reject the
// whole simulation on the first violation.
package validation

import (
	"errors"
	"fmt"

	"github.com/atmx/capgain/internal/model"
	"github.com/atmx/capgain/internal/wallet"
)

var (
	// ErrNegativeQuantity is returned for an operation with quantity < 0.
	ErrNegativeQuantity = errors.New("validation: quantity must not be negative")

	// ErrNegativePrice is returned for an operation with unit-cost < 0.
	ErrNegativePrice = errors.New("validation: unit-cost must not be negative")

	// ErrOverSell is returned when a sell would leave fewer than zero shares.
	ErrOverSell = errors.New("validation: sell quantity exceeds shares held")
)

// ValidationError reports which operation of a simulation was rejected.
type ValidationError struct {
	Index int // zero-based position in the operation list
	Op    model.Operation
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("operation %d (%s): %v", e.Index+1, e.Op.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator checks operations before they reach the engine.
type Validator struct {
	// AllowOverSell lets a sell drive shares below zero, matching the
	// engine's permissive behavior. Quantity and price checks still apply.
	AllowOverSell bool
}

// New creates a strict validator that rejects over-sells.
func New() *Validator {
	return &Validator{}
}

// Check validates a single operation against the state it would be applied to.
func (v *Validator) Check(state model.WalletState, op model.Operation) error {
	if op.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if op.UnitCost.IsNegative() {
		return ErrNegativePrice
	}
	if op.Kind == model.KindSell && !v.AllowOverSell && op.Quantity > state.Shares {
		return ErrOverSell
	}
	return nil
}

// CheckAll validates a whole simulation starting from state, replaying the
// engine between checks. Returns nil or a *ValidationError for the first
// rejected operation.
func (v *Validator) CheckAll(state model.WalletState, ops []model.Operation) error {
	for i, op := range ops {
		if err := v.Check(state, op); err != nil {
			return &ValidationError{Index: i, Op: op, Err: err}
		}
		state, _ = wallet.Apply(state, op)
	}
	return nil
}
