// Package wallet implements the capital-gains simulation engine.
//
// A simulation is a left-to-right fold over an ordered list of operations:
//   - Buy blends the purchase into the weighted average price
//   - Sell realizes a gain or loss against the average price
//   - Losses are carried forward and offset later taxable gains
//   - Sales whose total value is at or below ExemptionThreshold are tax-free
//     and leave the carried loss untouched
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every stored or emitted amount is rounded to MoneyScale places at the step
// that produces it, not only at output.
package wallet

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/capgain/internal/model"
)

var (
	// TaxRate is applied to the taxable part of a gain.
	TaxRate = decimal.RequireFromString("0.20")

	// ExemptionThreshold is the total sale value at or below which a gain
	// is not taxed. The boundary is inclusive.
	ExemptionThreshold = decimal.NewFromInt(20000)

	// MoneyScale is the number of decimal places kept for money.
	MoneyScale int32 = 2
)

// Round rounds a monetary amount to cents, half away from zero.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyScale)
}

// Run replays operations on a fresh wallet and returns one result per
// operation, in order.
func Run(ops []model.Operation) []model.TaxResult {
	results, _ := RunFrom(model.WalletState{}, ops)
	return results
}

// RunFrom replays operations starting from a previously persisted state and
// returns the results together with the final state. The input state is not
// modified.
func RunFrom(state model.WalletState, ops []model.Operation) ([]model.TaxResult, model.WalletState) {
	results := make([]model.TaxResult, 0, len(ops))
	for _, op := range ops {
		var r model.TaxResult
		state, r = Apply(state, op)
		results = append(results, r)
	}
	return results, state
}

// Apply is the engine's reducer: it returns the state after op and the tax
// owed for it. Unknown operation kinds leave the state unchanged and owe
// nothing.
func Apply(state model.WalletState, op model.Operation) (model.WalletState, model.TaxResult) {
	switch op.Kind {
	case model.KindBuy:
		return buy(state, op), model.TaxResult{Tax: decimal.Zero}
	case model.KindSell:
		next, tax := sell(state, op)
		return next, model.TaxResult{Tax: Round(tax)}
	default:
		return state, model.TaxResult{Tax: decimal.Zero}
	}
}

func buy(s model.WalletState, op model.Operation) model.WalletState {
	held := decimal.NewFromInt(s.Shares).Mul(s.AveragePrice)
	bought := decimal.NewFromInt(op.Quantity).Mul(op.UnitCost)

	shares := s.Shares + op.Quantity
	if shares == 0 {
		s.AveragePrice = decimal.Zero
	} else {
		s.AveragePrice = Round(held.Add(bought).Div(decimal.NewFromInt(shares)))
	}
	s.Shares = shares
	return s
}

func sell(s model.WalletState, op model.Operation) (model.WalletState, decimal.Decimal) {
	qty := decimal.NewFromInt(op.Quantity)
	total := op.UnitCost.Mul(qty)
	costBasis := s.AveragePrice.Mul(qty)
	profit := total.Sub(costBasis)

	s.Shares -= op.Quantity
	if s.Shares == 0 {
		s.AveragePrice = decimal.Zero
	}

	switch {
	case profit.IsNegative():
		// Recorded before the exemption check: small losing sales still count.
		s.AccumulatedLoss = Round(s.AccumulatedLoss.Add(profit.Abs()))
		return s, decimal.Zero
	case profit.IsZero():
		return s, decimal.Zero
	case total.LessThanOrEqual(ExemptionThreshold):
		return s, decimal.Zero
	}

	used := decimal.Min(s.AccumulatedLoss, profit)
	taxable := profit.Sub(used)
	s.AccumulatedLoss = Round(s.AccumulatedLoss.Sub(used))

	if !taxable.IsPositive() {
		return s, decimal.Zero
	}
	return s, taxable.Mul(TaxRate)
}
