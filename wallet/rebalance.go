package wallet

import (
	"errors"

	"github.com/mreyes/signalrunner/models"
)

// ErrRebalanceFence is returned when a proposed rebalance would violate the
// legal-remaining-minimum fence (spec.md §4.3 "Rebalance sub-trade").
var ErrRebalanceFence = errors.New("rebalance would leave parent below legal minimum")

// LegalQuantity snaps a raw quantity down to the market's step size.
func LegalQuantity(m *models.Market, raw models.Decimal) models.Decimal {
	if m.StepSize.IsZero() {
		return raw
	}
	steps := raw.Div(m.StepSize).Floor()
	return steps.Mul(m.StepSize)
}

// RebalanceChild is the sub-trade schedulable as a SELL against a parent
// long trade, per spec.md §4.3's "Rebalance sub-trade" procedure.
type RebalanceChild struct {
	Quantity models.Decimal
	Cost     models.Decimal
}

// ComputeRebalance derives the rebalance sub-trade for a parent long trade
// being reduced to target remaining cost targetCost, at current sellPrice.
//
//	diffCost = parent.cost - targetCost, diffQty = legal(diffCost / sellPrice)
//
// Rejected if the legal snap inflated the sell by more than 2x the
// requested diff, if diffQty would close the parent outright, or if the
// parent's remaining quantity would fall below the market's legal minimum.
func ComputeRebalance(m *models.Market, parent *models.TradeOpen, targetCost, sellPrice models.Decimal) (RebalanceChild, error) {
	targetDiff := parent.Cost.Sub(targetCost)
	if targetDiff.Sign() <= 0 {
		return RebalanceChild{}, errors.New("target cost is not below parent cost")
	}
	if sellPrice.Sign() <= 0 {
		return RebalanceChild{}, errors.New("invalid sell price")
	}

	rawQty := targetDiff.Div(sellPrice)
	diffQty := LegalQuantity(m, rawQty)
	if diffQty.Sign() <= 0 {
		return RebalanceChild{}, ErrRebalanceFence
	}

	diffCost := diffQty.Mul(sellPrice)
	two := models.NewDecimalFromFloat(2)
	if diffCost.Div(targetDiff).GreaterThan(two) {
		return RebalanceChild{}, ErrRebalanceFence
	}
	if diffQty.GreaterThanOrEqual(parent.Quantity) {
		return RebalanceChild{}, ErrRebalanceFence
	}

	remainingQty := parent.Quantity.Sub(diffQty)
	if remainingQty.LessThan(m.MinAmount) {
		return RebalanceChild{}, ErrRebalanceFence
	}
	remainingCost := remainingQty.Mul(parent.PriceBuy)
	if remainingCost.LessThan(m.MinCost) {
		return RebalanceChild{}, ErrRebalanceFence
	}

	return RebalanceChild{Quantity: diffQty, Cost: diffCost}, nil
}

// ApplyRebalance reduces the parent trade's quantity/cost in place
// (optimistic update) and returns the child's values to schedule as a SELL
// with source=rebalance. Callers restore the parent on child failure.
func ApplyRebalance(parent *models.TradeOpen, child RebalanceChild) {
	parent.Quantity = parent.Quantity.Sub(child.Quantity)
	parent.Cost = parent.Cost.Sub(child.Cost)
}

// RestoreRebalance undoes ApplyRebalance after a failed child sell.
func RestoreRebalance(parent *models.TradeOpen, child RebalanceChild) {
	parent.Quantity = parent.Quantity.Add(child.Quantity)
	parent.Cost = parent.Cost.Add(child.Cost)
}
