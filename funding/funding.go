// Package funding implements the pluggable long-entry funding strategies
// (spec.md §4.1 step 4, §4.4): none, borrow-min, borrow-all, sell-all,
// sell-largest, sell-largest-pnl. Each is a pure function over a wallet
// snapshot and its candidate rebalance-trade list; none of them touch the
// exchange or the state store directly.
package funding

import (
	"fmt"
	"sort"

	"github.com/mreyes/signalrunner/config"
	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/wallet"
)

// RebalanceTarget is one trade the chosen policy wants reduced to
// TargetCost, via wallet.ComputeRebalance/ApplyRebalance.
type RebalanceTarget struct {
	Trade      *models.TradeOpen
	TargetCost models.Decimal
}

// Decision is what a funding policy hands back to the entry pipeline: the
// chosen wallet, the final cost to trade, the borrow amount (margin only),
// and any trades that must be rebalanced down first.
type Decision struct {
	Wallet    models.Wallet
	Cost      models.Decimal
	Borrow    models.Decimal
	Rebalance []RebalanceTarget
}

// PriceLookup resolves the current price for a trade's symbol, used by
// IS_FUNDS_NO_LOSS PnL filtering and sell-largest-pnl reselection.
type PriceLookup func(symbol string) (models.Decimal, bool)

// Options carries the config knobs and market metadata a policy needs.
type Options struct {
	Policy          config.FundingPolicy
	IsFundsNoLoss   bool
	TakerFeePercent models.Decimal
	Markets         map[string]*models.Market
	Prices          PriceLookup
}

// Decide applies the configured funding policy across the candidate wallet
// snapshots (already buffer-reduced by wallet.BuildSnapshot) and returns
// the chosen wallet/cost/rebalance set, or an error if no wallet can fund
// the trade.
func Decide(candidates []wallet.Snapshot, cost models.Decimal, opts Options) (Decision, error) {
	switch opts.Policy {
	case config.FundingNone:
		return decideNone(candidates, cost)
	case config.FundingBorrowMin:
		return decideBorrow(candidates, cost, false)
	case config.FundingBorrowAll:
		return decideBorrow(candidates, cost, true)
	case config.FundingSellAll, config.FundingSellLargest, config.FundingSellLargestPnL:
		return decideSell(candidates, cost, opts)
	default:
		return Decision{}, fmt.Errorf("unknown funding policy %q", opts.Policy)
	}
}

// decideNone picks the wallet with the most free funds and shrinks the
// request down to what it has rather than reject outright.
func decideNone(candidates []wallet.Snapshot, cost models.Decimal) (Decision, error) {
	best := bestFreeWallet(candidates)
	if best == nil {
		return Decision{}, fmt.Errorf("no candidate wallet")
	}
	final := cost
	if best.Free.LessThan(cost) {
		final = best.Free
	}
	if final.Sign() <= 0 {
		return Decision{}, fmt.Errorf("cost invalid after shrink")
	}
	return Decision{Wallet: best.Wallet, Cost: final}, nil
}

// decideBorrow always targets the margin wallet; forceAll borrows the full
// cost, otherwise only the shortfall beyond free funds.
func decideBorrow(candidates []wallet.Snapshot, cost models.Decimal, forceAll bool) (Decision, error) {
	var margin *wallet.Snapshot
	for i := range candidates {
		if candidates[i].Wallet == models.WalletMargin {
			margin = &candidates[i]
			break
		}
	}
	if margin == nil {
		return Decision{}, fmt.Errorf("margin wallet not a candidate")
	}
	borrow := cost
	if !forceAll {
		borrow = cost.Sub(margin.Free)
		if borrow.Sign() < 0 {
			borrow = models.Zero
		}
	}
	return Decision{Wallet: models.WalletMargin, Cost: cost, Borrow: borrow}, nil
}

// decideSell implements sell-all / sell-largest / sell-largest-pnl, each of
// which may schedule rebalance children against existing long trades to
// free enough quote balance for the new entry.
func decideSell(candidates []wallet.Snapshot, cost models.Decimal, opts Options) (Decision, error) {
	type walletPlan struct {
		snap      wallet.Snapshot
		potential models.Decimal
		targets   []RebalanceTarget
	}

	var plans []walletPlan
	for _, snap := range candidates {
		eligible := eligibleRebalanceSet(snap.Trades, opts)
		if len(eligible) == 0 || snap.Free.GreaterThanOrEqual(largestCost(eligible)) {
			plans = append(plans, walletPlan{snap: snap, potential: snap.Free})
			continue
		}

		switch opts.Policy {
		case config.FundingSellAll:
			kept, potential := sellAllSet(eligible)
			plans = append(plans, walletPlan{snap: snap, potential: potential, targets: rebalanceTargets(kept, potential)})
		case config.FundingSellLargest:
			largest := pickLargest(eligible)
			potential := snap.Free.Add(largest.Cost).Div(models.NewDecimalFromFloat(2))
			plans = append(plans, walletPlan{snap: snap, potential: potential, targets: []RebalanceTarget{{Trade: largest, TargetCost: potential}}})
		case config.FundingSellLargestPnL:
			largest := pickLargestByPnL(eligible, opts)
			potential := snap.Free.Add(largest.Cost).Div(models.NewDecimalFromFloat(2))
			plans = append(plans, walletPlan{snap: snap, potential: potential, targets: []RebalanceTarget{{Trade: largest, TargetCost: potential}}})
		}
	}

	if len(plans) == 0 {
		return Decision{}, fmt.Errorf("no candidate wallet")
	}

	best := plans[0]
	for _, p := range plans[1:] {
		if best.potential.LessThan(cost) && p.potential.GreaterThan(best.potential) {
			best = p
		} else if p.potential.GreaterThanOrEqual(cost) && best.potential.LessThan(cost) {
			best = p
		}
	}

	final := cost
	if best.potential.LessThan(cost) {
		final = best.potential
	}
	if final.Sign() <= 0 {
		return Decision{}, fmt.Errorf("cost invalid")
	}

	return Decision{Wallet: best.snap.Wallet, Cost: final, Rebalance: best.targets}, nil
}

func bestFreeWallet(candidates []wallet.Snapshot) *wallet.Snapshot {
	var best *wallet.Snapshot
	for i := range candidates {
		if best == nil || candidates[i].Free.GreaterThan(best.Free) {
			best = &candidates[i]
		}
	}
	return best
}

// eligibleRebalanceSet excludes stopped trades, HODL trades (unless
// IS_FUNDS_NO_LOSS is on, per spec.md §4.1 step 4), trades too small to
// split, and, when IS_FUNDS_NO_LOSS, trades that would realize a loss at
// the current price.
func eligibleRebalanceSet(trades []*models.TradeOpen, opts Options) []*models.TradeOpen {
	var out []*models.TradeOpen
	for _, t := range trades {
		if t.IsStopped {
			continue
		}
		if t.IsHodl && !opts.IsFundsNoLoss {
			continue
		}
		m := opts.Markets[t.Symbol]
		if m == nil {
			continue
		}
		minAmount2 := m.MinAmount.Mul(models.NewDecimalFromFloat(2))
		minCost2 := m.MinCost.Mul(models.NewDecimalFromFloat(2))
		if t.Quantity.LessThan(minAmount2) || t.Cost.LessThan(minCost2) {
			continue
		}
		if opts.IsFundsNoLoss && opts.Prices != nil {
			if price, ok := opts.Prices(t.Symbol); ok {
				if wallet.CalculatePnL(t.PriceBuy, price, opts.TakerFeePercent).Sign() < 0 {
					continue
				}
			}
		}
		out = append(out, t)
	}
	return out
}

func largestCost(trades []*models.TradeOpen) models.Decimal {
	return pickLargest(trades).Cost
}

func pickLargest(trades []*models.TradeOpen) *models.TradeOpen {
	largest := trades[0]
	for _, t := range trades[1:] {
		if t.Cost.GreaterThan(largest.Cost) {
			largest = t
		}
	}
	return largest
}

// pickLargestByPnL reselects "largest" among the above-average trades as
// the one with the best current PnL%, per sell-largest-pnl's variant rule.
func pickLargestByPnL(trades []*models.TradeOpen, opts Options) *models.TradeOpen {
	avg := averageCost(trades)
	var aboveAvg []*models.TradeOpen
	for _, t := range trades {
		if t.Cost.GreaterThanOrEqual(avg) {
			aboveAvg = append(aboveAvg, t)
		}
	}
	if len(aboveAvg) == 0 {
		aboveAvg = trades
	}

	best := aboveAvg[0]
	bestPnL := currentPnL(best, opts)
	for _, t := range aboveAvg[1:] {
		pnl := currentPnL(t, opts)
		if pnl.GreaterThan(bestPnL) {
			best, bestPnL = t, pnl
		}
	}
	return best
}

func currentPnL(t *models.TradeOpen, opts Options) models.Decimal {
	if opts.Prices == nil {
		return models.Zero
	}
	price, ok := opts.Prices(t.Symbol)
	if !ok {
		return models.Zero
	}
	return wallet.CalculatePnL(t.PriceBuy, price, opts.TakerFeePercent)
}

// sellAllSet iteratively drops the smallest-cost trade from the sorted
// kept set until the remaining average cost is >= every kept trade's
// cost (spec.md §4.1 step 4 "sell-all": drop below-average trades until
// the remaining set's average covers what's left). Dropping the smallest
// each round is what raises the average toward that target; that average
// becomes the potential, and every remaining trade rebalances down to it.
func sellAllSet(trades []*models.TradeOpen) ([]*models.TradeOpen, models.Decimal) {
	kept := append([]*models.TradeOpen(nil), trades...)
	sort.Slice(kept, func(i, j int) bool { return kept[i].Cost.GreaterThan(kept[j].Cost) })

	for {
		avg := averageCost(kept)
		allWithinAvg := true
		for _, t := range kept {
			if t.Cost.GreaterThan(avg) {
				allWithinAvg = false
				break
			}
		}
		if allWithinAvg || len(kept) <= 1 {
			return kept, avg
		}
		kept = kept[:len(kept)-1]
	}
}

func averageCost(trades []*models.TradeOpen) models.Decimal {
	sum := models.Zero
	for _, t := range trades {
		sum = sum.Add(t.Cost)
	}
	return sum.Div(models.NewDecimalFromFloat(float64(len(trades))))
}

func rebalanceTargets(trades []*models.TradeOpen, potential models.Decimal) []RebalanceTarget {
	out := make([]RebalanceTarget, 0, len(trades))
	for _, t := range trades {
		out = append(out, RebalanceTarget{Trade: t, TargetCost: potential})
	}
	return out
}
