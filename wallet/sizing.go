// Package wallet computes free/locked/total funds per wallet+quote from a
// live balance snapshot and the engine's own open-trade ledger, and carries
// the rebalance sub-trade math used to free funds for a new long entry
// (spec.md §4.3).
package wallet

import (
	"github.com/mreyes/signalrunner/models"
)

// Snapshot is what createTradeOpen asks for per candidate wallet+quote
// before sizing a new trade.
type Snapshot struct {
	Wallet models.Wallet
	Quote  string

	Free   models.Decimal
	Locked models.Decimal
	Total  models.Decimal

	// Trades are open, executed, non-closing long trades in this
	// wallet+quote: rebalance candidates, ordered as supplied.
	Trades []*models.TradeOpen
}

// BuildSnapshot computes free/locked/total for one candidate wallet+quote,
// per spec.md §4.3:
//
//	free = exchangeFree
//	     - Σ cost of executed short trades in this quote
//	     - Σ quantity of executed long trades whose base == quote
//	     - Σ cost of not-yet-executed long trades in this wallet+quote
//	     + Σ cost of closing long trades in this wallet+quote
//	locked = Σ cost of open, non-closing, executed long trades in this wallet+quote
//
// markets maps symbol -> market metadata, needed to split a trade's symbol
// into base/quote. closing is the MetaData.TradesClosing overlay.
func BuildSnapshot(wallet models.Wallet, quote string, exchangeFree models.Decimal, openTrades []*models.TradeOpen, markets map[string]*models.Market, closing map[string]bool, buffer models.Decimal) Snapshot {
	free := exchangeFree
	locked := models.Zero
	var candidates []*models.TradeOpen

	for _, t := range openTrades {
		if t.Wallet != wallet {
			continue
		}
		m := markets[t.Symbol]
		if m == nil {
			continue
		}

		switch t.PositionType {
		case models.PositionShort:
			if t.IsExecuted && m.Quote == quote {
				free = free.Sub(t.Cost)
			}
		case models.PositionLong:
			if t.IsExecuted && m.Base == quote {
				free = free.Sub(t.Quantity)
			}
			if m.Quote != quote {
				continue
			}
			switch {
			case !t.IsExecuted:
				free = free.Sub(t.Cost)
			case closing[t.ID]:
				free = free.Add(t.Cost)
			default:
				locked = locked.Add(t.Cost)
				candidates = append(candidates, t)
			}
		}
	}

	total := free.Add(locked)
	bufferedFree := free.Sub(total.Mul(buffer))
	bufferedTotal := total.Sub(total.Mul(buffer))

	return Snapshot{
		Wallet: wallet,
		Quote:  quote,
		Free:   bufferedFree,
		Locked: locked,
		Total:  bufferedTotal,
		Trades: candidates,
	}
}

// CalculatePnL implements spec.md §4.3's round-trip PnL percentage:
//
//	((ps·(1−f)) − (pb·(1+f))) / (pb·(1+f)) × 100, f = takerFeePercent/100
func CalculatePnL(priceBuy, priceSell, takerFeePercent models.Decimal) models.Decimal {
	one := models.NewDecimalFromFloat(1)
	f := takerFeePercent.Div(models.NewDecimalFromFloat(100))
	costBasis := priceBuy.Mul(one.Add(f))
	proceeds := priceSell.Mul(one.Sub(f))
	if costBasis.IsZero() {
		return models.Zero
	}
	return proceeds.Sub(costBasis).Div(costBasis).Mul(models.NewDecimalFromFloat(100))
}
