package signalengine

import (
	"context"
	"fmt"
	"time"

	"github.com/mreyes/signalrunner/models"
)

// postTradeAccounting updates strategy loss tracking and balance history
// after a trade closes, then checks the fee-token reserve for real trades
// (spec.md §4.1 "Post-trade accounting").
func (e *Engine) postTradeAccounting(ctx context.Context, trade *models.TradeOpen) {
	if trade.PriceBuy.IsZero() || trade.PriceSell.IsZero() {
		return
	}

	// PriceSell/PriceBuy already hold open/close in the right slots for
	// both position types (spec.md §3), so the raw spread is the signed
	// profit for either direction without an extra sign flip.
	change := trade.Quantity.Mul(trade.PriceSell.Sub(trade.PriceBuy))

	e.mu.Lock()
	strat := e.meta.Strategies[trade.StrategyID]
	if strat != nil {
		if change.Sign() < 0 {
			strat.LossTradeRun++
			if e.cfg.StrategyLossLimit > 0 && strat.LossTradeRun >= e.cfg.StrategyLossLimit {
				strat.Stopped = true
				e.notifier.Warn(ctx, "strategy_stopped", strat.Name, fmt.Sprintf("strategy %s stopped after %d consecutive losses", strat.Name, strat.LossTradeRun))
			}
		} else {
			strat.LossTradeRun = 0
		}
		e.markDirty("strategies")
	}

	market := e.meta.Markets[trade.Symbol]
	fee := trade.Cost.Mul(e.cfg.TakerFeePercent).Div(models.NewDecimalFromFloat(100)).Neg()
	if market != nil {
		e.recordBalanceHistory(market.Quote, trade.TradingMode, change, fee)
	}
	e.mu.Unlock()

	if trade.TradingMode == models.TradingReal {
		e.checkBNBReserve(ctx)
	}
}

// recordBalanceHistory folds a closed trade's PnL and fee into today's
// running book for the trade's (tradingMode, quote) pair. Caller must hold
// e.mu.
func (e *Engine) recordBalanceHistory(quote string, mode models.TradingMode, change, fee models.Decimal) {
	key := models.BalanceHistoryKey{TradingMode: mode, QuoteAsset: quote}
	days := e.meta.BalanceHistory[key]

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if len(days) > 0 && days[len(days)-1].Date.Equal(today) {
		last := &days[len(days)-1]
		last.ProfitLoss = last.ProfitLoss.Add(change)
		last.EstimatedFees = last.EstimatedFees.Add(fee)
		last.CloseBalance = last.CloseBalance.Add(change).Add(fee)
		last.TotalClosedTrades++
	} else {
		open := models.Zero
		if len(days) > 0 {
			open = days[len(days)-1].CloseBalance
		}
		days = append(days, models.BalanceHistoryDay{
			Date:              today,
			OpenBalance:       open,
			CloseBalance:      open.Add(change).Add(fee),
			ProfitLoss:        change,
			EstimatedFees:     fee,
			TotalClosedTrades: 1,
		})
	}
	e.meta.BalanceHistory[key] = days
	e.markDirty("balanceHistory")
}

// checkBNBReserve implements the fee-token hysteresis state machine
// {ok, high, low, empty} (spec.md §4.1): warn when first falling below
// threshold, warn again crossing half-threshold, error at zero, reset to
// ok at or above threshold.
func (e *Engine) checkBNBReserve(ctx context.Context) {
	balances, err := e.gateway.FetchBalance(ctx, models.WalletSpot)
	if err != nil {
		return
	}
	free := models.Zero
	if bnb, ok := balances["BNB"]; ok {
		free = bnb.Free
	}

	half := e.cfg.BNBFreeThreshold.Div(models.NewDecimalFromFloat(2))

	e.mu.Lock()
	prev := e.bnb
	next := prev
	switch {
	case free.Sign() <= 0:
		next = bnbEmpty
	case free.LessThan(half):
		next = bnbLow
	case free.LessThan(e.cfg.BNBFreeThreshold):
		next = bnbHigh
	default:
		next = bnbOK
	}
	e.bnb = next
	e.mu.Unlock()

	if next == prev {
		return
	}
	switch next {
	case bnbEmpty:
		e.notifier.Error(ctx, "bnb_reserve", "BNB", "fee-token reserve depleted")
	case bnbLow:
		e.notifier.Warn(ctx, "bnb_reserve", "BNB", "fee-token reserve crossed half of threshold")
	case bnbHigh:
		e.notifier.Warn(ctx, "bnb_reserve", "BNB", "fee-token reserve fell below threshold")
	case bnbOK:
		e.notifier.Info(ctx, "bnb_reserve", "BNB", "fee-token reserve restored")
	}
}
