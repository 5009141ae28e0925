package signalengine

import (
	"context"
	"fmt"
	"time"

	"github.com/mreyes/signalrunner/balancehistory"
	"github.com/mreyes/signalrunner/models"
)

// Strategies returns a copy of the current roster, for the operator
// /strategies surface (spec.md §6).
func (e *Engine) Strategies() []models.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Strategy, 0, len(e.meta.Strategies))
	for _, s := range e.meta.Strategies {
		out = append(out, *s)
	}
	return out
}

// SetStrategyStopped implements `?stop=id` / `?start=id` on /strategies.
func (e *Engine) SetStrategyStopped(id string, stopped bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	strat, ok := e.meta.Strategies[id]
	if !ok {
		return fmt.Errorf("unknown strategy %q", id)
	}
	strat.Stopped = stopped
	if !stopped {
		strat.LossTradeRun = 0
	}
	e.markDirty("strategies")
	return nil
}

// TogglePublicStrategy implements `?public=id` on /strategies: withdraws the
// strategy from the public summary if it is listed, otherwise adds it with
// short and long open counts taken from the current open trades. Closed is
// not counted and stays 0.
func (e *Engine) TogglePublicStrategy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.meta.Strategies[id]; !ok {
		return fmt.Errorf("unknown strategy %q", id)
	}
	if _, ok := e.meta.PublicStrategies[id]; ok {
		delete(e.meta.PublicStrategies, id)
		e.markDirty("publicStrategies")
		return nil
	}

	pub := &models.PublicStrategy{StrategyID: id}
	for _, t := range e.meta.TradesOpen {
		if t.StrategyID != id {
			continue
		}
		if t.PositionType == models.PositionShort {
			pub.ShortOpened++
		} else {
			pub.LongOpened++
		}
	}
	e.meta.PublicStrategies[id] = pub
	e.markDirty("publicStrategies")
	return nil
}

// Trades returns a copy of every open trade, for the operator /trades
// surface.
func (e *Engine) Trades() []models.TradeOpen {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.TradeOpen, 0, len(e.meta.TradesOpen))
	for _, t := range e.meta.TradesOpen {
		out = append(out, *t)
	}
	return out
}

// SetTradeHodl implements `?hodl=id` / `?release=id` on /trades. While HODL
// is set, auto exit signals that would close the trade at a loss are
// rejected, the background auto-close sweep considers the trade, and it is
// left out of rebalancing unless IS_FUNDS_NO_LOSS is on.
func (e *Engine) SetTradeHodl(id string, hodl bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	trade := findTrade(e.meta.TradesOpen, id)
	if trade == nil {
		return fmt.Errorf("unknown trade %q", id)
	}
	trade.IsHodl = hodl
	e.markDirty("tradesOpen")
	return nil
}

// SetTradeStopped implements `?stop=id` / `?start=id` on /trades.
func (e *Engine) SetTradeStopped(id string, stopped bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	trade := findTrade(e.meta.TradesOpen, id)
	if trade == nil {
		return fmt.Errorf("unknown trade %q", id)
	}
	trade.IsStopped = stopped
	e.markDirty("tradesOpen")
	return nil
}

// DeleteTrade implements `?delete=id` on /trades: an unconditional removal
// for phantom trades the exchange never executed, bypassing the Trade
// Queue entirely (spec.md §7 "SpecialCases").
func (e *Engine) DeleteTrade(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, t := range e.meta.TradesOpen {
		if t.ID == id {
			if t.IsExecuted {
				return fmt.Errorf("trade %q is executed on the exchange, use close= instead", id)
			}
			e.meta.TradesOpen = append(e.meta.TradesOpen[:i], e.meta.TradesOpen[i+1:]...)
			delete(e.meta.TradesClosing, id)
			e.markDirty("tradesOpen")
			return nil
		}
	}
	return fmt.Errorf("unknown trade %q", id)
}

// ManualClose implements `?close=id` on /trades: schedules an operator-
// initiated exit at the latest known price, bypassing the stopped/HODL
// exit guards (spec.md §7 "OperatorConflict", SourceManual).
func (e *Engine) ManualClose(ctx context.Context, id string) error {
	e.mu.Lock()
	trade := findTrade(e.meta.TradesOpen, id)
	if trade == nil {
		e.mu.Unlock()
		return fmt.Errorf("unknown trade %q", id)
	}
	if e.meta.TradesClosing[trade.ID] {
		e.mu.Unlock()
		return &models.SignalError{Kind: models.OperatorConflict, Reason: fmt.Sprintf("trade %s is already closing", id)}
	}
	price, ok := e.meta.Prices[trade.Symbol]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("no cached price for %s", trade.Symbol)
	}

	sig := models.Signal{
		StrategyID:   trade.StrategyID,
		StrategyName: trade.StrategyName,
		Symbol:       trade.Symbol,
		EntryType:    models.EntryExit,
		PositionType: trade.PositionType,
		Price:        price,
		Timestamp:    time.Now().UTC(),
		Source:       models.SourceManual,
	}
	return e.OnSignal(ctx, sig, false)
}

// VirtualBalances returns a copy of the virtual ledger, for the
// /virtual surface.
func (e *Engine) VirtualBalances() map[models.Wallet]map[string]models.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[models.Wallet]map[string]models.Decimal, len(e.meta.VirtualBalances))
	for wallet, balances := range e.meta.VirtualBalances {
		cp := make(map[string]models.Decimal, len(balances))
		for asset, amount := range balances {
			cp[asset] = amount
		}
		out[wallet] = cp
	}
	return out
}

// ResetVirtualBalances implements `?reset=true|<number>` on /virtual:
// true reseeds every asset to VIRTUAL_WALLET_FUNDS (spec.md §4.5); a
// numeric value reseeds to that amount instead.
func (e *Engine) ResetVirtualBalances(amount models.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for wallet, balances := range e.meta.VirtualBalances {
		for asset := range balances {
			balances[asset] = amount
		}
		e.meta.VirtualBalances[wallet] = balances
	}
	e.markDirty("virtualBalances")
}

// BalanceHistoryReports aggregates the balance history ledger into the
// per-(mode, quote) PnL summary used by /pnl (SPEC_FULL.md §4.18).
func (e *Engine) BalanceHistoryReports(ctx context.Context) []balancehistory.Report {
	e.mu.Lock()
	history := e.meta.BalanceHistory
	e.mu.Unlock()

	var txs []models.Transaction
	if e.store != nil {
		if rows, err := e.store.ListTransactions(100000, ""); err == nil {
			txs = rows
		}
	}
	return balancehistory.Sorted(balancehistory.Aggregate(history, txs))
}

// ResetBalanceHistory implements `?reset=ASSET:mode` on /pnl: clears the
// ledger for one (mode, quote) pair so PnL tracking restarts from zero.
func (e *Engine) ResetBalanceHistory(quote string, mode models.TradingMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.meta.BalanceHistory, models.BalanceHistoryKey{TradingMode: mode, QuoteAsset: quote})
	e.markDirty("balanceHistory")
}

func findTrade(trades []*models.TradeOpen, id string) *models.TradeOpen {
	for _, t := range trades {
		if t.ID == id {
			return t
		}
	}
	return nil
}
