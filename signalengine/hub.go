package signalengine

import (
	"context"

	"github.com/mreyes/signalrunner/hub"
	"github.com/mreyes/signalrunner/models"
)

// OnStrategyList implements hub.Handler: merges the hub's roster into the
// engine's Strategies map, preserving engine-owned fields (Name, Stopped,
// LossTradeRun) across refreshes. A change of the Active flag resets Stopped
// and LossTradeRun.
func (e *Engine) OnStrategyList(ctx context.Context, items []hub.StrategyListItem) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		seen[item.StrategyID] = true
		amount, err := models.NewDecimalFromString(item.TradeAmount)
		if err != nil {
			continue
		}

		strat, exists := e.meta.Strategies[item.StrategyID]
		if !exists {
			strat = &models.Strategy{StrategyID: item.StrategyID, Name: item.Name}
			e.meta.Strategies[item.StrategyID] = strat
		} else if strat.Active != item.Active {
			strat.Stopped = false
			strat.LossTradeRun = 0
		}
		strat.TradeAmount = amount
		strat.TradingMode = models.TradingMode(item.TradingMode)
		strat.Active = item.Active
		strat.Known = true
	}

	for id, strat := range e.meta.Strategies {
		if !seen[id] {
			strat.Known = false
		}
	}
	e.markDirty("strategies")
}

// OnSignal implements hub.Handler: validates and dispatches a single
// buy/sell/close/stop signal onto the Trade Queue.
func (e *Engine) OnSignal(ctx context.Context, sig models.Signal, isAuto bool) error {
	sig.IsAuto = isAuto

	if sig.EntryType == models.EntryEnter {
		return e.handleEnter(ctx, sig)
	}
	return e.handleExit(ctx, sig)
}

func (e *Engine) handleEnter(ctx context.Context, sig models.Signal) error {
	e.mu.Lock()
	if rejErr := e.validateEnter(sig); rejErr != nil {
		e.mu.Unlock()
		e.ackRejection(sig, rejErr)
		return rejErr
	}
	trade, rebalance, rejErr := e.createTradeOpen(ctx, sig)
	e.mu.Unlock()

	if rejErr != nil {
		e.ackRejection(sig, rejErr)
		return rejErr
	}

	// Rebalance children enqueue before the entry task they fund
	// (spec.md §5 "Ordering guarantees").
	for _, target := range rebalance {
		e.scheduleRebalance(target)
	}

	e.queue.Enqueue(func(ctx context.Context) error {
		return e.executeEntry(ctx, trade, sig.Source)
	})
	return nil
}

func (e *Engine) handleExit(ctx context.Context, sig models.Signal) error {
	e.mu.Lock()
	trade, rejErr := e.validateExit(sig, sig.IsAuto)
	if rejErr == nil {
		e.scheduleExit(trade, sig)
	}
	e.mu.Unlock()

	if rejErr != nil {
		e.ackRejection(sig, rejErr)
		return rejErr
	}

	quantity := trade.Quantity
	e.queue.Enqueue(func(ctx context.Context) error {
		return e.executeExit(ctx, trade, quantity, sig.Source)
	})
	return nil
}

func (e *Engine) ackRejection(sig models.Signal, rejErr *models.SignalError) {
	if sig.Source == models.SourceRebalance || e.hub == nil {
		return
	}
	typ := hub.TypeTradedSellSignal
	if sig.PositionType == models.PositionLong {
		typ = hub.TypeTradedBuySignal
	}
	e.hub.SendAck(hub.TradedAck{
		Type:         typ,
		StrategyID:   sig.StrategyID,
		Symbol:       sig.Symbol,
		Accepted:     false,
		RejectReason: rejErr.Reason,
		Timestamp:    sig.Timestamp,
	})
}
