package signalengine

import (
	"context"
	"fmt"

	"github.com/mreyes/signalrunner/exchange"
	"github.com/mreyes/signalrunner/hub"
	"github.com/mreyes/signalrunner/models"
)

// executeEntry runs the before(borrow)/main(order) sequence for a brand
// new trade. There is no after step on entry: a margin borrow funds the
// buy, it is repaid only when the position eventually closes (spec.md
// §4.1 "Execute task").
func (e *Engine) executeEntry(ctx context.Context, trade *models.TradeOpen, source models.SignalSource) error {
	market := e.market(trade.Symbol)

	if trade.Borrow.Sign() > 0 {
		asset := borrowAsset(market, trade.PositionType)
		txID, err := e.gateway.MarginBorrow(ctx, asset, trade.Borrow)
		if err != nil {
			e.dropFailedEntry(trade)
			return &models.SignalError{Kind: models.ExchangeTransient, Reason: fmt.Sprintf("borrow failed: %v", err), TradeID: trade.ID}
		}
		e.recordTx(trade.ID, models.TxBorrow, asset, trade.Borrow, txID)
	}

	side := exchange.SideSell
	if trade.PositionType == models.PositionLong {
		side = exchange.SideBuy
	}

	result, err := e.gateway.CreateMarketOrder(ctx, trade.Wallet, trade.Symbol, side, trade.Quantity)
	if err != nil {
		e.gateway.InvalidateBalance(trade.Wallet)
		e.dropFailedEntry(trade)
		return &models.SignalError{Kind: models.ExchangeTransient, Reason: fmt.Sprintf("entry order failed: %v", err), TradeID: trade.ID}
	}

	e.mu.Lock()
	reconcileFill(trade, result, side)
	trade.IsExecuted = true
	e.markDirty("tradesOpen")
	e.mu.Unlock()

	e.recordTx(trade.ID, txKindFor(side), market.Base, result.FilledQuantity, result.ExchangeOrderID)
	e.ackHub(trade, source, true)
	return nil
}

// executeExit runs the main(order)/after(repay) sequence for a trade
// being closed, whether by signal, manual close, or rebalance child.
func (e *Engine) executeExit(ctx context.Context, trade *models.TradeOpen, quantity models.Decimal, source models.SignalSource) error {
	market := e.market(trade.Symbol)

	side := exchange.SideBuy
	if trade.PositionType == models.PositionLong {
		side = exchange.SideSell
	}

	result, err := e.gateway.CreateMarketOrder(ctx, trade.Wallet, trade.Symbol, side, quantity)
	if err != nil {
		e.gateway.InvalidateBalance(trade.Wallet)
		e.mu.Lock()
		e.clearClosing(trade.ID)
		e.mu.Unlock()
		return &models.SignalError{Kind: models.ExchangeTransient, Reason: fmt.Sprintf("exit order failed: %v", err), TradeID: trade.ID}
	}

	e.mu.Lock()
	reconcileFill(trade, result, side)
	e.markDirty("tradesOpen")
	requiresRepay := trade.RequiresRepay()
	e.mu.Unlock()

	e.recordTx(trade.ID, txKindFor(side), market.Base, result.FilledQuantity, result.ExchangeOrderID)

	if requiresRepay {
		asset := borrowAsset(market, trade.PositionType)
		txID, err := e.gateway.MarginRepay(ctx, asset, trade.Borrow)
		if err != nil {
			e.mu.Lock()
			trade.IsStopped = true
			e.clearClosing(trade.ID)
			e.markDirty("tradesOpen")
			e.mu.Unlock()
			e.notifier.Error(ctx, "repay_failed", trade.Symbol, fmt.Sprintf("repay failed after exit for trade %s; forced stop, operator must reconcile", trade.ID))
			return &models.SignalError{Kind: models.ExchangePartialSequence, Reason: fmt.Sprintf("repay failed: %v", err), Severe: true, TradeID: trade.ID}
		}
		e.recordTx(trade.ID, models.TxRepay, asset, trade.Borrow, txID)
	}

	e.mu.Lock()
	e.meta.RemoveOpenTrade(trade.ID)
	e.clearClosing(trade.ID)
	e.markDirty("tradesOpen")
	e.mu.Unlock()

	e.postTradeAccounting(ctx, trade)
	e.ackHub(trade, source, false)
	return nil
}

// dropFailedEntry removes a trade that never got acknowledged to the hub
// because its entry order returned "nothing done" (spec.md §4.1 "Execute
// task"). Caller must NOT hold e.mu.
func (e *Engine) dropFailedEntry(trade *models.TradeOpen) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.meta.RemoveOpenTrade(trade.ID)
	e.markDirty("tradesOpen")
}

// reconcileFill folds a fill back onto the trade. PriceBuy/PriceSell track
// which leg of the order produced the price, not which lifecycle stage
// produced it: a long's entry is a buy and its exit is a sell, so for a
// short those invert (entry sells, exit buys) and it is PriceSell that
// holds the opening price (spec.md §3).
func reconcileFill(trade *models.TradeOpen, result *exchange.OrderResult, side exchange.OrderSide) {
	trade.Quantity = result.FilledQuantity
	trade.Cost = result.FilledCost
	if side == exchange.SideBuy {
		trade.PriceBuy = result.AveragePrice
	} else {
		trade.PriceSell = result.AveragePrice
	}
}

func borrowAsset(market *models.Market, position models.PositionType) string {
	if position == models.PositionShort {
		return market.Base
	}
	return market.Quote
}

func txKindFor(side exchange.OrderSide) models.TransactionKind {
	if side == exchange.SideBuy {
		return models.TxBuy
	}
	return models.TxSell
}

func (e *Engine) recordTx(tradeID string, kind models.TransactionKind, asset string, amount models.Decimal, exchangeTxID string) {
	if e.store == nil {
		return
	}
	if _, err := e.store.AppendTransaction(tradeID, kind, asset, amount, exchangeTxID); err != nil {
		e.notifier.Warn(context.Background(), "transaction_log_failed", tradeID, err.Error())
	}
}

// ackHub sends the traded acknowledgement back to the hub, except for
// rebalance children which never surface to the hub (spec.md §4.1 "Execute
// task").
func (e *Engine) ackHub(trade *models.TradeOpen, source models.SignalSource, isEntry bool) {
	if source == models.SourceRebalance || e.hub == nil {
		return
	}
	typ := hub.TypeTradedSellSignal
	if (isEntry && trade.PositionType == models.PositionLong) || (!isEntry && trade.PositionType == models.PositionShort) {
		typ = hub.TypeTradedBuySignal
	}
	e.hub.SendAck(hub.TradedAck{
		Type:       typ,
		StrategyID: trade.StrategyID,
		Symbol:     trade.Symbol,
		TradeID:    trade.ID,
		Accepted:   true,
		Quantity:   trade.Quantity.String(),
		Timestamp:  trade.TimeUpdated,
	})
}
