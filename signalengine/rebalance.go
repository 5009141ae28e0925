package signalengine

import (
	"context"
	"fmt"

	"github.com/mreyes/signalrunner/exchange"
	"github.com/mreyes/signalrunner/funding"
	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/wallet"
)

// scheduleRebalance enqueues a SELL sub-trade against an existing long
// trade to free quote balance for a new entry. Rebalance children enqueue
// before the entry task that caused them (spec.md §5 "Ordering
// guarantees") and never acknowledge to the hub.
func (e *Engine) scheduleRebalance(target funding.RebalanceTarget) {
	e.queue.Enqueue(func(ctx context.Context) error {
		return e.runRebalance(ctx, target)
	})
}

func (e *Engine) runRebalance(ctx context.Context, target funding.RebalanceTarget) error {
	parent := target.Trade

	e.mu.Lock()
	market := e.meta.Markets[parent.Symbol]
	price, ok := e.meta.Prices[parent.Symbol]
	e.mu.Unlock()
	if market == nil {
		return fmt.Errorf("rebalance: unknown market %s", parent.Symbol)
	}
	if !ok || price.IsZero() {
		price = parent.PriceBuy
	}

	child, err := wallet.ComputeRebalance(market, parent, target.TargetCost, price)
	if err != nil {
		return fmt.Errorf("rebalance rejected: %w", err)
	}

	e.mu.Lock()
	wallet.ApplyRebalance(parent, child)
	e.markDirty("tradesOpen")
	parentExecuted := parent.IsExecuted
	e.mu.Unlock()

	if !parentExecuted {
		// Parent has not traded yet: reducing it in place is enough, no
		// child order is needed.
		return nil
	}

	result, err := e.gateway.CreateMarketOrder(ctx, parent.Wallet, parent.Symbol, exchange.SideSell, child.Quantity)
	if err != nil {
		e.gateway.InvalidateBalance(parent.Wallet)
		e.mu.Lock()
		wallet.RestoreRebalance(parent, child)
		e.markDirty("tradesOpen")
		e.mu.Unlock()
		return fmt.Errorf("rebalance sell failed, restored parent: %w", err)
	}

	e.mu.Lock()
	parent.PriceSell = result.AveragePrice
	parent.Cost = parent.Quantity.Mul(parent.PriceBuy)
	e.markDirty("tradesOpen")
	e.mu.Unlock()

	e.recordTx(parent.ID, models.TxSell, market.Base, result.FilledQuantity, result.ExchangeOrderID)
	return nil
}
