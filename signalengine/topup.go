package signalengine

import (
	"context"
	"fmt"

	"github.com/mreyes/signalrunner/exchange"
	"github.com/mreyes/signalrunner/models"
)

// TopUpFeeToken places a direct market buy of asset against the configured
// BNB_AUTO_TOP_UP quote, topping the wallet's free balance up to
// cfg.BNBFreeFloat (SPEC_FULL.md §4.19). Unlike every other order the
// engine places, this bypasses the Trade Queue entirely. topupMu serializes
// concurrent top-ups; queue tasks do not take it, so a top-up can run while
// a queued trade is in progress.
func (e *Engine) TopUpFeeToken(ctx context.Context, asset string, wallet models.Wallet) (*exchange.OrderResult, error) {
	if e.cfg.BNBAutoTopUp == "" {
		return nil, fmt.Errorf("fee-token top-up is disabled: BNB_AUTO_TOP_UP not set")
	}

	e.topupMu.Lock()
	defer e.topupMu.Unlock()

	balances, err := e.gateway.FetchBalance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("fetch %s balance: %w", wallet, err)
	}
	free := models.Zero
	if bal, ok := balances[asset]; ok {
		free = bal.Free
	}
	if free.GreaterThanOrEqual(e.cfg.BNBFreeFloat) {
		return nil, nil
	}

	symbol := asset + e.cfg.BNBAutoTopUp
	market := e.market(symbol)
	if market == nil {
		return nil, fmt.Errorf("unknown top-up market %s", symbol)
	}

	deficit := e.cfg.BNBFreeFloat.Sub(free)
	quantity := e.gateway.AmountToPrecision(market, deficit)
	if quantity.LessThan(market.MinAmount) {
		quantity = market.MinAmount
	}

	result, err := e.gateway.CreateMarketOrder(ctx, wallet, symbol, exchange.SideBuy, quantity)
	if err != nil {
		e.gateway.InvalidateBalance(wallet)
		e.notifier.Error(ctx, "bnb_topup", asset, fmt.Sprintf("fee-token top-up failed: %v", err))
		return nil, err
	}
	e.gateway.InvalidateBalance(wallet)
	e.notifier.Info(ctx, "bnb_topup", asset, fmt.Sprintf("topped up %s %s via %s", result.FilledQuantity, asset, symbol))
	return result, nil
}
