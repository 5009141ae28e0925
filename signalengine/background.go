package signalengine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/wallet"
)

const marketsStaleAfter = 24 * time.Hour

// RunBackground drives the single periodic tick loop at
// cfg.BackgroundInterval until ctx is cancelled (spec.md §5 "Background
// periodic work"): refreshes markets once they go stale, and when
// IS_AUTO_CLOSE_ENABLED synthesizes exit signals for HODL trades and trades
// of stopped strategies that would now realize a profit.
func (e *Engine) RunBackground(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.BackgroundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	stale := time.Since(e.marketsAt) > marketsStaleAfter
	e.mu.Unlock()

	if stale {
		if err := e.RefreshMarkets(ctx); err != nil {
			log.Error().Err(err).Msg("background market refresh failed")
		}
	}

	if !e.cfg.IsAutoCloseEnabled {
		return
	}
	if err := e.RefreshPrices(ctx); err != nil {
		log.Error().Err(err).Msg("background price refresh failed")
		return
	}
	e.sweepAutoClose(ctx)
}

// sweepAutoClose synthesizes an auto_close exit signal for every HODL or
// stopped-strategy trade that would now realize a profit at the latest
// price (spec.md §5, §9 design notes).
func (e *Engine) sweepAutoClose(ctx context.Context) {
	e.mu.Lock()
	var candidates []*models.TradeOpen
	for _, t := range e.meta.TradesOpen {
		if !t.IsExecuted || e.meta.TradesClosing[t.ID] {
			continue
		}
		strat := e.meta.Strategies[t.StrategyID]
		if !t.IsHodl && (strat == nil || !strat.Stopped) {
			continue
		}
		candidates = append(candidates, t)
	}
	e.mu.Unlock()

	for _, t := range candidates {
		price, ok := e.priceLookup(t.Symbol)
		if !ok {
			continue
		}
		buy, sell := t.PriceBuy, price
		if t.PositionType == models.PositionShort {
			buy, sell = price, t.PriceSell
		}
		pnl := wallet.CalculatePnL(buy, sell, e.cfg.TakerFeePercent)
		if pnl.Sign() <= 0 {
			continue
		}

		sig := models.Signal{
			StrategyID:   t.StrategyID,
			StrategyName: t.StrategyName,
			Symbol:       t.Symbol,
			EntryType:    models.EntryExit,
			PositionType: t.PositionType,
			Price:        price,
			Timestamp:    time.Now().UTC(),
			Source:       models.SourceAutoClose,
			IsAuto:       true,
		}
		if err := e.OnSignal(ctx, sig, true); err != nil {
			log.Debug().Err(err).Str("trade", t.ID).Msg("auto-close signal rejected")
		}
	}
}
