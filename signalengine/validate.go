package signalengine

import (
	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/wallet"
)

// validateEnter applies every reject-on-enter rule from spec.md §4.1
// "Validation". Caller must hold e.mu.
func (e *Engine) validateEnter(sig models.Signal) *models.SignalError {
	strat, ok := e.meta.Strategies[sig.StrategyID]
	if !ok || !strat.Known || !strat.Active {
		return models.NewRejection("unknown or inactive strategy", false)
	}
	if strat.Stopped {
		return models.NewRejection("strategy is stopped", false)
	}

	key := models.TradeKey{StrategyID: sig.StrategyID, Symbol: sig.Symbol, PositionType: sig.PositionType}
	if e.meta.FindOpenTrade(key) != nil {
		return models.NewRejection("duplicate open trade for strategy/symbol/position", false)
	}

	if e.cfg.StrategyLossLimit > 0 {
		trigger := models.NewDecimalFromFloat(float64(e.cfg.StrategyLossLimit)).Mul(e.cfg.StrategyLimitThreshold).Round(0)
		if models.NewDecimalFromFloat(float64(strat.LossTradeRun)).GreaterThanOrEqual(trigger) {
			openCount := e.countOpenForStrategy(sig.StrategyID)
			if openCount >= (e.cfg.StrategyLossLimit - strat.LossTradeRun) {
				return models.NewRejection("strategy at loss-limit threshold", true)
			}
		}
	}

	if sig.PositionType == models.PositionShort && !e.cfg.IsTradeShortEnabled {
		return models.NewRejection("short positions disabled by config", false)
	}
	if sig.PositionType == models.PositionShort && !e.cfg.IsTradeMarginEnabled {
		return models.NewRejection("short entry requires margin trading enabled", false)
	}

	market := e.meta.Markets[sig.Symbol]
	if market == nil || !market.Active {
		return models.NewRejection("symbol excluded, inactive, or unsupported", false)
	}
	if sig.PositionType == models.PositionShort && !market.MarginAllowed {
		return models.NewRejection("symbol not margin-allowed", false)
	}

	longCount, shortCount := e.countOpenByPosition()
	if sig.PositionType == models.PositionLong && e.cfg.MaxLongTrades > 0 && longCount >= e.cfg.MaxLongTrades {
		return models.NewRejection("max long trades reached", false)
	}
	if sig.PositionType == models.PositionShort && e.cfg.MaxShortTrades > 0 && shortCount >= e.cfg.MaxShortTrades {
		return models.NewRejection("max short trades reached", false)
	}

	return nil
}

// validateExit applies the reject-on-exit rules. Caller must hold e.mu.
func (e *Engine) validateExit(sig models.Signal, isAuto bool) (*models.TradeOpen, *models.SignalError) {
	key := models.TradeKey{StrategyID: sig.StrategyID, Symbol: sig.Symbol, PositionType: sig.PositionType}
	trade := e.meta.FindOpenTrade(key)
	if trade == nil {
		return nil, models.NewRejection("no matching open trade", false)
	}
	if e.meta.TradesClosing[trade.ID] {
		return nil, models.NewRejection("trade already closing", false)
	}
	if isAuto && trade.IsStopped {
		return nil, models.NewRejection("auto signal on a stopped trade", false)
	}
	if isAuto && trade.IsHodl {
		// A long's open leg is its PriceBuy; a short's open leg is its
		// PriceSell (spec.md §3), so the close-at-sig.Price check swaps
		// which argument is the cost basis and which is the candidate exit.
		var pnl models.Decimal
		if trade.PositionType == models.PositionShort {
			pnl = wallet.CalculatePnL(sig.Price, trade.PriceSell, e.cfg.TakerFeePercent)
		} else {
			pnl = wallet.CalculatePnL(trade.PriceBuy, sig.Price, e.cfg.TakerFeePercent)
		}
		if pnl.Sign() < 0 {
			return nil, models.NewRejection("auto signal would close a HODL trade at a loss", false)
		}
	}
	return trade, nil
}

func (e *Engine) countOpenForStrategy(strategyID string) int {
	n := 0
	for _, t := range e.meta.TradesOpen {
		if t.StrategyID == strategyID {
			n++
		}
	}
	return n
}

func (e *Engine) countOpenByPosition() (longs, shorts int) {
	for _, t := range e.meta.TradesOpen {
		switch t.PositionType {
		case models.PositionLong:
			longs++
		case models.PositionShort:
			shorts++
		}
	}
	return
}
