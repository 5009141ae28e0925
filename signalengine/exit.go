package signalengine

import "github.com/mreyes/signalrunner/models"

// scheduleExit updates the existing trade with the exit signal's price and
// marks it closing, so subsequent sizing decisions treat its long-cost as
// about to be released (spec.md §4.1 "Exit pipeline", §4.2). Caller must
// hold e.mu.
func (e *Engine) scheduleExit(trade *models.TradeOpen, sig models.Signal) {
	switch trade.PositionType {
	case models.PositionLong:
		trade.PriceSell = sig.Price
	case models.PositionShort:
		trade.PriceBuy = sig.Price
	}
	trade.TimeSell = sig.Timestamp
	trade.TimeUpdated = sig.Timestamp
	trade.Cost = trade.Quantity.Mul(sig.Price)

	e.meta.TradesClosing[trade.ID] = true
}

// clearClosing removes a trade from the closing overlay once its execute
// task has finished (success or failure). Caller must hold e.mu.
func (e *Engine) clearClosing(tradeID string) {
	delete(e.meta.TradesClosing, tradeID)
}
