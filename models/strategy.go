// Package models provides the shared domain types for the signalrunner
// trade lifecycle engine. These types are used across all packages for
// consistent data representation and are the values persisted by the
// state store.
package models

// TradingMode selects whether a strategy's trades touch the real exchange
// or an in-memory ledger.
type TradingMode string

const (
	// TradingReal executes trades on the exchange.
	TradingReal TradingMode = "real"
	// TradingVirtual only updates a virtual balance ledger.
	TradingVirtual TradingMode = "virtual"
)

// Strategy is a named policy, owned by the external signal hub, that the
// engine follows. Most fields are refreshed from the hub's strategy-list
// payload. Name is taken from the payload that first lists the strategy and
// kept afterwards; Stopped and LossTradeRun are engine-owned and preserved
// across payloads, except that a change of Active resets both.
type Strategy struct {
	// StrategyID is the opaque identifier assigned by the hub.
	StrategyID string `json:"strategy_id" db:"strategy_id"`
	// Name is a human-readable label, taken from the hub payload that first
	// lists the strategy.
	Name string `json:"name" db:"name"`
	// TradeAmount is either an absolute quote-asset amount or, when
	// IS_BUY_QTY_FRACTION is set, a fraction of the primary wallet's total.
	TradeAmount Decimal `json:"trade_amount" db:"trade_amount"`
	// TradingMode selects real vs. virtual execution.
	TradingMode TradingMode `json:"trading_mode" db:"trading_mode"`
	// Active mirrors the hub's own enabled/disabled flag for the strategy.
	Active bool `json:"active" db:"active"`
	// Stopped is engine-owned: set by the loss-limit tripwire or an
	// operator action, never by the hub payload itself.
	Stopped bool `json:"stopped" db:"stopped"`
	// LossTradeRun counts consecutive losing exits since the last win.
	LossTradeRun int `json:"loss_trade_run" db:"loss_trade_run"`
	// Known is false for strategies only seen in trade identity tuples
	// (e.g. persisted trades whose strategy disappeared from a payload).
	// Such strategies are retained but never accept new signals.
	Known bool `json:"known" db:"known"`
}

// PublicStrategy counts short opens, long opens and closes seen for a
// strategy the engine observes but does not follow.
type PublicStrategy struct {
	StrategyID  string `json:"strategy_id" db:"strategy_id"`
	ShortOpened int    `json:"short_opened" db:"short_opened"`
	LongOpened  int    `json:"long_opened" db:"long_opened"`
	Closed      int    `json:"closed" db:"closed"`
}
