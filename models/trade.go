package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// TradeOpen is the engine's record of a live or recently-closed position.
// Exactly one TradeOpen may exist per (StrategyID, Symbol, PositionType)
// at any time (spec.md §8 P1).
type TradeOpen struct {
	ID           string       `json:"id" db:"id"`
	StrategyID   string       `json:"strategy_id" db:"strategy_id"`
	StrategyName string       `json:"strategy_name" db:"strategy_name"`
	Symbol       string       `json:"symbol" db:"symbol"`
	PositionType PositionType `json:"position_type" db:"position_type"`
	TradingMode  TradingMode  `json:"trading_mode" db:"trading_mode"`
	Wallet       Wallet       `json:"wallet" db:"wallet"`

	Quantity Decimal `json:"quantity" db:"quantity"`
	Cost     Decimal `json:"cost" db:"cost"`
	// Borrow is denominated in base for a short, quote for a long.
	Borrow Decimal `json:"borrow" db:"borrow"`

	PriceBuy  Decimal `json:"price_buy" db:"price_buy"`
	PriceSell Decimal `json:"price_sell" db:"price_sell"`

	TimeBuy     time.Time `json:"time_buy" db:"time_buy"`
	TimeSell    time.Time `json:"time_sell" db:"time_sell"`
	TimeUpdated time.Time `json:"time_updated" db:"time_updated"`

	IsStopped bool `json:"is_stopped" db:"is_stopped"`
	IsHodl    bool `json:"is_hodl" db:"is_hodl"`
	IsExecuted bool `json:"is_executed" db:"is_executed"`
}

// NewTradeID derives the engine's short trade identifier: the first 12 hex
// characters of md5(strategyId|symbol|positionType|timeBuyUnixNano). It is
// deterministic given its inputs; callers must still check the open-trade
// list for a collision before accepting it (practically never happens, but
// cheaper to check than to assume).
func NewTradeID(strategyID, symbol string, positionType PositionType, timeBuy time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%s|%d", strategyID, symbol, positionType, timeBuy.UnixNano())))
	return hex.EncodeToString(sum[:])[:12]
}

// RequiresRepay reports whether closing this trade needs a repay step.
func (t *TradeOpen) RequiresRepay() bool {
	return t.Borrow.Sign() > 0
}

// Key returns the (strategy, symbol, positionType) identity tuple used to
// enforce the at-most-one-open-trade invariant.
type TradeKey struct {
	StrategyID   string
	Symbol       string
	PositionType PositionType
}

func (t *TradeOpen) Key() TradeKey {
	return TradeKey{StrategyID: t.StrategyID, Symbol: t.Symbol, PositionType: t.PositionType}
}
