package models

import (
	"fmt"
	"strings"
	"time"
)

// BalanceHistoryDay is one UTC day's running book for a (TradingMode,
// QuoteAsset) pair (spec.md §3 "BalanceHistory").
type BalanceHistoryDay struct {
	Date              time.Time `json:"date" db:"date"`
	OpenBalance       Decimal   `json:"open_balance" db:"open_balance"`
	CloseBalance      Decimal   `json:"close_balance" db:"close_balance"`
	EstimatedFees     Decimal   `json:"estimated_fees" db:"estimated_fees"`
	ProfitLoss        Decimal   `json:"profit_loss" db:"profit_loss"`
	MinOpenTrades     int       `json:"min_open_trades" db:"min_open_trades"`
	MaxOpenTrades     int       `json:"max_open_trades" db:"max_open_trades"`
	TotalOpenedTrades int       `json:"total_opened_trades" db:"total_opened_trades"`
	TotalClosedTrades int       `json:"total_closed_trades" db:"total_closed_trades"`
}

// BalanceHistoryKey indexes the per-day ledgers.
type BalanceHistoryKey struct {
	TradingMode TradingMode
	QuoteAsset  string
}

// MarshalText satisfies encoding.TextMarshaler so BalanceHistoryKey can be
// used as a JSON object key (encoding/json requires map keys be strings,
// integers, or TextMarshalers).
func (k BalanceHistoryKey) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%s|%s", k.TradingMode, k.QuoteAsset)), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *BalanceHistoryKey) UnmarshalText(text []byte) error {
	parts := strings.SplitN(string(text), "|", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid balance history key %q", text)
	}
	k.TradingMode = TradingMode(parts[0])
	k.QuoteAsset = parts[1]
	return nil
}

// BalanceHistory is the full persisted book: a map from (mode, quote) to an
// ordered-by-date list of days.
type BalanceHistory map[BalanceHistoryKey][]BalanceHistoryDay
