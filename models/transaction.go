package models

import "time"

// TransactionKind names the exchange-side effect a logged transaction
// records. Borrow/repay pairs must match in asset and amount for a given
// trade (spec.md §8 P2).
type TransactionKind string

const (
	TxBuy    TransactionKind = "buy"
	TxSell   TransactionKind = "sell"
	TxBorrow TransactionKind = "borrow"
	TxRepay  TransactionKind = "repay"
)

// Transaction is one row in the append-only transaction log.
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	TradeID   string          `json:"trade_id" db:"trade_id"`
	Kind      TransactionKind `json:"kind" db:"kind"`
	Asset     string          `json:"asset" db:"asset"`
	Amount    Decimal         `json:"amount" db:"amount"`
	// ExchangeTxID is the id returned by marginBorrow/marginRepay, or the
	// exchange order id for buy/sell rows.
	ExchangeTxID string    `json:"exchange_tx_id" db:"exchange_tx_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
