package models

// Wallet identifies a spot or cross-margin balance pool on the exchange.
type Wallet string

const (
	WalletSpot   Wallet = "spot"
	WalletMargin Wallet = "margin"
)

// Market describes one tradable symbol's trading rules, as enriched by the
// Exchange Gateway's loadMarkets (spec.md §4.7).
type Market struct {
	Symbol             string  `json:"symbol"`
	Base               string  `json:"base"`
	Quote              string  `json:"quote"`
	Active             bool    `json:"active"`
	Spot               bool    `json:"spot"`
	Margin             bool    `json:"margin"`
	MarginAllowed      bool    `json:"margin_allowed"`
	PricePrecision     int32   `json:"price_precision"`
	QuantityPrecision  int32   `json:"quantity_precision"`
	StepSize           Decimal `json:"step_size"`
	MinAmount          Decimal `json:"min_amount"`
	MaxAmount          Decimal `json:"max_amount"`
	MinCost            Decimal `json:"min_cost"`
	MaxCost            Decimal `json:"max_cost"`
	MaxMarketOrderSize Decimal `json:"max_market_order_size"`
}

// WalletData is a transient snapshot of a wallet's funds for one quote
// asset, computed fresh for each sizing decision (spec.md §4.3).
type WalletData struct {
	Type      Wallet
	Quote     string
	Free      Decimal
	Locked    Decimal
	Total     Decimal
	Potential Decimal
	// Borrow is the outstanding margin-borrowed amount for this asset, zero
	// for spot wallets.
	Borrow Decimal
	// Trades is the set of open, executed, non-closing long trades in
	// this wallet+quote: rebalance candidates.
	Trades []*TradeOpen
}
