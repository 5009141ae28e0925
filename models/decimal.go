package models

import "github.com/shopspring/decimal"

// Decimal is the fixed-precision type used for every price, quantity, cost,
// borrow and fee value in the engine. Binary floats are never used for
// money: shopspring/decimal avoids the representation drift that would
// otherwise creep into repeated borrow/repay and rebalance arithmetic.
type Decimal = decimal.Decimal

// Zero is the additive identity, exported for readability at call sites.
var Zero = decimal.Zero

// NewDecimalFromFloat is a thin wrapper kept at the package boundary so
// call sites never import shopspring/decimal directly.
func NewDecimalFromFloat(f float64) Decimal {
	return decimal.NewFromFloat(f)
}

// NewDecimalFromString parses a base-10 string, the form every persisted
// amount is stored in (never a binary float column).
func NewDecimalFromString(s string) (Decimal, error) {
	return decimal.NewFromString(s)
}
