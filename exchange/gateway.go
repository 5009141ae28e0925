// Package exchange talks to the single external exchange the engine trades
// against: loading markets and prices, fetching wallet balances, and
// placing spot/margin orders and borrow/repay calls. A second,
// in-memory implementation backs virtual-mode strategies so they exercise
// the exact same interface without ever reaching the live exchange.
package exchange

import (
	"context"
	"time"

	"github.com/mreyes/signalrunner/models"
)

// OrderSide is buy or sell, the only two sides a market order can take.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderResult is what a successful CreateMarketOrder returns.
type OrderResult struct {
	ExchangeOrderID string
	FilledQuantity  models.Decimal
	FilledCost      models.Decimal
	AveragePrice    models.Decimal
}

// Gateway is the exchange contract the Signal Engine drives. Implementations
// never retry internally: a transient failure is surfaced as a
// *models.SignalError with Kind ExchangeTransient and the caller (the
// Trade Queue worker) decides whether to invalidate cached balances.
type Gateway interface {
	// LoadMarkets returns trading rules (precision, step size, min
	// notional) for every symbol, keyed by symbol. Called once at startup
	// and whenever the Signal Engine sees an unrecognized symbol.
	LoadMarkets(ctx context.Context) (map[string]*models.Market, error)

	// LoadPrices returns the latest price for every symbol known to the
	// exchange, keyed by symbol.
	LoadPrices(ctx context.Context) (map[string]models.Decimal, error)

	// FetchBalance returns free/locked/total for every asset held in the
	// given wallet. Implementations should cache this behind a
	// BalanceSyncDelay TTL; InvalidateBalance forces the next call to
	// bypass the cache.
	FetchBalance(ctx context.Context, wallet models.Wallet) (map[string]*models.WalletData, error)

	// InvalidateBalance drops the cached balance for a wallet, called
	// after any operation whose outcome is uncertain (ExchangeTransient).
	InvalidateBalance(wallet models.Wallet)

	// CreateMarketOrder places an immediate-or-cancel market order.
	CreateMarketOrder(ctx context.Context, wallet models.Wallet, symbol string, side OrderSide, quantity models.Decimal) (*OrderResult, error)

	// MarginBorrow borrows asset on margin, returning an exchange
	// transaction id for the transaction log.
	MarginBorrow(ctx context.Context, asset string, amount models.Decimal) (string, error)

	// MarginRepay repays a prior margin borrow.
	MarginRepay(ctx context.Context, asset string, amount models.Decimal) (string, error)

	// AmountToPrecision quantizes amount down to the market's step size,
	// the same rounding the exchange itself applies to order quantities.
	AmountToPrecision(market *models.Market, amount models.Decimal) models.Decimal

	// PriceToPrecision quantizes a price to the market's tick precision.
	PriceToPrecision(market *models.Market, price models.Decimal) models.Decimal
}

// balanceCache holds one wallet's balance snapshot behind a TTL, grounded
// on the teacher's in-memory data cache but narrowed to the one value shape
// the gateway actually needs.
type balanceCache struct {
	ttl     time.Duration
	entries map[models.Wallet]balanceEntry
}

type balanceEntry struct {
	data      map[string]*models.WalletData
	fetchedAt time.Time
}

func newBalanceCache(ttl time.Duration) *balanceCache {
	return &balanceCache{ttl: ttl, entries: make(map[models.Wallet]balanceEntry)}
}

func (c *balanceCache) get(wallet models.Wallet) (map[string]*models.WalletData, bool) {
	e, ok := c.entries[wallet]
	if !ok || time.Since(e.fetchedAt) > c.ttl {
		return nil, false
	}
	return e.data, true
}

func (c *balanceCache) set(wallet models.Wallet, data map[string]*models.WalletData) {
	c.entries[wallet] = balanceEntry{data: data, fetchedAt: time.Now()}
}

func (c *balanceCache) invalidate(wallet models.Wallet) {
	delete(c.entries, wallet)
}
