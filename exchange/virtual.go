package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mreyes/signalrunner/models"
)

// VirtualLedger simulates order fills against the last known price instead
// of placing anything on the live exchange, so virtual-mode strategies run
// the exact same entry/exit pipeline as real ones (spec.md §4.5). No
// interest ever accrues and borrow/repay always succeed.
type VirtualLedger struct {
	mu       sync.Mutex
	balances map[models.Wallet]map[string]models.Decimal
	prices   map[string]models.Decimal
	markets  map[string]*models.Market
	counter  int
}

// NewVirtualLedger seeds every wallet with fundsPerQuote units of each
// quote asset named in seedQuotes.
func NewVirtualLedger(fundsPerQuote models.Decimal, seedQuotes []string) *VirtualLedger {
	v := &VirtualLedger{
		balances: make(map[models.Wallet]map[string]models.Decimal),
		prices:   make(map[string]models.Decimal),
		markets:  make(map[string]*models.Market),
	}
	for _, wallet := range []models.Wallet{models.WalletSpot, models.WalletMargin} {
		v.balances[wallet] = make(map[string]models.Decimal)
		for _, q := range seedQuotes {
			v.balances[wallet][q] = fundsPerQuote
		}
	}
	return v
}

// SeedMarkets and SeedPrices let the owner push the live exchange's market
// rules and prices into the virtual ledger, so sizing math and precision
// rounding behave identically between real and virtual trades.
func (v *VirtualLedger) SeedMarkets(markets map[string]*models.Market) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markets = markets
}

func (v *VirtualLedger) SeedPrices(prices map[string]models.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices = prices
}

func (v *VirtualLedger) LoadMarkets(ctx context.Context) (map[string]*models.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.markets, nil
}

func (v *VirtualLedger) LoadPrices(ctx context.Context) (map[string]models.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.prices, nil
}

func (v *VirtualLedger) FetchBalance(ctx context.Context, wallet models.Wallet) (map[string]*models.WalletData, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]*models.WalletData, len(v.balances[wallet]))
	for asset, amount := range v.balances[wallet] {
		out[asset] = &models.WalletData{Type: wallet, Quote: asset, Free: amount, Total: amount}
	}
	return out, nil
}

func (v *VirtualLedger) InvalidateBalance(models.Wallet) {}

func (v *VirtualLedger) CreateMarketOrder(ctx context.Context, wallet models.Wallet, symbol string, side OrderSide, quantity models.Decimal) (*OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	price, ok := v.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no virtual price for %s", symbol)
	}
	market := v.markets[symbol]
	base, quote := baseQuoteOf(market, symbol)
	cost := quantity.Mul(price)

	if v.balances[wallet] == nil {
		v.balances[wallet] = make(map[string]models.Decimal)
	}

	switch side {
	case SideBuy:
		if v.balances[wallet][quote].LessThan(cost) {
			return nil, &models.SignalError{Kind: models.ValidationRejected, Reason: "insufficient virtual funds", Severe: false}
		}
		v.balances[wallet][quote] = v.balances[wallet][quote].Sub(cost)
		v.balances[wallet][base] = v.balances[wallet][base].Add(quantity)
	case SideSell:
		if v.balances[wallet][base].LessThan(quantity) {
			return nil, &models.SignalError{Kind: models.ValidationRejected, Reason: "insufficient virtual position", Severe: false}
		}
		v.balances[wallet][base] = v.balances[wallet][base].Sub(quantity)
		v.balances[wallet][quote] = v.balances[wallet][quote].Add(cost)
	}

	v.counter++
	log.Debug().Str("symbol", symbol).Str("side", string(side)).Msg("virtual order filled")
	return &OrderResult{
		ExchangeOrderID: fmt.Sprintf("virtual-%06d", v.counter),
		FilledQuantity:  quantity,
		FilledCost:      cost,
		AveragePrice:    price,
	}, nil
}

func (v *VirtualLedger) MarginBorrow(ctx context.Context, asset string, amount models.Decimal) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balances[models.WalletMargin] == nil {
		v.balances[models.WalletMargin] = make(map[string]models.Decimal)
	}
	v.balances[models.WalletMargin][asset] = v.balances[models.WalletMargin][asset].Add(amount)
	return "virtual-borrow-" + uuid.NewString()[:8], nil
}

func (v *VirtualLedger) MarginRepay(ctx context.Context, asset string, amount models.Decimal) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[models.WalletMargin][asset] = v.balances[models.WalletMargin][asset].Sub(amount)
	return "virtual-repay-" + uuid.NewString()[:8], nil
}

func (v *VirtualLedger) AmountToPrecision(market *models.Market, amount models.Decimal) models.Decimal {
	if market == nil {
		return amount
	}
	return quantizeDown(amount, market.QuantityPrecision)
}

func (v *VirtualLedger) PriceToPrecision(market *models.Market, price models.Decimal) models.Decimal {
	if market == nil {
		return price
	}
	return quantizeDown(price, market.PricePrecision)
}

func baseQuoteOf(market *models.Market, symbol string) (base, quote string) {
	if market != nil {
		return market.Base, market.Quote
	}
	// Fallback heuristic when the market hasn't been loaded: assume a
	// trailing 4-letter quote asset, the common case for USDT/BUSD pairs.
	if len(symbol) > 4 {
		return symbol[:len(symbol)-4], symbol[len(symbol)-4:]
	}
	return symbol, ""
}
