package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"

	"github.com/mreyes/signalrunner/models"
)

// BinanceGateway implements Gateway against Binance spot and margin.
type BinanceGateway struct {
	client *binance.Client

	mu          sync.Mutex
	rateLimiter time.Time
	minInterval time.Duration

	cache *balanceCache
}

// NewBinanceGateway builds a gateway talking to Binance.com (or Binance.US
// when useUS is set) with the given balance-cache TTL.
func NewBinanceGateway(apiKey, apiSecret string, useUS bool, balanceTTL time.Duration) *BinanceGateway {
	client := binance.NewClient(apiKey, apiSecret)
	if useUS {
		client.BaseURL = "https://api.binance.us"
	}
	return &BinanceGateway{
		client:      client,
		minInterval: 100 * time.Millisecond,
		cache:       newBalanceCache(balanceTTL),
	}
}

func (g *BinanceGateway) rateLimit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.rateLimiter.IsZero() {
		if elapsed := time.Since(g.rateLimiter); elapsed < g.minInterval {
			time.Sleep(g.minInterval - elapsed)
		}
	}
	g.rateLimiter = time.Now()
}

// LoadMarkets reads trading rules from the exchange-info endpoint only.
// Market.MarginAllowed is not populated and stays false for every symbol.
func (g *BinanceGateway) LoadMarkets(ctx context.Context) (map[string]*models.Market, error) {
	g.rateLimit()
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, wrapTransient("load markets", err)
	}

	markets := make(map[string]*models.Market, len(info.Symbols))
	for _, sym := range info.Symbols {
		m := &models.Market{
			Symbol: sym.Symbol,
			Base:   sym.BaseAsset,
			Quote:  sym.QuoteAsset,
			Active: sym.Status == "TRADING",
			Spot:   sym.IsSpotTradingAllowed,
			Margin: sym.IsMarginTradingAllowed,
		}
		if f := sym.LotSizeFilter(); f != nil {
			m.StepSize = decimalOrZero(f.StepSize)
			m.MinAmount = decimalOrZero(f.MinQuantity)
			m.MaxAmount = decimalOrZero(f.MaxQuantity)
			m.QuantityPrecision = precisionOf(f.StepSize)
		}
		if f := sym.PriceFilter(); f != nil {
			m.PricePrecision = precisionOf(f.TickSize)
		}
		if f := sym.MinNotionalFilter(); f != nil {
			m.MinCost = decimalOrZero(f.MinNotional)
		}
		if f := sym.MarketLotSizeFilter(); f != nil {
			m.MaxMarketOrderSize = decimalOrZero(f.MaxQuantity)
		}
		markets[sym.Symbol] = m
	}
	return markets, nil
}

func (g *BinanceGateway) LoadPrices(ctx context.Context) (map[string]models.Decimal, error) {
	g.rateLimit()
	prices, err := g.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, wrapTransient("load prices", err)
	}

	out := make(map[string]models.Decimal, len(prices))
	for _, p := range prices {
		d, err := models.NewDecimalFromString(p.Price)
		if err != nil {
			continue
		}
		out[p.Symbol] = d
	}
	return out, nil
}

func (g *BinanceGateway) FetchBalance(ctx context.Context, wallet models.Wallet) (map[string]*models.WalletData, error) {
	if cached, ok := g.cache.get(wallet); ok {
		return cached, nil
	}

	g.rateLimit()
	var out map[string]*models.WalletData
	switch wallet {
	case models.WalletSpot:
		acct, err := g.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return nil, wrapTransient("fetch spot balance", err)
		}
		out = make(map[string]*models.WalletData, len(acct.Balances))
		for _, b := range acct.Balances {
			free := decimalOrZero(b.Free)
			locked := decimalOrZero(b.Locked)
			out[b.Asset] = &models.WalletData{
				Type:  wallet,
				Quote: b.Asset,
				Free:  free,
				Locked: locked,
				Total: free.Add(locked),
			}
		}
	case models.WalletMargin:
		acct, err := g.client.NewGetMarginAccountService().Do(ctx)
		if err != nil {
			return nil, wrapTransient("fetch margin balance", err)
		}
		out = make(map[string]*models.WalletData, len(acct.UserAssets))
		for _, a := range acct.UserAssets {
			free := decimalOrZero(a.Free)
			locked := decimalOrZero(a.Locked)
			out[a.Asset] = &models.WalletData{
				Type:   wallet,
				Quote:  a.Asset,
				Free:   free,
				Locked: locked,
				Total:  free.Add(locked),
				Borrow: decimalOrZero(a.Borrowed),
			}
		}
	default:
		return nil, fmt.Errorf("unsupported wallet %q", wallet)
	}

	g.cache.set(wallet, out)
	return out, nil
}

func (g *BinanceGateway) InvalidateBalance(wallet models.Wallet) {
	g.cache.invalidate(wallet)
}

func (g *BinanceGateway) CreateMarketOrder(ctx context.Context, wallet models.Wallet, symbol string, side OrderSide, quantity models.Decimal) (*OrderResult, error) {
	g.rateLimit()
	binanceSide := binance.SideTypeBuy
	if side == SideSell {
		binanceSide = binance.SideTypeSell
	}
	qtyStr := quantity.String()

	if wallet == models.WalletMargin {
		resp, err := g.client.NewCreateMarginOrderService().
			Symbol(symbol).Side(binanceSide).Type(binance.OrderTypeMarket).
			Quantity(qtyStr).Do(ctx)
		if err != nil {
			return nil, wrapTransient("create margin order", err)
		}
		return marginOrderResult(resp)
	}

	resp, err := g.client.NewCreateOrderService().
		Symbol(symbol).Side(binanceSide).Type(binance.OrderTypeMarket).
		Quantity(qtyStr).Do(ctx)
	if err != nil {
		return nil, wrapTransient("create spot order", err)
	}
	return spotOrderResult(resp)
}

func (g *BinanceGateway) MarginBorrow(ctx context.Context, asset string, amount models.Decimal) (string, error) {
	g.rateLimit()
	resp, err := g.client.NewMarginBorrowService().Asset(asset).Amount(amount.String()).Do(ctx)
	if err != nil {
		return "", wrapTransient("margin borrow", err)
	}
	return strconv.FormatInt(resp.TranID, 10), nil
}

func (g *BinanceGateway) MarginRepay(ctx context.Context, asset string, amount models.Decimal) (string, error) {
	g.rateLimit()
	resp, err := g.client.NewMarginRepayService().Asset(asset).Amount(amount.String()).Do(ctx)
	if err != nil {
		return "", wrapTransient("margin repay", err)
	}
	return strconv.FormatInt(resp.TranID, 10), nil
}

func (g *BinanceGateway) AmountToPrecision(market *models.Market, amount models.Decimal) models.Decimal {
	return quantizeDown(amount, market.QuantityPrecision)
}

func (g *BinanceGateway) PriceToPrecision(market *models.Market, price models.Decimal) models.Decimal {
	return quantizeDown(price, market.PricePrecision)
}

func quantizeDown(v models.Decimal, precision int32) models.Decimal {
	if precision < 0 {
		return v
	}
	return v.Truncate(precision)
}

func decimalOrZero(s string) models.Decimal {
	d, err := models.NewDecimalFromString(s)
	if err != nil {
		return models.Zero
	}
	return d
}

// precisionOf counts decimal places in a Binance filter value like
// "0.00010000" to derive a quantity/price precision for Decimal.Truncate.
func precisionOf(s string) int32 {
	d, err := models.NewDecimalFromString(s)
	if err != nil {
		return 8
	}
	exp := d.Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

func spotOrderResult(resp *binance.CreateOrderResponse) (*OrderResult, error) {
	filled := decimalOrZero(resp.ExecutedQuantity)
	cost := decimalOrZero(resp.CummulativeQuoteQuantity)
	avg := models.Zero
	if !filled.IsZero() {
		avg = cost.Div(filled)
	}
	return &OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		FilledQuantity:  filled,
		FilledCost:      cost,
		AveragePrice:    avg,
	}, nil
}

func marginOrderResult(resp *binance.CreateOrderResponse) (*OrderResult, error) {
	return spotOrderResult(resp)
}

func wrapTransient(op string, err error) error {
	log.Warn().Err(err).Str("op", op).Msg("exchange call failed")
	return &models.SignalError{
		Kind:   models.ExchangeTransient,
		Reason: fmt.Sprintf("%s: %v", op, err),
		Severe: true,
	}
}
