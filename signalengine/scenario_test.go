package signalengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mreyes/signalrunner/config"
	"github.com/mreyes/signalrunner/exchange"
	"github.com/mreyes/signalrunner/hub"
	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/notify"
	"github.com/mreyes/signalrunner/queue"
)

// scenarioGateway fills every order at the price handed to CreateMarketOrder
// and tracks borrow/repay calls so the end-to-end scenarios in spec.md §8
// can assert on them directly. MarginRepay can be made to fail once, to
// exercise the partial-sequence-failure path.
type scenarioGateway struct {
	mu            sync.Mutex
	market        *models.Market
	balances      map[models.Wallet]map[string]*models.WalletData
	lastPrice     models.Decimal
	borrows       []string
	repays        []string
	failNextRepay bool
}

func (g *scenarioGateway) LoadMarkets(ctx context.Context) (map[string]*models.Market, error) {
	return map[string]*models.Market{g.market.Symbol: g.market}, nil
}

func (g *scenarioGateway) LoadPrices(ctx context.Context) (map[string]models.Decimal, error) {
	return map[string]models.Decimal{}, nil
}

func (g *scenarioGateway) FetchBalance(ctx context.Context, wallet models.Wallet) (map[string]*models.WalletData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[wallet], nil
}

func (g *scenarioGateway) InvalidateBalance(wallet models.Wallet) {}

func (g *scenarioGateway) CreateMarketOrder(ctx context.Context, wallet models.Wallet, symbol string, side exchange.OrderSide, quantity models.Decimal) (*exchange.OrderResult, error) {
	g.mu.Lock()
	price := g.lastPrice
	g.mu.Unlock()
	return &exchange.OrderResult{ExchangeOrderID: "o", FilledQuantity: quantity, FilledCost: quantity.Mul(price), AveragePrice: price}, nil
}

func (g *scenarioGateway) MarginBorrow(ctx context.Context, asset string, amount models.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.borrows = append(g.borrows, asset)
	return "b", nil
}

func (g *scenarioGateway) MarginRepay(ctx context.Context, asset string, amount models.Decimal) (string, error) {
	g.mu.Lock()
	fail := g.failNextRepay
	g.failNextRepay = false
	g.mu.Unlock()
	if fail {
		return "", assert.AnError
	}
	g.mu.Lock()
	g.repays = append(g.repays, asset)
	g.mu.Unlock()
	return "r", nil
}

func (g *scenarioGateway) AmountToPrecision(market *models.Market, amount models.Decimal) models.Decimal {
	return amount
}

func (g *scenarioGateway) PriceToPrecision(market *models.Market, price models.Decimal) models.Decimal {
	return price
}

// setPrice is called by the test immediately before each signal so
// CreateMarketOrder fills at the scenario's literal price.
func (g *scenarioGateway) setPrice(p models.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPrice = p
}

func newScenarioGateway(market *models.Market, marginFree, spotFree models.Decimal) *scenarioGateway {
	return &scenarioGateway{
		market: market,
		balances: map[models.Wallet]map[string]*models.WalletData{
			models.WalletMargin: {market.Quote: {Free: marginFree}, market.Base: {Free: models.Zero}},
			models.WalletSpot:   {market.Quote: {Free: spotFree}},
		},
	}
}

type fakeHubSink struct {
	mu   sync.Mutex
	acks []hub.TradedAck
}

func (h *fakeHubSink) SendAck(ack hub.TradedAck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acks = append(h.acks, ack)
}

func (h *fakeHubSink) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.acks)
}

func scenarioConfig() *config.Config {
	return &config.Config{
		PrimaryWallet:        config.WalletSpot,
		TradeLongFunds:       config.FundingNone,
		WalletBuffer:         models.Zero,
		MinCostBuffer:        models.Zero,
		TakerFeePercent:      models.NewDecimalFromFloat(0.1),
		MaxLongTrades:        10,
		MaxShortTrades:       10,
		IsTradeMarginEnabled: true,
		IsTradeShortEnabled:  true,
	}
}

func newScenarioEngine(t *testing.T, gw *scenarioGateway, cfg *config.Config) (*Engine, *fakeHubSink) {
	t.Helper()
	h := &fakeHubSink{}
	e := New(cfg, gw, nil, queue.New(0), h, notify.New(models.LevelInfo), nil)
	require.NoError(t, e.RefreshMarkets(context.Background()))
	e.meta.Strategies["s1"] = &models.Strategy{
		StrategyID: "s1", Name: "alpha", TradeAmount: models.NewDecimalFromFloat(0.01),
		TradingMode: models.TradingReal, Active: true, Known: true,
	}
	return e, h
}

// S1: simple long, sufficient spot funds (spec.md §8 S1).
func TestScenarioS1_SimpleLongSufficientSpotFunds(t *testing.T) {
	market := &models.Market{
		Symbol: "XYZBTC", Base: "XYZ", Quote: "BTC", Active: true, Spot: true,
		StepSize: models.NewDecimalFromFloat(0.00000001), MinAmount: models.NewDecimalFromFloat(0.00000001), MinCost: models.Zero,
	}
	gw := newScenarioGateway(market, models.Zero, models.NewDecimalFromFloat(1))
	cfg := scenarioConfig()
	e, _ := newScenarioEngine(t, gw, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.queue.Run(ctx)

	gw.setPrice(models.NewDecimalFromFloat(100))
	enter := models.Signal{StrategyID: "s1", Symbol: "XYZBTC", EntryType: models.EntryEnter, PositionType: models.PositionLong, Price: models.NewDecimalFromFloat(100), Timestamp: time.Now(), Source: models.SourceHub}
	require.NoError(t, e.OnSignal(ctx, enter, false))

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.meta.TradesOpen) == 1 && e.meta.TradesOpen[0].IsExecuted
	}, time.Second, 5*time.Millisecond)

	e.mu.Lock()
	trade := e.meta.TradesOpen[0]
	e.mu.Unlock()
	assert.True(t, trade.Quantity.Equal(models.NewDecimalFromFloat(0.0001)))
	assert.True(t, trade.Cost.Equal(models.NewDecimalFromFloat(0.01)))

	gw.setPrice(models.NewDecimalFromFloat(110))
	exit := models.Signal{StrategyID: "s1", Symbol: "XYZBTC", EntryType: models.EntryExit, PositionType: models.PositionLong, Price: models.NewDecimalFromFloat(110), Timestamp: time.Now(), Source: models.SourceHub}
	require.NoError(t, e.OnSignal(ctx, exit, false))

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.meta.TradesOpen) == 0
	}, time.Second, 5*time.Millisecond)

	e.mu.Lock()
	days := e.meta.BalanceHistory[models.BalanceHistoryKey{TradingMode: models.TradingReal, QuoteAsset: "BTC"}]
	e.mu.Unlock()
	require.Len(t, days, 1)
	realized := days[0].ProfitLoss.Add(days[0].EstimatedFees)
	assert.True(t, realized.Equal(models.NewDecimalFromFloat(0.000989)), "realized pnl: %s", realized.String())
}

// S2: long funded by borrow-min on the margin wallet (spec.md §8 S2).
func TestScenarioS2_LongBorrowMin(t *testing.T) {
	market := &models.Market{
		Symbol: "XYZBTC", Base: "XYZ", Quote: "BTC", Active: true, Margin: true, MarginAllowed: true,
		StepSize: models.NewDecimalFromFloat(0.00000001), MinAmount: models.NewDecimalFromFloat(0.00000001), MinCost: models.Zero,
	}
	gw := newScenarioGateway(market, models.NewDecimalFromFloat(0.004), models.Zero)
	cfg := scenarioConfig()
	cfg.PrimaryWallet = config.WalletMargin
	cfg.TradeLongFunds = config.FundingBorrowMin
	e, _ := newScenarioEngine(t, gw, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.queue.Run(ctx)

	gw.setPrice(models.NewDecimalFromFloat(100))
	enter := models.Signal{StrategyID: "s1", Symbol: "XYZBTC", EntryType: models.EntryEnter, PositionType: models.PositionLong, Price: models.NewDecimalFromFloat(100), Timestamp: time.Now(), Source: models.SourceHub}
	require.NoError(t, e.OnSignal(ctx, enter, false))

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.meta.TradesOpen) == 1 && e.meta.TradesOpen[0].IsExecuted
	}, time.Second, 5*time.Millisecond)

	e.mu.Lock()
	trade := e.meta.TradesOpen[0]
	e.mu.Unlock()
	assert.True(t, trade.Borrow.Equal(models.NewDecimalFromFloat(0.006)), "borrow: %s", trade.Borrow.String())
	assert.True(t, trade.Quantity.Equal(models.NewDecimalFromFloat(0.0001)))
	assert.Equal(t, models.WalletMargin, trade.Wallet)

	gw.setPrice(models.NewDecimalFromFloat(100))
	exit := models.Signal{StrategyID: "s1", Symbol: "XYZBTC", EntryType: models.EntryExit, PositionType: models.PositionLong, Price: models.NewDecimalFromFloat(100), Timestamp: time.Now(), Source: models.SourceHub}
	require.NoError(t, e.OnSignal(ctx, exit, false))

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.meta.TradesOpen) == 0
	}, time.Second, 5*time.Millisecond)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.repays, 1)
	assert.Equal(t, "BTC", gw.repays[0])
}

// S4: short happy path on the margin wallet (spec.md §8 S4).
func TestScenarioS4_ShortHappyPath(t *testing.T) {
	market := &models.Market{
		Symbol: "ETHBTC", Base: "ETH", Quote: "BTC", Active: true, Margin: true, MarginAllowed: true,
		StepSize: models.NewDecimalFromFloat(0.0001), MinAmount: models.NewDecimalFromFloat(0.0001), MinCost: models.Zero,
	}
	gw := newScenarioGateway(market, models.NewDecimalFromFloat(0.05), models.Zero)
	cfg := scenarioConfig()
	e, h := newScenarioEngine(t, gw, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.queue.Run(ctx)

	gw.setPrice(models.NewDecimalFromFloat(0.1))
	enter := models.Signal{StrategyID: "s1", Symbol: "ETHBTC", EntryType: models.EntryEnter, PositionType: models.PositionShort, Price: models.NewDecimalFromFloat(0.1), Timestamp: time.Now(), Source: models.SourceHub}
	require.NoError(t, e.OnSignal(ctx, enter, false))

	require.Eventually(t, func() bool {
		return h.count() == 1
	}, time.Second, 5*time.Millisecond)

	e.mu.Lock()
	trade := e.meta.TradesOpen[0]
	e.mu.Unlock()
	assert.True(t, trade.Quantity.Equal(models.NewDecimalFromFloat(0.1)), "qty: %s", trade.Quantity.String())
	assert.True(t, trade.Borrow.Equal(models.NewDecimalFromFloat(0.1)))
	assert.True(t, trade.Cost.Equal(models.NewDecimalFromFloat(0.01)), "entry proceeds: %s", trade.Cost.String())

	gw.setPrice(models.NewDecimalFromFloat(0.09))
	exit := models.Signal{StrategyID: "s1", Symbol: "ETHBTC", EntryType: models.EntryExit, PositionType: models.PositionShort, Price: models.NewDecimalFromFloat(0.09), Timestamp: time.Now(), Source: models.SourceHub}
	require.NoError(t, e.OnSignal(ctx, exit, false))

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.meta.TradesOpen) == 0
	}, time.Second, 5*time.Millisecond)

	gw.mu.Lock()
	require.Len(t, gw.repays, 1)
	assert.Equal(t, "ETH", gw.repays[0])
	gw.mu.Unlock()

	require.Eventually(t, func() bool {
		return h.count() == 2
	}, time.Second, 5*time.Millisecond)

	// Shorting 0.1 ETH at 0.1 and buying it back at 0.09 is a profit, not a
	// loss: the realized PnL must come out positive even though the
	// exit fill (a buy) is numerically below the entry fill (a sell).
	e.mu.Lock()
	days := e.meta.BalanceHistory[models.BalanceHistoryKey{TradingMode: models.TradingReal, QuoteAsset: "BTC"}]
	e.mu.Unlock()
	require.Len(t, days, 1)
	realized := days[0].ProfitLoss.Add(days[0].EstimatedFees)
	assert.True(t, realized.GreaterThan(models.Zero), "realized pnl should be a profit on a falling short, got %s", realized.String())
	assert.True(t, realized.Equal(models.NewDecimalFromFloat(0.000991)), "realized pnl: %s", realized.String())
}

// S5: partial sequence failure on a short exit (repay fails after the buy
// leg fills). The trade must be forced stopped and stay open rather than
// vanish, and a later manual close must still be able to complete it once
// the exchange-side repay succeeds (spec.md §8 S5).
func TestScenarioS5_PartialSequenceFailureThenManualClose(t *testing.T) {
	market := &models.Market{
		Symbol: "ETHBTC", Base: "ETH", Quote: "BTC", Active: true, Margin: true, MarginAllowed: true,
		StepSize: models.NewDecimalFromFloat(0.0001), MinAmount: models.NewDecimalFromFloat(0.0001), MinCost: models.Zero,
	}
	gw := newScenarioGateway(market, models.NewDecimalFromFloat(0.05), models.Zero)
	cfg := scenarioConfig()
	e, h := newScenarioEngine(t, gw, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.queue.Run(ctx)

	gw.setPrice(models.NewDecimalFromFloat(0.1))
	enter := models.Signal{StrategyID: "s1", Symbol: "ETHBTC", EntryType: models.EntryEnter, PositionType: models.PositionShort, Price: models.NewDecimalFromFloat(0.1), Timestamp: time.Now(), Source: models.SourceHub}
	require.NoError(t, e.OnSignal(ctx, enter, false))

	require.Eventually(t, func() bool {
		return h.count() == 1
	}, time.Second, 5*time.Millisecond)

	e.mu.Lock()
	tradeID := e.meta.TradesOpen[0].ID
	e.mu.Unlock()

	gw.mu.Lock()
	gw.failNextRepay = true
	gw.mu.Unlock()

	gw.setPrice(models.NewDecimalFromFloat(0.09))
	exit := models.Signal{StrategyID: "s1", Symbol: "ETHBTC", EntryType: models.EntryExit, PositionType: models.PositionShort, Price: models.NewDecimalFromFloat(0.09), Timestamp: time.Now(), Source: models.SourceHub}
	require.NoError(t, e.OnSignal(ctx, exit, false))

	// The exit order fills but the repay call fails: the trade is forced
	// stopped and remains in the open list, never reaching the hub ack.
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if len(e.meta.TradesOpen) != 1 {
			return false
		}
		return e.meta.TradesOpen[0].IsStopped && !e.meta.TradesClosing[tradeID]
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.count(), "no exit ack until the repay actually succeeds")

	// An auto signal must not touch a stopped trade; only a manual close
	// can push it through once the exchange-side repay works again.
	autoExit := exit
	err := e.OnSignal(ctx, autoExit, true)
	require.Error(t, err)

	e.mu.Lock()
	e.meta.Prices["ETHBTC"] = models.NewDecimalFromFloat(0.09)
	e.mu.Unlock()

	require.NoError(t, e.ManualClose(ctx, tradeID))

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.meta.TradesOpen) == 0
	}, time.Second, 5*time.Millisecond)

	// The entry ack, the rejection ack for the auto exit, and the eventual
	// exit ack all reach the hub, despite the partial failure in between.
	require.Eventually(t, func() bool {
		return h.count() == 3
	}, time.Second, 5*time.Millisecond)
}
