package wallet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mreyes/signalrunner/models"
)

func usdtMarket() *models.Market {
	return &models.Market{
		Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT",
		StepSize: models.NewDecimalFromFloat(0.0001),
		MinAmount: models.NewDecimalFromFloat(0.0001),
		MinCost:   models.NewDecimalFromFloat(10),
	}
}

func TestBuildSnapshot_LockedAndFreeDeductions(t *testing.T) {
	markets := map[string]*models.Market{"BTCUSDT": usdtMarket()}
	trades := []*models.TradeOpen{
		{ID: "a", Symbol: "BTCUSDT", Wallet: models.WalletSpot, PositionType: models.PositionLong, IsExecuted: true, Cost: models.NewDecimalFromFloat(100)},
		{ID: "b", Symbol: "BTCUSDT", Wallet: models.WalletSpot, PositionType: models.PositionLong, IsExecuted: false, Cost: models.NewDecimalFromFloat(20)},
	}
	closing := map[string]bool{}

	snap := BuildSnapshot(models.WalletSpot, "USDT", models.NewDecimalFromFloat(500), trades, markets, closing, models.Zero)

	assert.True(t, snap.Locked.Equal(models.NewDecimalFromFloat(100)))
	assert.True(t, snap.Free.Equal(models.NewDecimalFromFloat(480)))
	assert.Len(t, snap.Trades, 1)
}

func TestBuildSnapshot_ClosingTradeReleasesFunds(t *testing.T) {
	markets := map[string]*models.Market{"BTCUSDT": usdtMarket()}
	trades := []*models.TradeOpen{
		{ID: "a", Symbol: "BTCUSDT", Wallet: models.WalletSpot, PositionType: models.PositionLong, IsExecuted: true, Cost: models.NewDecimalFromFloat(100)},
	}
	closing := map[string]bool{"a": true}

	snap := BuildSnapshot(models.WalletSpot, "USDT", models.NewDecimalFromFloat(500), trades, markets, closing, models.Zero)

	assert.True(t, snap.Free.Equal(models.NewDecimalFromFloat(600)))
	assert.True(t, snap.Locked.IsZero())
}

func TestBuildSnapshot_WalletBufferAppliedToFreeAndTotal(t *testing.T) {
	snap := BuildSnapshot(models.WalletSpot, "USDT", models.NewDecimalFromFloat(1000), nil, nil, nil, models.NewDecimalFromFloat(0.1))
	assert.True(t, snap.Free.Equal(models.NewDecimalFromFloat(900)))
	assert.True(t, snap.Total.Equal(models.NewDecimalFromFloat(900)))
}

func TestCalculatePnL_MatchesScenarioS6(t *testing.T) {
	pnl := CalculatePnL(models.NewDecimalFromFloat(100), models.NewDecimalFromFloat(105), models.NewDecimalFromFloat(0.1))
	assert.True(t, pnl.GreaterThan(models.Zero))
}

func TestCalculatePnL_Loss(t *testing.T) {
	pnl := CalculatePnL(models.NewDecimalFromFloat(100), models.NewDecimalFromFloat(95), models.NewDecimalFromFloat(0.1))
	assert.True(t, pnl.LessThan(models.Zero))
}

func TestComputeRebalance_HappyPath(t *testing.T) {
	m := usdtMarket()
	parent := &models.TradeOpen{
		ID: "parent", Symbol: "BTCUSDT", PriceBuy: models.NewDecimalFromFloat(100),
		Quantity: models.NewDecimalFromFloat(1), Cost: models.NewDecimalFromFloat(100),
		TimeBuy: time.Now(),
	}

	child, err := ComputeRebalance(m, parent, models.NewDecimalFromFloat(20), models.NewDecimalFromFloat(100))
	require.NoError(t, err)
	assert.True(t, child.Quantity.GreaterThan(models.Zero))
	assert.True(t, child.Cost.LessThanOrEqual(models.NewDecimalFromFloat(80)))
}

func TestComputeRebalance_RejectsBelowLegalMinimum(t *testing.T) {
	m := usdtMarket()
	parent := &models.TradeOpen{
		ID: "parent", Symbol: "BTCUSDT", PriceBuy: models.NewDecimalFromFloat(100),
		Quantity: models.NewDecimalFromFloat(0.0002), Cost: models.NewDecimalFromFloat(0.02),
	}

	_, err := ComputeRebalance(m, parent, models.NewDecimalFromFloat(0.001), models.NewDecimalFromFloat(100))
	require.Error(t, err)
}

func TestApplyAndRestoreRebalance(t *testing.T) {
	parent := &models.TradeOpen{Quantity: models.NewDecimalFromFloat(1), Cost: models.NewDecimalFromFloat(100)}
	child := RebalanceChild{Quantity: models.NewDecimalFromFloat(0.2), Cost: models.NewDecimalFromFloat(20)}

	ApplyRebalance(parent, child)
	assert.True(t, parent.Quantity.Equal(models.NewDecimalFromFloat(0.8)))
	assert.True(t, parent.Cost.Equal(models.NewDecimalFromFloat(80)))

	RestoreRebalance(parent, child)
	assert.True(t, parent.Quantity.Equal(models.NewDecimalFromFloat(1)))
	assert.True(t, parent.Cost.Equal(models.NewDecimalFromFloat(100)))
}
