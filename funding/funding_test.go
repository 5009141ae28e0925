package funding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mreyes/signalrunner/config"
	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/wallet"
)

func TestDecide_None_ShrinksCostToFree(t *testing.T) {
	candidates := []wallet.Snapshot{{Wallet: models.WalletSpot, Free: models.NewDecimalFromFloat(50)}}
	d, err := Decide(candidates, models.NewDecimalFromFloat(100), Options{Policy: config.FundingNone})
	require.NoError(t, err)
	assert.True(t, d.Cost.Equal(models.NewDecimalFromFloat(50)))
}

func TestDecide_BorrowMin_OnlyBorrowsShortfall(t *testing.T) {
	candidates := []wallet.Snapshot{{Wallet: models.WalletMargin, Free: models.NewDecimalFromFloat(30)}}
	d, err := Decide(candidates, models.NewDecimalFromFloat(100), Options{Policy: config.FundingBorrowMin})
	require.NoError(t, err)
	assert.True(t, d.Borrow.Equal(models.NewDecimalFromFloat(70)))
	assert.True(t, d.Cost.Equal(models.NewDecimalFromFloat(100)))
}

func TestDecide_BorrowAll_BorrowsFullCost(t *testing.T) {
	candidates := []wallet.Snapshot{{Wallet: models.WalletMargin, Free: models.NewDecimalFromFloat(30)}}
	d, err := Decide(candidates, models.NewDecimalFromFloat(100), Options{Policy: config.FundingBorrowAll})
	require.NoError(t, err)
	assert.True(t, d.Borrow.Equal(models.NewDecimalFromFloat(100)))
}

func market(minAmount, minCost float64) *models.Market {
	return &models.Market{MinAmount: models.NewDecimalFromFloat(minAmount), MinCost: models.NewDecimalFromFloat(minCost)}
}

func TestDecide_SellLargest_MatchesScenarioS3(t *testing.T) {
	trades := []*models.TradeOpen{
		{ID: "t1", Symbol: "AAAUSDT", Quantity: models.NewDecimalFromFloat(1), Cost: models.NewDecimalFromFloat(0.02), PriceBuy: models.NewDecimalFromFloat(1)},
		{ID: "t2", Symbol: "AAAUSDT", Quantity: models.NewDecimalFromFloat(1), Cost: models.NewDecimalFromFloat(0.01), PriceBuy: models.NewDecimalFromFloat(1)},
	}
	candidates := []wallet.Snapshot{{
		Wallet: models.WalletSpot, Quote: "USDT",
		Free:   models.NewDecimalFromFloat(0.005),
		Trades: trades,
	}}
	opts := Options{
		Policy:  config.FundingSellLargest,
		Markets: map[string]*models.Market{"AAAUSDT": market(0.0001, 0.001)},
	}

	d, err := Decide(candidates, models.NewDecimalFromFloat(0.03), opts)
	require.NoError(t, err)
	assert.True(t, d.Cost.Equal(models.NewDecimalFromFloat(0.0125)))
	require.Len(t, d.Rebalance, 1)
	assert.Equal(t, "t1", d.Rebalance[0].Trade.ID)
	assert.True(t, d.Rebalance[0].TargetCost.Equal(models.NewDecimalFromFloat(0.0125)))
}

func TestDecide_SellAll_NoRebalanceWhenFreeCoversLargest(t *testing.T) {
	trades := []*models.TradeOpen{
		{ID: "t1", Symbol: "AAAUSDT", Quantity: models.NewDecimalFromFloat(1), Cost: models.NewDecimalFromFloat(0.01), PriceBuy: models.NewDecimalFromFloat(1)},
	}
	candidates := []wallet.Snapshot{{
		Wallet: models.WalletSpot, Quote: "USDT",
		Free:   models.NewDecimalFromFloat(1),
		Trades: trades,
	}}
	opts := Options{Policy: config.FundingSellAll, Markets: map[string]*models.Market{"AAAUSDT": market(0.0001, 0.001)}}

	d, err := Decide(candidates, models.NewDecimalFromFloat(0.5), opts)
	require.NoError(t, err)
	assert.Empty(t, d.Rebalance)
}

func TestEligibleRebalanceSet_ExcludesStoppedAndTooSmall(t *testing.T) {
	trades := []*models.TradeOpen{
		{ID: "stopped", Symbol: "AAAUSDT", IsStopped: true, Quantity: models.NewDecimalFromFloat(1), Cost: models.NewDecimalFromFloat(1)},
		{ID: "toosmall", Symbol: "AAAUSDT", Quantity: models.NewDecimalFromFloat(0.00001), Cost: models.NewDecimalFromFloat(0.0001)},
		{ID: "ok", Symbol: "AAAUSDT", Quantity: models.NewDecimalFromFloat(1), Cost: models.NewDecimalFromFloat(1)},
	}
	opts := Options{Markets: map[string]*models.Market{"AAAUSDT": market(0.0001, 0.001)}}

	out := eligibleRebalanceSet(trades, opts)
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].ID)
}
