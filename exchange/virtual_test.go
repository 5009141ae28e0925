package exchange

import (
	"context"
	"testing"

	"github.com/mreyes/signalrunner/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualLedgerBuyAndSellRoundTrip(t *testing.T) {
	v := NewVirtualLedger(models.NewDecimalFromFloat(1000), []string{"USDT"})
	v.SeedPrices(map[string]models.Decimal{"BTCUSDT": models.NewDecimalFromFloat(20000)})
	v.SeedMarkets(map[string]*models.Market{
		"BTCUSDT": {Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
	})

	ctx := context.Background()
	res, err := v.CreateMarketOrder(ctx, models.WalletSpot, "BTCUSDT", SideBuy, models.NewDecimalFromFloat(0.01))
	require.NoError(t, err)
	assert.Equal(t, "200", res.FilledCost.String())

	balances, err := v.FetchBalance(ctx, models.WalletSpot)
	require.NoError(t, err)
	assert.Equal(t, "800", balances["USDT"].Free.String())
	assert.Equal(t, "0.01", balances["BTC"].Free.String())

	_, err = v.CreateMarketOrder(ctx, models.WalletSpot, "BTCUSDT", SideSell, models.NewDecimalFromFloat(0.01))
	require.NoError(t, err)

	balances, err = v.FetchBalance(ctx, models.WalletSpot)
	require.NoError(t, err)
	assert.Equal(t, "1000", balances["USDT"].Free.String())
	assert.True(t, balances["BTC"].Free.IsZero())
}

func TestVirtualLedgerRejectsInsufficientFunds(t *testing.T) {
	v := NewVirtualLedger(models.NewDecimalFromFloat(10), []string{"USDT"})
	v.SeedPrices(map[string]models.Decimal{"BTCUSDT": models.NewDecimalFromFloat(20000)})
	v.SeedMarkets(map[string]*models.Market{"BTCUSDT": {Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}})

	_, err := v.CreateMarketOrder(context.Background(), models.WalletSpot, "BTCUSDT", SideBuy, models.NewDecimalFromFloat(1))
	require.Error(t, err)
	var sigErr *models.SignalError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, models.ValidationRejected, sigErr.Kind)
}

func TestVirtualLedgerMarginBorrowRepay(t *testing.T) {
	v := NewVirtualLedger(models.Zero, nil)

	_, err := v.MarginBorrow(context.Background(), "USDT", models.NewDecimalFromFloat(100))
	require.NoError(t, err)

	balances, err := v.FetchBalance(context.Background(), models.WalletMargin)
	require.NoError(t, err)
	assert.Equal(t, "100", balances["USDT"].Free.String())

	_, err = v.MarginRepay(context.Background(), "USDT", models.NewDecimalFromFloat(100))
	require.NoError(t, err)

	balances, err = v.FetchBalance(context.Background(), models.WalletMargin)
	require.NoError(t, err)
	assert.True(t, balances["USDT"].Free.IsZero())
}
