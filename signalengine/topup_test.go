package signalengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mreyes/signalrunner/models"
)

func TestTopUpFeeToken_DisabledWithoutConfig(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.TopUpFeeToken(context.Background(), "BNB", models.WalletSpot)
	require.Error(t, err)
}

func TestTopUpFeeToken_BuysDeficitWhenBelowFloat(t *testing.T) {
	e, gw, _ := newTestEngine(t)
	e.cfg.BNBAutoTopUp = "USDT"
	e.cfg.BNBFreeFloat = models.NewDecimalFromFloat(1)

	gw.mu.Lock()
	gw.balances[models.WalletSpot]["BNB"] = &models.WalletData{Free: models.NewDecimalFromFloat(0.1)}
	gw.mu.Unlock()
	e.meta.Markets["BNBUSDT"] = &models.Market{
		Symbol: "BNBUSDT", Base: "BNB", Quote: "USDT", Active: true, Spot: true,
		StepSize: models.NewDecimalFromFloat(0.01), MinAmount: models.NewDecimalFromFloat(0.01), MinCost: models.NewDecimalFromFloat(5),
	}

	result, err := e.TopUpFeeToken(context.Background(), "BNB", models.WalletSpot)
	require.NoError(t, err)
	require.NotNil(t, result)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, []string{"buy"}, gw.orders)
}

func TestTopUpFeeToken_NoOpWhenAlreadyAboveFloat(t *testing.T) {
	e, gw, _ := newTestEngine(t)
	e.cfg.BNBAutoTopUp = "USDT"
	e.cfg.BNBFreeFloat = models.NewDecimalFromFloat(1)

	gw.mu.Lock()
	gw.balances[models.WalletSpot]["BNB"] = &models.WalletData{Free: models.NewDecimalFromFloat(5)}
	gw.mu.Unlock()

	result, err := e.TopUpFeeToken(context.Background(), "BNB", models.WalletSpot)
	require.NoError(t, err)
	assert.Nil(t, result)
}
