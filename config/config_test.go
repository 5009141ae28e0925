package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HUB_KEY", "test-hub-key")
	t.Setenv("EXCHANGE_API_KEY", "test-key")
	t.Setenv("EXCHANGE_API_SECRET", "test-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8099, cfg.ServerPort)
	assert.Equal(t, WalletSpot, cfg.PrimaryWallet)
	assert.Equal(t, FundingNone, cfg.TradeLongFunds)
	assert.True(t, cfg.WalletBuffer.IsZero())
	assert.Equal(t, 0, cfg.MaxLongTrades)
}

func TestLoad_ExcludeCoinsParsing(t *testing.T) {
	testCases := []struct {
		name     string
		envValue string
		expected []string
	}{
		{name: "empty", envValue: "", expected: nil},
		{name: "single", envValue: "DOGE", expected: []string{"DOGE"}},
		{name: "multiple with spaces", envValue: " DOGE , SHIB ,XRP", expected: []string{"DOGE", "SHIB", "XRP"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("EXCLUDE_COINS", tc.envValue)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tc.expected, cfg.ExcludeCoins)
		})
	}
}

func TestValidate_WalletBufferOutOfRange(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WALLET_BUFFER", "1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_BUFFER")
}

func TestValidate_InvalidPrimaryWallet(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRIMARY_WALLET", "checking")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRIMARY_WALLET")
}

func TestValidate_InvalidFundingPolicy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRADE_LONG_FUNDS", "print-money")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRADE_LONG_FUNDS")
}

func TestValidate_ShortRequiresMargin(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("IS_TRADE_SHORT_ENABLED", "true")
	t.Setenv("IS_TRADE_MARGIN_ENABLED", "false")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IS_TRADE_SHORT_ENABLED")
}

func TestValidate_MissingCredentials(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.NotEmpty(t, ve.Errors)
}

func TestValidate_BNBTopUpRequiresThreshold(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BNB_AUTO_TOP_UP", "USDT")
	t.Setenv("BNB_FREE_THRESHOLD", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BNB_AUTO_TOP_UP")
}

func TestReload_LogLevelAppliesWithoutRestart(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	t.Setenv("LOG_LEVEL", "debug")
	result, err := cfg.Reload()
	require.NoError(t, err)

	assert.False(t, result.RequiresRestart)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestReload_FundingPolicyChangeRequiresRestart(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	t.Setenv("TRADE_LONG_FUNDS", "borrow-all")
	result, err := cfg.Reload()
	require.NoError(t, err)

	assert.True(t, result.RequiresRestart)
	assert.Equal(t, FundingNone, cfg.TradeLongFunds, "structural fields are not applied live")
}
