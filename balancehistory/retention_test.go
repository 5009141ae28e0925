package balancehistory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mreyes/signalrunner/models"
)

func day(offsetDays int) time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offsetDays)
}

func TestTrim_KeepsDayZeroForever(t *testing.T) {
	key := models.BalanceHistoryKey{TradingMode: models.TradingReal, QuoteAsset: "USDT"}
	history := models.BalanceHistory{
		key: {
			{Date: day(0), CloseBalance: models.NewDecimalFromFloat(100)},
			{Date: day(10), CloseBalance: models.NewDecimalFromFloat(101)},
		},
	}

	now := day(0).Add(2 * 365 * 24 * time.Hour)
	Trim(history, now)

	days := history[key]
	assert.Len(t, days, 1)
	assert.True(t, days[0].Date.Equal(day(0)))
}

func TestTrim_DropsOnlyEntriesOlderThanOneYear(t *testing.T) {
	key := models.BalanceHistoryKey{TradingMode: models.TradingReal, QuoteAsset: "USDT"}
	now := day(400)
	history := models.BalanceHistory{
		key: {
			{Date: day(0)},
			{Date: day(10)},
			{Date: day(390)},
		},
	}

	Trim(history, now)

	days := history[key]
	assert.Len(t, days, 2)
	assert.True(t, days[0].Date.Equal(day(0)))
	assert.True(t, days[1].Date.Equal(day(390)))
}

func TestTrim_SortsBeforeTrimming(t *testing.T) {
	key := models.BalanceHistoryKey{TradingMode: models.TradingReal, QuoteAsset: "USDT"}
	history := models.BalanceHistory{
		key: {
			{Date: day(5)},
			{Date: day(0)},
			{Date: day(3)},
		},
	}

	Trim(history, day(5))

	days := history[key]
	for i := 1; i < len(days); i++ {
		assert.True(t, days[i-1].Date.Before(days[i].Date) || days[i-1].Date.Equal(days[i].Date))
	}
	assert.True(t, days[0].Date.Equal(day(0)))
}
