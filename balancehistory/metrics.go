package balancehistory

import (
	"sort"
	"time"

	"github.com/mreyes/signalrunner/models"
)

// Report is the aggregate performance picture for one (tradingType,
// quoteAsset) book, derived from its BalanceHistory ledger and the
// transaction log (SPEC_FULL.md §4.18, grounded on the teacher's
// analysis.PerformanceMetrics / backtesting.Metrics shape).
type Report struct {
	TradingMode     models.TradingMode `json:"trading_mode"`
	QuoteAsset      string             `json:"quote_asset"`
	Days            int                `json:"days"`
	TotalPnL        models.Decimal     `json:"total_pnl"`
	TotalFees       models.Decimal     `json:"total_fees"`
	PnLPercent      models.Decimal     `json:"pnl_percent"`
	WinningDays     int                `json:"winning_days"`
	LosingDays      int                `json:"losing_days"`
	WinRate         models.Decimal     `json:"win_rate"`
	TotalOpened     int                `json:"total_opened_trades"`
	TotalClosed     int                `json:"total_closed_trades"`
	AverageHoldTime time.Duration      `json:"-"`
	AvgHoldTimeSecs float64            `json:"avg_hold_time_secs"`
}

// Aggregate computes one Report per (mode, quote) ledger in history. closed
// carries every buy/sell transaction pair seen since the last reset, used
// only to estimate average hold time; it may be nil.
func Aggregate(history models.BalanceHistory, closed []models.Transaction) map[models.BalanceHistoryKey]Report {
	holdByTrade := pairHoldTimes(closed)

	out := make(map[models.BalanceHistoryKey]Report, len(history))
	for key, days := range history {
		if len(days) == 0 {
			continue
		}
		r := Report{TradingMode: key.TradingMode, QuoteAsset: key.QuoteAsset, Days: len(days)}

		opening := days[0].OpenBalance
		for _, d := range days {
			r.TotalPnL = r.TotalPnL.Add(d.ProfitLoss)
			r.TotalFees = r.TotalFees.Add(d.EstimatedFees)
			r.TotalOpened += d.TotalOpenedTrades
			r.TotalClosed += d.TotalClosedTrades
			switch {
			case d.ProfitLoss.Sign() > 0:
				r.WinningDays++
			case d.ProfitLoss.Sign() < 0:
				r.LosingDays++
			}
		}
		if opening.Sign() > 0 {
			r.PnLPercent = r.TotalPnL.Div(opening).Mul(models.NewDecimalFromFloat(100))
		}
		if r.Days > 0 {
			r.WinRate = models.NewDecimalFromFloat(float64(r.WinningDays) / float64(r.Days) * 100)
		}

		if avg, ok := holdByTrade[key.QuoteAsset]; ok {
			r.AverageHoldTime = avg
			r.AvgHoldTimeSecs = avg.Seconds()
		}

		out[key] = r
	}
	return out
}

// pairHoldTimes matches each trade's earliest buy-side transaction against
// its latest sell-side transaction and averages the span per quote asset.
// It is a best-effort estimate: a trade with only one leg recorded (still
// open, or history trimmed past it) is skipped.
func pairHoldTimes(txs []models.Transaction) map[string]time.Duration {
	type span struct {
		open, close time.Time
		asset       string
	}
	byTrade := make(map[string]*span)
	for _, tx := range txs {
		s, ok := byTrade[tx.TradeID]
		if !ok {
			s = &span{asset: tx.Asset}
			byTrade[tx.TradeID] = s
		}
		switch tx.Kind {
		case models.TxBuy, models.TxBorrow:
			if s.open.IsZero() || tx.CreatedAt.Before(s.open) {
				s.open = tx.CreatedAt
			}
		case models.TxSell, models.TxRepay:
			if tx.CreatedAt.After(s.close) {
				s.close = tx.CreatedAt
			}
		}
	}

	sums := make(map[string]time.Duration)
	counts := make(map[string]int)
	for _, s := range byTrade {
		if s.open.IsZero() || s.close.IsZero() || !s.close.After(s.open) {
			continue
		}
		sums[s.asset] += s.close.Sub(s.open)
		counts[s.asset]++
	}

	out := make(map[string]time.Duration, len(sums))
	for asset, total := range sums {
		out[asset] = total / time.Duration(counts[asset])
	}
	return out
}

// Sorted returns the reports ordered by (mode, quote) for stable /pnl output.
func Sorted(reports map[models.BalanceHistoryKey]Report) []Report {
	out := make([]Report, 0, len(reports))
	for _, r := range reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TradingMode != out[j].TradingMode {
			return out[i].TradingMode < out[j].TradingMode
		}
		return out[i].QuoteAsset < out[j].QuoteAsset
	})
	return out
}
