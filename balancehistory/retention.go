// Package balancehistory trims and aggregates the per-day ledgers kept in
// models.BalanceHistory (spec.md §3 "BalanceHistory", §4.18).
package balancehistory

import (
	"sort"
	"time"

	"github.com/mreyes/signalrunner/models"
)

const retentionWindow = 365 * 24 * time.Hour

// Trim enforces the retention rule for every (mode, quote) ledger in place:
// day 0 (the oldest entry) is kept forever so fees rolled forward into it
// are never lost, and any other entry older than one year is dropped
// (spec.md §3, Testable Property P4).
func Trim(history models.BalanceHistory, now time.Time) {
	for key, days := range history {
		if len(days) <= 1 {
			continue
		}
		sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })

		cutoff := now.Add(-retentionWindow)
		kept := days[:1]
		for _, d := range days[1:] {
			if d.Date.Before(cutoff) {
				continue
			}
			kept = append(kept, d)
		}
		history[key] = kept
	}
}
