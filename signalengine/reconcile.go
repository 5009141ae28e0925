package signalengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mreyes/signalrunner/models"
)

// persistedSnapshots is the shape persisted under each state-store key, used only
// for decoding at startup.
type persistedSnapshots struct {
	Strategies       map[string]*models.Strategy
	TradesOpen       []*models.TradeOpen
	VirtualBalances  map[models.Wallet]map[string]models.Decimal
	BalanceHistory   models.BalanceHistory
	PublicStrategies map[string]*models.PublicStrategy
}

// Reconcile runs the startup procedure from spec.md §4.6: load persisted
// state, load markets and the hub's own open-trade view, match the two,
// and discard anything that can no longer be trusted.
func (e *Engine) Reconcile(ctx context.Context, raw map[string]json.RawMessage, hubOpenTrades []*models.TradeOpen) error {
	persisted, err := decodeSnapshots(raw)
	if err != nil {
		return &models.SignalError{Kind: models.StartupUnrecoverable, Reason: fmt.Sprintf("decode persisted state: %v", err)}
	}

	if err := e.RefreshMarkets(ctx); err != nil {
		return &models.SignalError{Kind: models.StartupUnrecoverable, Reason: fmt.Sprintf("load markets: %v", err)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if persisted.Strategies != nil {
		e.meta.Strategies = persisted.Strategies
	}
	if persisted.BalanceHistory != nil {
		e.meta.BalanceHistory = persisted.BalanceHistory
	}
	if persisted.PublicStrategies != nil {
		e.meta.PublicStrategies = persisted.PublicStrategies
	}
	if persisted.VirtualBalances != nil {
		e.meta.VirtualBalances = persisted.VirtualBalances
	}

	if len(persisted.TradesOpen) > 0 {
		e.meta.TradesOpen = e.reconcileAgainstHub(persisted.TradesOpen, hubOpenTrades)
	} else if len(hubOpenTrades) > 0 {
		e.meta.TradesOpen = e.reconcileFromHubOnly(hubOpenTrades)
	}

	e.markDirty("strategies")
	e.markDirty("tradesOpen")
	e.markDirty("balanceHistory")
	e.markDirty("publicStrategies")
	e.markDirty("virtualBalances")
	return nil
}

// reconcileAgainstHub implements spec.md §4.6 step 4: persisted trades the
// hub still reports are kept, taking the hub's stopped flag when the hub has
// it set; persisted trades the hub does not report are kept with a warning if
// executed and dropped otherwise. Hub trades with no persisted match are
// ignored.
func (e *Engine) reconcileAgainstHub(persisted, hubTrades []*models.TradeOpen) []*models.TradeOpen {
	hubByKey := make(map[models.TradeKey]*models.TradeOpen, len(hubTrades))
	for _, t := range hubTrades {
		hubByKey[t.Key()] = t
	}

	kept := make([]*models.TradeOpen, 0, len(persisted))
	for _, t := range persisted {
		hubTrade, onHub := hubByKey[t.Key()]
		if !onHub {
			if !t.IsExecuted {
				continue
			}
			e.notifier.Warn(context.Background(), "reconcile_discard", t.Symbol, fmt.Sprintf("trade %s not reported by hub, keeping with warning until next exit signal", t.ID))
			kept = append(kept, t)
			continue
		}
		if !t.IsStopped && hubTrade.IsStopped {
			t.IsStopped = true
		}
		kept = append(kept, t)
	}
	return kept
}

// reconcileFromHubOnly handles spec.md §4.6 step 5, when no persisted trades
// survived: it keeps the hub's trades in the hub's order, dropping any whose
// strategy is unknown, whose market is unknown or inactive, or whose PriceBuy
// is zero. Trades are not matched against wallet capacity, and this function
// assigns no wallet, cost or borrow to them.
func (e *Engine) reconcileFromHubOnly(hubTrades []*models.TradeOpen) []*models.TradeOpen {
	var kept []*models.TradeOpen
	for _, t := range hubTrades {
		strat, known := e.meta.Strategies[t.StrategyID]
		market, tradable := e.meta.Markets[t.Symbol]
		if !known || !strat.Known || !tradable || !market.Active || t.PriceBuy.IsZero() {
			e.notifier.Warn(context.Background(), "reconcile_invalidate", t.Symbol, fmt.Sprintf("invalidating hub-reported trade %s: strategy or market no longer known", t.ID))
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

func decodeSnapshots(raw map[string]json.RawMessage) (persistedSnapshots, error) {
	var out persistedSnapshots
	if v, ok := raw["strategies"]; ok {
		if err := json.Unmarshal(v, &out.Strategies); err != nil {
			return out, err
		}
	}
	if v, ok := raw["tradesOpen"]; ok {
		if err := json.Unmarshal(v, &out.TradesOpen); err != nil {
			return out, err
		}
	}
	if v, ok := raw["virtualBalances"]; ok {
		if err := json.Unmarshal(v, &out.VirtualBalances); err != nil {
			return out, err
		}
	}
	if v, ok := raw["balanceHistory"]; ok {
		if err := json.Unmarshal(v, &out.BalanceHistory); err != nil {
			return out, err
		}
	}
	if v, ok := raw["publicStrategies"]; ok {
		if err := json.Unmarshal(v, &out.PublicStrategies); err != nil {
			return out, err
		}
	}
	return out, nil
}
