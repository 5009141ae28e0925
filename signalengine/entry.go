package signalengine

import (
	"context"
	"fmt"

	"github.com/mreyes/signalrunner/funding"
	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/wallet"
)

// candidateWallets returns the ordered wallet list a signal's position
// type may size against (spec.md §4.1 step 1): for shorts, margin only;
// for longs, [primary, other] filtered by market support and config.
func (e *Engine) candidateWallets(market *models.Market, position models.PositionType) []models.Wallet {
	if position == models.PositionShort {
		return []models.Wallet{models.WalletMargin}
	}

	primary := models.Wallet(e.cfg.PrimaryWallet)
	other := models.WalletSpot
	if primary == models.WalletSpot {
		other = models.WalletMargin
	}

	var out []models.Wallet
	for _, w := range []models.Wallet{primary, other} {
		if w == models.WalletMargin {
			if !e.cfg.IsTradeMarginEnabled || !market.MarginAllowed {
				continue
			}
			if !market.Margin {
				continue
			}
		} else if !market.Spot {
			continue
		}
		out = append(out, w)
	}
	return out
}

// buildSnapshots fetches balances and builds a wallet.Snapshot per
// candidate wallet for the trade's quote asset (spec.md §4.1 step 2,
// §4.3). Caller must hold e.mu.
func (e *Engine) buildSnapshots(ctx context.Context, candidates []models.Wallet, quote string) ([]wallet.Snapshot, error) {
	snapshots := make([]wallet.Snapshot, 0, len(candidates))
	for _, w := range candidates {
		balances, err := e.gateway.FetchBalance(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("fetch balance for %s: %w", w, err)
		}
		free := models.Zero
		if wd, ok := balances[quote]; ok {
			free = wd.Free
		}
		snap := wallet.BuildSnapshot(w, quote, free, e.meta.TradesOpen, e.meta.Markets, e.meta.TradesClosing, e.cfg.WalletBuffer)
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// createTradeOpen runs the full entry pipeline for a validated enter
// signal (spec.md §4.1 "Entry pipeline"). Caller must hold e.mu.
func (e *Engine) createTradeOpen(ctx context.Context, sig models.Signal) (*models.TradeOpen, []funding.RebalanceTarget, *models.SignalError) {
	market := e.meta.Markets[sig.Symbol]
	if market == nil {
		return nil, nil, models.NewRejection("unknown market", false)
	}
	strat := e.meta.Strategies[sig.StrategyID]

	candidateList := e.candidateWallets(market, sig.PositionType)
	if len(candidateList) == 0 {
		return nil, nil, models.NewRejection("no wallet candidate supports this trade", false)
	}

	snapshots, err := e.buildSnapshots(ctx, candidateList, market.Quote)
	if err != nil {
		return nil, nil, &models.SignalError{Kind: models.ExchangeTransient, Reason: err.Error()}
	}

	// Initial cost: tradeAmount is either an absolute quote amount or a
	// fraction of the primary wallet's total.
	cost := strat.TradeAmount
	if e.cfg.IsBuyQtyFraction {
		primaryTotal := models.Zero
		for _, s := range snapshots {
			if s.Wallet == models.Wallet(e.cfg.PrimaryWallet) {
				primaryTotal = s.Total
				break
			}
		}
		cost = strat.TradeAmount.Mul(primaryTotal)
	}
	cost = e.snapMinCost(market, cost)

	var chosenWallet models.Wallet
	var borrow models.Decimal = models.Zero
	var rebalance []funding.RebalanceTarget

	if sig.PositionType == models.PositionShort {
		chosenWallet = models.WalletMargin
	} else {
		decision, err := funding.Decide(snapshots, cost, funding.Options{
			Policy:          e.cfg.TradeLongFunds,
			IsFundsNoLoss:   e.cfg.IsFundsNoLoss,
			TakerFeePercent: e.cfg.TakerFeePercent,
			Markets:         e.meta.Markets,
			Prices:          e.priceLookupLocked,
		})
		if err != nil {
			return nil, nil, models.NewRejection(fmt.Sprintf("funding policy rejected trade: %v", err), false)
		}
		chosenWallet = decision.Wallet
		cost = decision.Cost
		borrow = decision.Borrow
		rebalance = decision.Rebalance
	}

	cost = e.snapMinCost(market, cost)
	if cost.Sign() <= 0 {
		return nil, nil, models.NewRejection("cost invalid after sizing", false)
	}

	quantity := cost.Div(sig.Price)
	quantity = e.gateway.AmountToPrecision(market, quantity)
	if quantity.Sign() <= 0 {
		return nil, nil, models.NewRejection("quantity invalid after precision snap", false)
	}
	cost = quantity.Mul(sig.Price)

	if sig.PositionType == models.PositionShort {
		borrow = quantity
	}

	now := sig.Timestamp
	trade := &models.TradeOpen{
		ID:           models.NewTradeID(sig.StrategyID, sig.Symbol, sig.PositionType, now),
		StrategyID:   sig.StrategyID,
		StrategyName: sig.StrategyName,
		Symbol:       sig.Symbol,
		PositionType: sig.PositionType,
		TradingMode:  strat.TradingMode,
		Wallet:       chosenWallet,
		Quantity:     quantity,
		Cost:         cost,
		Borrow:       borrow,
		TimeBuy:      now,
		TimeUpdated:  now,
	}
	// A long opens with a buy; a short opens with a sell (spec.md §3).
	if sig.PositionType == models.PositionShort {
		trade.PriceSell = sig.Price
	} else {
		trade.PriceBuy = sig.Price
	}

	e.meta.TradesOpen = append(e.meta.TradesOpen, trade)
	e.markDirty("tradesOpen")

	return trade, rebalance, nil
}

// snapMinCost raises cost to the market's minimum notional, buffered by
// MIN_COST_BUFFER, when it would otherwise fall short (spec.md §4.1 step
// 3 "Min-cost clamp").
func (e *Engine) snapMinCost(market *models.Market, cost models.Decimal) models.Decimal {
	one := models.NewDecimalFromFloat(1)
	buffer := one.Add(e.cfg.MinCostBuffer)
	minWithBuffer := market.MinCost.Mul(buffer)
	if cost.LessThan(minWithBuffer) {
		return minWithBuffer
	}
	return cost
}

func (e *Engine) priceLookupLocked(symbol string) (models.Decimal, bool) {
	p, ok := e.meta.Prices[symbol]
	return p, ok
}
