// Package signalengine is the Signal Engine: the core of the trade
// lifecycle. It owns every mutable MetaData group, validates and resolves
// incoming signals into trades, sizes and funds them against the wallet
// model, schedules exchange work onto the Trade Queue, and reconciles
// persisted state at startup (spec.md §4.1).
package signalengine

import (
	"context"
	"sync"
	"time"

	"github.com/mreyes/signalrunner/config"
	"github.com/mreyes/signalrunner/exchange"
	"github.com/mreyes/signalrunner/hub"
	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/notify"
	"github.com/mreyes/signalrunner/queue"
	"github.com/mreyes/signalrunner/state"
)

// bnbState is the fee-token hysteresis state machine (spec.md §4.1
// "Post-trade accounting").
type bnbState string

const (
	bnbOK    bnbState = "ok"
	bnbHigh  bnbState = "high"
	bnbLow   bnbState = "low"
	bnbEmpty bnbState = "empty"
)

// Engine owns MetaData and drives the full signal-to-trade lifecycle. A
// single mutex serializes access to MetaData across hub callbacks,
// operator HTTP actions, the trade queue worker, and the background tick
// loop, matching the single-threaded cooperative model in spec.md §5.
type Engine struct {
	cfg      *config.Config
	gateway  exchange.Gateway
	store    *state.Store
	queue    *queue.Queue
	hub      hubSender
	notifier *notify.Hub

	mu   sync.Mutex
	meta *models.MetaData

	bnb bnbState

	// topupMu serializes TopUpFeeToken, the one code path that places an
	// order outside the Trade Queue (SPEC_FULL.md §4.19). Queue tasks do not
	// take it.
	topupMu sync.Mutex

	priceCacheAt time.Time
	marketsAt    time.Time
}

// hubSender is the subset of *hub.Client the engine needs, narrowed so
// tests can supply a fake.
type hubSender interface {
	SendAck(ack hub.TradedAck)
}

// SetHub attaches the hub client once it exists. The hub client's own
// constructor needs the engine as its Handler, so callers wire it in this
// order: New(..., nil, ...), hub.NewClient(..., engine), engine.SetHub(client).
func (e *Engine) SetHub(h hubSender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hub = h
}

// New builds an Engine over an already-loaded (or freshly-empty) MetaData.
func New(cfg *config.Config, gw exchange.Gateway, store *state.Store, q *queue.Queue, hubClient hubSender, notifier *notify.Hub, meta *models.MetaData) *Engine {
	if meta == nil {
		meta = models.NewMetaData()
	}
	return &Engine{
		cfg:      cfg,
		gateway:  gw,
		store:    store,
		queue:    q,
		hub:      hubClient,
		notifier: notifier,
		meta:     meta,
		bnb:      bnbOK,
	}
}

// Snapshot implements state.Source: returns the current value of a
// MetaData group under lock, for the State Store's coalesced flush.
func (e *Engine) Snapshot(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch key {
	case state.KeyStrategies:
		return e.meta.Strategies, true
	case state.KeyTradesOpen:
		return e.meta.TradesOpen, true
	case state.KeyVirtualBalances:
		return e.meta.VirtualBalances, true
	case state.KeyBalanceHistory:
		return e.meta.BalanceHistory, true
	case state.KeyPublicStrategies:
		return e.meta.PublicStrategies, true
	case state.KeyVersion:
		return 1, true
	default:
		return nil, false
	}
}

// markDirty flags a group and asks the store to persist it on the next
// coalesced flush. Caller must already hold e.mu.
func (e *Engine) markDirty(key string) {
	if e.store != nil {
		e.store.MarkDirty(key)
	}
}

// RefreshMarkets reloads trading rules from the exchange gateway. Called at
// startup and whenever the background loop's markets go stale (>24h).
func (e *Engine) RefreshMarkets(ctx context.Context) error {
	markets, err := e.gateway.LoadMarkets(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.meta.Markets = markets
	e.marketsAt = time.Now()
	e.mu.Unlock()
	return nil
}

// RefreshPrices reloads the latest price ticker for every known symbol.
func (e *Engine) RefreshPrices(ctx context.Context) error {
	prices, err := e.gateway.LoadPrices(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.meta.Prices = prices
	e.priceCacheAt = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *Engine) priceLookup(symbol string) (models.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.meta.Prices[symbol]
	return p, ok
}

func (e *Engine) market(symbol string) *models.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta.Markets[symbol]
}

func (e *Engine) strategy(id string) *models.Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta.Strategies[id]
}

// BNBState reports the current fee-token hysteresis state, for the /pnl
// diagnostics endpoint.
func (e *Engine) BNBState() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.bnb)
}
