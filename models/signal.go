package models

import "time"

// EntryType classifies whether a signal opens or closes a position.
type EntryType string

const (
	EntryEnter EntryType = "enter"
	EntryExit  EntryType = "exit"
)

// PositionType is the side of the position a signal refers to.
type PositionType string

const (
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
)

// SignalSource distinguishes how a signal came to exist, for ack routing
// and for the hub-silent rebalance-child rule (spec.md §4.1, §8).
type SignalSource string

const (
	// SourceHub is a signal delivered by the external hub.
	SourceHub SignalSource = "hub"
	// SourceManual is an operator-triggered close/hodl/delete action.
	SourceManual SignalSource = "manual"
	// SourceRebalance is a child sell the engine schedules internally to
	// free quote balance for a new long entry. Rebalance children never
	// emit a traded_* acknowledgement to the hub.
	SourceRebalance SignalSource = "rebalance"
	// SourceAutoClose is the background sweep's synthesized exit signal
	// for HODL trades and trades of stopped strategies that would now
	// realize a profit.
	SourceAutoClose SignalSource = "auto_close"
)

// Signal is a validated request to open or close a position for a
// (strategy, symbol, positionType) tuple.
type Signal struct {
	StrategyID   string       `json:"strategy_id"`
	StrategyName string       `json:"strategy_name"`
	Symbol       string       `json:"symbol"`
	EntryType    EntryType    `json:"entry_type"`
	PositionType PositionType `json:"position_type,omitempty"`
	Price        Decimal      `json:"price"`
	Timestamp    time.Time    `json:"timestamp"`
	Source       SignalSource `json:"source"`

	// IsAuto marks a signal that must respect the stopped/HODL-at-loss
	// exit guards (spec.md §4.1 "Validation"); manual operator closes and
	// the partial-failure phantom-drop path bypass those guards.
	IsAuto bool `json:"is_auto"`
}
