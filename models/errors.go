package models

// RejectionKind is a closed set of reasons a signal or an execute task can
// fail, replacing the source system's throw-a-string flow (spec.md §9
// "Exceptions-as-flow -> tagged results"). The hub ack path, the notifier
// path and the log path all switch on the same value instead of parsing
// error strings.
type RejectionKind string

const (
	// ValidationRejected covers wrong state, limit hit, duplicate,
	// unknown strategy, excluded symbol: never retried, logged at
	// warn/debug, notified only when Severe.
	ValidationRejected RejectionKind = "validation_rejected"
	// ExchangeTransient covers network errors, rate limits, 5xx: task
	// failure, balance cache invalidated, never auto-retried.
	ExchangeTransient RejectionKind = "exchange_transient"
	// ExchangePartialSequence: main step succeeded but repay failed.
	// Trade is forced stopped and the operator must reconcile.
	ExchangePartialSequence RejectionKind = "exchange_partial_sequence"
	// StartupUnrecoverable: cannot load markets or the hub's open-trade
	// list on first run. Triggers a graceful shutdown.
	StartupUnrecoverable RejectionKind = "startup_unrecoverable"
	// OperatorConflict: e.g. a manual close request for a trade that is
	// already in the closing set. Reported to the operator surface only.
	OperatorConflict RejectionKind = "operator_conflict"
)

// SignalError is the single error type every validation and execution
// failure path returns, carrying enough structure for the hub-ack,
// notifier and log consumers to each make their own decision without
// re-parsing a message string.
type SignalError struct {
	Kind    RejectionKind
	Reason  string
	Severe  bool // true => operator notification, not just a log line
	TradeID string
}

func (e *SignalError) Error() string {
	return e.Reason
}

// NewRejection builds a ValidationRejected SignalError.
func NewRejection(reason string, severe bool) *SignalError {
	return &SignalError{Kind: ValidationRejected, Reason: reason, Severe: severe}
}
