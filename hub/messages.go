package hub

import "time"

// Inbound message type discriminators, as sent by the signal hub.
const (
	TypeStrategyList = "strategy_list"
	TypeBuySignal    = "buy_signal"
	TypeSellSignal   = "sell_signal"
	TypeCloseSignal  = "close_signal"
	TypeStopSignal   = "stop_signal"
)

// Outbound message type discriminators, sent back to the hub.
const (
	TypeTradedBuySignal  = "traded_buy_signal"
	TypeTradedSellSignal = "traded_sell_signal"
)

// envelope wraps every inbound frame so the dispatcher can peek at Type
// before unmarshaling the payload into its concrete shape.
type envelope struct {
	Type string `json:"type"`
}

// StrategyListItem describes one strategy the hub knows about. Delivered in
// a batch on connect and whenever the operator changes a strategy remotely.
type StrategyListItem struct {
	StrategyID  string  `json:"strategy_id" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	TradeAmount string  `json:"trade_amount" validate:"required,numeric"`
	TradingMode string  `json:"trading_mode" validate:"required,oneof=real virtual"`
	Active      bool    `json:"active"`
}

// strategyListMessage is the inbound envelope carrying the full strategy
// roster.
type strategyListMessage struct {
	Type       string             `json:"type"`
	Strategies []StrategyListItem `json:"strategies" validate:"required,dive"`
}

// InboundSignal is the common shape of buy/sell/close/stop signals. Not
// every field applies to every signal kind: Price is absent on
// close/stop, PositionType is absent on close/stop.
type InboundSignal struct {
	Type         string    `json:"type"`
	StrategyID   string    `json:"strategy_id" validate:"required"`
	StrategyName string    `json:"strategy_name"`
	Symbol       string    `json:"symbol" validate:"required"`
	PositionType string    `json:"position_type" validate:"omitempty,oneof=long short"`
	Price        string    `json:"price" validate:"omitempty,numeric"`
	Timestamp    time.Time `json:"timestamp"`
}

// TradedAck is sent back to the hub after a buy or sell signal has been
// fully processed (executed, rejected, or errored), so the hub's own
// bookkeeping stays in sync with what actually happened here.
type TradedAck struct {
	Type         string    `json:"type"`
	StrategyID   string    `json:"strategy_id"`
	Symbol       string    `json:"symbol"`
	TradeID      string    `json:"trade_id,omitempty"`
	Accepted     bool      `json:"accepted"`
	RejectReason string    `json:"reject_reason,omitempty"`
	Price        string    `json:"price,omitempty"`
	Quantity     string    `json:"quantity,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
