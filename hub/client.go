// Package hub maintains the single outbound websocket connection to the
// external signal hub: strategy roster updates and buy/sell/close/stop
// signals flow in, traded acknowledgements flow out. Unlike the teacher's
// server-side WebSocketManager (many inbound browser connections
// broadcasting out), this is one long-lived outbound connection with
// reconnect/backoff, the shape a price-feed or exchange-stream client
// takes rather than a fan-out hub.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"

	"github.com/mreyes/signalrunner/models"
)

var validate = validator.New()

// Handler receives decoded, validated inbound messages. Implemented by the
// Signal Engine; OnSignal errors are logged but never retried, matching the
// "signals are not a queue to replay" invariant.
type Handler interface {
	OnStrategyList(ctx context.Context, strategies []StrategyListItem)
	OnSignal(ctx context.Context, sig models.Signal, isAuto bool) error
}

// Client owns the single connection to the hub.
type Client struct {
	url    string
	apiKey string
	handler Handler

	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	sendCh  chan []byte
	closed  bool
}

// NewClient builds a Client. Run must be called to start the
// reconnect loop.
func NewClient(url, apiKey string, handler Handler) *Client {
	return &Client{
		url:     url,
		apiKey:  apiKey,
		handler: handler,
		dialer:  websocket.DefaultDialer,
		sendCh:  make(chan []byte, 64),
	}
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled. It blocks until then, across every reconnect.
func (c *Client) Run(ctx context.Context) {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.runOnce(ctx); err != nil {
			delay := b.Duration()
			log.Warn().Err(err).Dur("retry_in", delay).Msg("hub connection lost")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		b.Reset()
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	header := map[string][]string{"X-Hub-Key": {c.apiKey}}
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	log.Info().Str("url", c.url).Msg("connected to signal hub")

	done := make(chan struct{})
	go c.writePump(ctx, conn, done)

	err = c.readPump(ctx, conn)
	close(done)
	conn.Close()
	return err
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read from hub: %w", err)
		}
		if err := c.dispatch(ctx, raw); err != nil {
			log.Error().Err(err).Msg("failed to process hub message")
		}
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.sendCh:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Error().Err(err).Msg("failed to write to hub")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dispatch(ctx context.Context, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case TypeStrategyList:
		var msg strategyListMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("decode strategy list: %w", err)
		}
		if err := validate.Struct(msg); err != nil {
			return fmt.Errorf("validate strategy list: %w", err)
		}
		c.handler.OnStrategyList(ctx, msg.Strategies)
		return nil

	case TypeBuySignal, TypeSellSignal, TypeCloseSignal, TypeStopSignal:
		var sig InboundSignal
		if err := json.Unmarshal(raw, &sig); err != nil {
			return fmt.Errorf("decode signal: %w", err)
		}
		if err := validate.Struct(sig); err != nil {
			return fmt.Errorf("validate signal: %w", err)
		}
		signal, err := toModelSignal(sig)
		if err != nil {
			return err
		}
		signal.IsAuto = true
		return c.handler.OnSignal(ctx, signal, true)

	default:
		log.Debug().Str("type", env.Type).Msg("ignoring unknown hub message type")
		return nil
	}
}

func toModelSignal(sig InboundSignal) (models.Signal, error) {
	var entry models.EntryType
	var position models.PositionType

	switch sig.Type {
	case TypeBuySignal:
		entry = models.EntryEnter
		position = models.PositionLong
	case TypeSellSignal:
		entry = models.EntryEnter
		position = models.PositionShort
	case TypeCloseSignal:
		entry = models.EntryExit
	case TypeStopSignal:
		entry = models.EntryExit
	default:
		return models.Signal{}, fmt.Errorf("unrecognized signal type %q", sig.Type)
	}

	price := models.Zero
	if sig.Price != "" {
		p, err := models.NewDecimalFromString(sig.Price)
		if err != nil {
			return models.Signal{}, fmt.Errorf("parse signal price: %w", err)
		}
		price = p
	}
	if sig.PositionType == "short" {
		position = models.PositionShort
	} else if sig.PositionType == "long" {
		position = models.PositionLong
	}

	ts := sig.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return models.Signal{
		StrategyID:   sig.StrategyID,
		StrategyName: sig.StrategyName,
		Symbol:       sig.Symbol,
		EntryType:    entry,
		PositionType: position,
		Price:        price,
		Timestamp:    ts,
		Source:       models.SourceHub,
	}, nil
}

// SendAck enqueues a traded-signal acknowledgement for delivery to the hub.
// Never blocks: a full send buffer drops the oldest pending ack rather than
// stalling the Signal Engine's single run-loop.
func (c *Client) SendAck(ack TradedAck) {
	raw, err := json.Marshal(ack)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal hub ack")
		return
	}
	select {
	case c.sendCh <- raw:
	default:
		select {
		case <-c.sendCh:
		default:
		}
		select {
		case c.sendCh <- raw:
		default:
		}
		log.Warn().Msg("hub ack buffer full, dropped oldest pending ack")
	}
}

// Close closes the active connection, if any, causing Run's current
// iteration to exit with an error and attempt reconnection (or stop
// cleanly if the context passed to Run was already cancelled).
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
	}
}
