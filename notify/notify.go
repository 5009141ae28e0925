// Package notify implements the Notifier Hub: a level-filtered fan-out of
// notifications to a set of registered sinks, each called in parallel so
// one slow or failing sink never blocks the others (spec.md §4.8).
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mreyes/signalrunner/models"
)

// Sink receives every notification that passes the hub's level filter. A
// sink that errors is logged and otherwise ignored; it never aborts
// delivery to other sinks.
type Sink interface {
	Name() string
	Send(ctx context.Context, n models.Notification) error
}

// Hub fans a notification out to every registered sink in parallel.
type Hub struct {
	minLevel models.NotificationLevel

	mu    sync.RWMutex
	sinks []Sink
}

// New returns a Hub that drops anything below minLevel.
func New(minLevel models.NotificationLevel) *Hub {
	return &Hub{minLevel: minLevel}
}

// Register adds a sink. Safe to call concurrently with Send; a Send that has
// already copied the sink list does not deliver to the new sink.
func (h *Hub) Register(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Send builds a Notification and dispatches it to every registered sink
// whose level gate passes, in parallel.
func (h *Hub) Send(ctx context.Context, level models.NotificationLevel, typ, subject, plainBody string, richBody map[string]any) {
	if level.Rank() < h.minLevel.Rank() {
		return
	}

	n := models.Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Type:      typ,
		Subject:   subject,
		PlainBody: plainBody,
		RichBody:  richBody,
		CreatedAt: time.Now().UTC(),
	}

	h.mu.RLock()
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.RUnlock()

	var wg sync.WaitGroup
	wg.Add(len(sinks))
	for _, s := range sinks {
		s := s
		go func() {
			defer wg.Done()
			if err := s.Send(ctx, n); err != nil {
				log.Error().Err(err).Str("sink", s.Name()).Str("notification", n.ID).Msg("notifier sink failed")
			}
		}()
	}
	wg.Wait()
}

// Info/Success/Warn/Error are convenience wrappers over Send for the most
// common call shape (no rich body).
func (h *Hub) Info(ctx context.Context, typ, subject, body string) {
	h.Send(ctx, models.LevelInfo, typ, subject, body, nil)
}
func (h *Hub) Success(ctx context.Context, typ, subject, body string) {
	h.Send(ctx, models.LevelSuccess, typ, subject, body, nil)
}
func (h *Hub) Warn(ctx context.Context, typ, subject, body string) {
	h.Send(ctx, models.LevelWarn, typ, subject, body, nil)
}
func (h *Hub) Error(ctx context.Context, typ, subject, body string) {
	h.Send(ctx, models.LevelError, typ, subject, body, nil)
}
