package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mreyes/signalrunner/models"
)

// LogSink writes every notification to the structured log, grounded on the
// same zerolog call shape used across the engine. It never errors: a
// logging failure is not a delivery failure worth reporting back to the
// hub.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(ctx context.Context, n models.Notification) error {
	evt := log.Info()
	switch n.Level {
	case models.LevelWarn:
		evt = log.Warn()
	case models.LevelError:
		evt = log.Error()
	case models.LevelSuccess:
		evt = log.Info()
	}
	evt.Str("type", n.Type).Str("subject", n.Subject).Interface("rich", n.RichBody).Msg(n.PlainBody)
	return nil
}

// RingSink retains the last capacity notifications in memory so the
// operator surface's GET /log can serve them without a log-file tail.
type RingSink struct {
	mu       sync.Mutex
	capacity int
	entries  []models.Notification
}

func NewRingSink(capacity int) *RingSink {
	return &RingSink{capacity: capacity}
}

func (r *RingSink) Name() string { return "ring" }

func (r *RingSink) Send(ctx context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, n)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
	return nil
}

// Recent returns the last n entries, newest last. n <= 0 returns all of
// them.
func (r *RingSink) Recent(n int) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]models.Notification, n)
	copy(out, r.entries[len(r.entries)-n:])
	return out
}
