// Package state persists the Signal Engine's in-memory MetaData groups to
// SQLite so a restart can reconcile against what was running before it,
// and keeps an append-only transaction log of every buy/sell/borrow/repay
// the engine ever executed.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Snapshot keys, one per MetaData group the engine owns.
const (
	KeyStrategies       = "strategies"
	KeyTradesOpen       = "tradesOpen"
	KeyVirtualBalances  = "virtualBalances"
	KeyBalanceHistory   = "balanceHistory"
	KeyPublicStrategies = "publicStrategies"
	KeyVersion          = "version"
)

var allKeys = []string{
	KeyStrategies, KeyTradesOpen, KeyVirtualBalances,
	KeyBalanceHistory, KeyPublicStrategies, KeyVersion,
}

// Keys returns every snapshot key the store manages.
func Keys() []string {
	return allKeys
}

// Source is implemented by whatever owns the live MetaData groups. Snapshot
// is called with a dirty key and must return the current JSON-serializable
// value for it.
type Source interface {
	Snapshot(key string) (any, bool)
}

// Store wraps the sqlx connection and coalesces writes: a mutation marks a
// key dirty, and a single background goroutine flushes all dirty keys at
// most once per flushInterval instead of on every mutation.
type Store struct {
	db      *sqlx.DB
	source  Source
	maxRows int

	mu    sync.Mutex
	dirty map[string]bool

	flushInterval time.Duration
	wake          chan struct{}
	done          chan struct{}
	stopped       chan struct{}
}

// Open connects to (creating if necessary) the SQLite database at path and
// runs schema migration.
func Open(path string, source Source, maxRows int, flushInterval time.Duration) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{
		db:            db,
		source:        source,
		maxRows:       maxRows,
		dirty:         make(map[string]bool),
		flushInterval: flushInterval,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	go s.flushLoop()
	log.Info().Str("path", path).Msg("state store opened")
	return s, nil
}

// SetSource attaches the Source queried on each flush. Callers that build
// the engine from an already-open store (the engine.Snapshot method needs
// the store, and the store's flush needs the engine) call this once,
// before the first mutation, to break that cycle.
func (s *Store) SetSource(source Source) {
	s.source = source
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_snapshots (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount TEXT NOT NULL,
		exchange_tx_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_trade_id ON transactions(trade_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// MarkDirty flags a snapshot key for the next coalesced flush. Safe to call
// from any goroutine; the Signal Engine calls this every time it mutates a
// MetaData group under its own lock.
func (s *Store) MarkDirty(key string) {
	s.mu.Lock()
	s.dirty[key] = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) flushLoop() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.wake:
			// Coalesce: wait out the flush interval so a burst of
			// mutations produces one write, not one per mutation.
			select {
			case <-time.After(s.flushInterval):
			case <-s.done:
				s.flushDirty()
				return
			}
			s.flushDirty()
		case <-ticker.C:
			s.flushDirty()
		case <-s.done:
			s.flushDirty()
			return
		}
	}
}

func (s *Store) flushDirty() {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	for _, key := range keys {
		val, ok := s.source.Snapshot(key)
		if !ok {
			continue
		}
		if err := s.writeSnapshot(key, val); err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to persist state snapshot")
			// re-mark dirty so the next tick retries
			s.mu.Lock()
			s.dirty[key] = true
			s.mu.Unlock()
		}
	}
}

func (s *Store) writeSnapshot(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", key, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO kv_snapshots (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC(),
	)
	return err
}

// LoadAll reads every snapshot key present in the database, for startup
// reconciliation. Missing keys are simply absent from the result.
func (s *Store) LoadAll() (map[string]json.RawMessage, error) {
	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := s.db.Select(&rows, `SELECT key, value FROM kv_snapshots`); err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, r := range rows {
		out[r.Key] = json.RawMessage(r.Value)
	}
	return out, nil
}

// Flush forces an immediate synchronous write of every dirty key, used
// during graceful shutdown so the final state isn't lost to the
// coalescing window.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.flushDirty()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the background flush loop after performing one last flush.
func (s *Store) Close() error {
	close(s.done)
	<-s.stopped
	return s.db.Close()
}
