package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mreyes/signalrunner/models"
	"github.com/rs/zerolog/log"
)

// AppendTransaction records one exchange-side effect (buy, sell, borrow,
// repay) and, if the table has grown past maxRows, trims the oldest rows so
// the log stays bounded.
func (s *Store) AppendTransaction(tradeID string, kind models.TransactionKind, asset string, amount models.Decimal, exchangeTxID string) (*models.Transaction, error) {
	tx := &models.Transaction{
		ID:           uuid.NewString(),
		TradeID:      tradeID,
		Kind:         kind,
		Asset:        asset,
		Amount:       amount,
		ExchangeTxID: exchangeTxID,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO transactions (id, trade_id, kind, asset, amount, exchange_tx_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.TradeID, tx.Kind, tx.Asset, tx.Amount.String(), tx.ExchangeTxID, tx.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	if err := s.trimTransactions(); err != nil {
		log.Error().Err(err).Msg("failed to trim transaction log")
	}
	return tx, nil
}

func (s *Store) trimTransactions() error {
	if s.maxRows <= 0 {
		return nil
	}
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM transactions`); err != nil {
		return err
	}
	if count <= s.maxRows {
		return nil
	}
	excess := count - s.maxRows
	_, err := s.db.Exec(
		`DELETE FROM transactions WHERE id IN (
			SELECT id FROM transactions ORDER BY created_at ASC LIMIT ?
		)`, excess,
	)
	return err
}

// ListTransactions returns up to limit most recent rows, newest first. A
// tradeID filter is applied when non-empty.
func (s *Store) ListTransactions(limit int, tradeID string) ([]models.Transaction, error) {
	rows := []struct {
		ID           string  `db:"id"`
		TradeID      string  `db:"trade_id"`
		Kind         string  `db:"kind"`
		Asset        string  `db:"asset"`
		Amount       string  `db:"amount"`
		ExchangeTxID string  `db:"exchange_tx_id"`
		CreatedAt    time.Time `db:"created_at"`
	}{}

	var err error
	if tradeID != "" {
		err = s.db.Select(&rows, `SELECT id, trade_id, kind, asset, amount, exchange_tx_id, created_at
			FROM transactions WHERE trade_id = ? ORDER BY created_at DESC LIMIT ?`, tradeID, limit)
	} else {
		err = s.db.Select(&rows, `SELECT id, trade_id, kind, asset, amount, exchange_tx_id, created_at
			FROM transactions ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		amount, decErr := models.NewDecimalFromString(r.Amount)
		if decErr != nil {
			log.Warn().Err(decErr).Str("id", r.ID).Msg("skipping transaction row with unparsable amount")
			continue
		}
		out = append(out, models.Transaction{
			ID:           r.ID,
			TradeID:      r.TradeID,
			Kind:         models.TransactionKind(r.Kind),
			Asset:        r.Asset,
			Amount:       amount,
			ExchangeTxID: r.ExchangeTxID,
			CreatedAt:    r.CreatedAt,
		})
	}
	return out, nil
}
