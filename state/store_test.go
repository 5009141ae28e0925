package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mreyes/signalrunner/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	values map[string]any
}

func (f *fakeSource) Snapshot(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

func newTestStore(t *testing.T, source Source) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, source, 100, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMarkDirtyFlushesAndReloads(t *testing.T) {
	src := &fakeSource{values: map[string]any{
		KeyStrategies: map[string]string{"s1": "known"},
	}}
	s := newTestStore(t, src)

	s.MarkDirty(KeyStrategies)

	require.Eventually(t, func() bool {
		snaps, err := s.LoadAll()
		require.NoError(t, err)
		_, ok := snaps[KeyStrategies]
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestFlushIsSynchronousAndImmediate(t *testing.T) {
	src := &fakeSource{values: map[string]any{
		KeyTradesOpen: []string{"trade-1"},
	}}
	s := newTestStore(t, src)

	s.MarkDirty(KeyTradesOpen)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))

	snaps, err := s.LoadAll()
	require.NoError(t, err)
	assert.Contains(t, string(snaps[KeyTradesOpen]), "trade-1")
}

func TestAppendAndListTransactions(t *testing.T) {
	s := newTestStore(t, &fakeSource{values: map[string]any{}})

	_, err := s.AppendTransaction("trade-1", models.TxBuy, "BTC", models.NewDecimalFromFloat(0.5), "ex-1")
	require.NoError(t, err)
	_, err = s.AppendTransaction("trade-1", models.TxSell, "BTC", models.NewDecimalFromFloat(0.5), "ex-2")
	require.NoError(t, err)

	txs, err := s.ListTransactions(10, "")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, models.TxSell, txs[0].Kind, "newest first")
}

func TestTransactionLogTrimsToMaxRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trim.db")
	s, err := Open(path, &fakeSource{values: map[string]any{}}, 3, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 5; i++ {
		_, err := s.AppendTransaction("trade-1", models.TxBuy, "BTC", models.NewDecimalFromFloat(1), "ex")
		require.NoError(t, err)
	}

	txs, err := s.ListTransactions(100, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(txs), 3)
}
