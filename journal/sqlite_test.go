package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','equity')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["equity"])
}

func trade(id string, closeT time.Time, pl float64) TradeRecord {
	return TradeRecord{
		TradeID:    id,
		Symbol:     "ETH/USD",
		Qty:        0.5,
		EntryPrice: 3000,
		ExitPrice:  3000 + pl/0.5,
		OpenTime:   closeT.Add(-time.Hour),
		CloseTime:  closeT,
		RealizedPL: pl,
		Fees:       0.45,
		Reason:     "take_profit",
		Preset:     "balanced",
	}
}

func TestSQLiteRecordAndGetTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	closeT := time.Date(2024, 1, 2, 4, 5, 6, 0, time.UTC)
	rec := trade("T1", closeT, 12.5)
	require.NoError(t, j.RecordTrade(rec))

	got, err := j.GetTrade("T1")
	require.NoError(t, err)
	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.Equal(t, rec.RealizedPL, got.RealizedPL)
	assert.True(t, rec.CloseTime.Equal(got.CloseTime))
	assert.Equal(t, "balanced", got.Preset)

	_, err = j.GetTrade("missing")
	assert.Error(t, err)

	// duplicate ids are rejected
	assert.Error(t, j.RecordTrade(rec))
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTrade(trade("A", day.Add(-time.Minute), 100)))
	require.NoError(t, j.RecordTrade(trade("B", day.Add(time.Hour), 30)))
	require.NoError(t, j.RecordTrade(trade("C", day.Add(2*time.Hour), -10)))
	require.NoError(t, j.RecordTrade(trade("D", day.Add(25*time.Hour), 5)))

	list, err := j.ListTradesClosedBetween(day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "B", list[0].TradeID)

	s, err := j.Summarize(day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 20, s.RealizedPL, 1e-9)
	assert.InDelta(t, 0.9, s.Fees, 1e-9)
	assert.InDelta(t, 3, s.ProfitFactor(), 1e-9)
}

func TestMemoryJournal(t *testing.T) {
	t.Parallel()

	j, err := NewSQLite(MemoryDSN)
	require.NoError(t, err)
	defer j.Close()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: now.Add(-time.Minute), Equity: 1000}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: now, Equity: 1010, Cash: 500}))

	e, err := j.LatestEquity()
	require.NoError(t, err)
	assert.Equal(t, 1010.0, e.Equity)
	assert.Equal(t, 500.0, e.Cash)
}

func TestTradeLosing(t *testing.T) {
	t.Parallel()

	assert.True(t, TradeRecord{RealizedPL: 0.1, Fees: 0.2}.Losing())
	assert.False(t, TradeRecord{RealizedPL: 1, Fees: 0.2}.Losing())
}
