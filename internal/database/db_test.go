package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	// Second run must not fail on existing tables or seed rows.
	require.NoError(t, db.Migrate())

	var count int
	err := db.Conn().QueryRow("SELECT COUNT(*) FROM market_watch").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "seed symbols should not duplicate")
}

func TestMigrateSeedsWatchlistAndSources(t *testing.T) {
	db := openTestDB(t)

	var symbols []string
	rows, err := db.Conn().Query("SELECT symbol FROM market_watch ORDER BY display_order")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		symbols = append(symbols, s)
	}
	assert.Equal(t, []string{"BTC", "ETH"}, symbols)

	var sources int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM crawl_sources").Scan(&sources))
	assert.Equal(t, 5, sources)
}

func TestWALModeEnabled(t *testing.T) {
	db := openTestDB(t)

	var mode string
	require.NoError(t, db.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, db.QuickCheck(context.Background()))
}

func TestWithTransactionCommit(t *testing.T) {
	db := openTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO market_watch (symbol, display_order) VALUES ('SOL', 2)")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM market_watch").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestWithTransactionRollback(t *testing.T) {
	db := openTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO market_watch (symbol, display_order) VALUES ('SOL', 2)"); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM market_watch").Scan(&count))
	assert.Equal(t, 2, count, "insert should roll back")
}

func TestWithTransactionPanicRecovery(t *testing.T) {
	db := openTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}
