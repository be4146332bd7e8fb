package portfolio

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketd/internal/database"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func TestInsertAndRecent(t *testing.T) {
	repo := openTestRepo(t)

	id, err := repo.Insert(104_500.25, map[string]float64{"BTC": 100_000, "ETH": 4_500.25})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	snaps, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	s := snaps[0]
	assert.InDelta(t, 104_500.25, s.TotalValueUSD, 1e-9)
	assert.JSONEq(t, `{"BTC":100000,"ETH":4500.25}`, string(s.Detail))
	assert.False(t, s.TakenAt.IsZero())
}

func TestRecentNewestFirst(t *testing.T) {
	repo := openTestRepo(t)

	for i := 1; i <= 3; i++ {
		_, err := repo.Insert(float64(i)*1000, nil)
		require.NoError(t, err)
	}

	snaps, err := repo.Recent(2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.InDelta(t, 3000, snaps[0].TotalValueUSD, 1e-9)
	assert.Greater(t, snaps[0].ID, snaps[1].ID)
}
