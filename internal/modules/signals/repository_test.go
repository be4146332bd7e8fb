package signals

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketd/internal/database"
	"marketd/internal/domain"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func f(v float64) *float64 { return &v }

func TestInsertAndRecent(t *testing.T) {
	repo := openTestRepo(t)

	id, err := repo.Insert(&domain.Signal{
		AgentID:       "agent-1",
		StrategyName:  "ta-multiframe",
		Symbol:        "BTC",
		Action:        domain.ActionBuy,
		Conviction:    f(74.5),
		PriceAtSignal: f(96420),
		Reason:        "[4h] EMA bullish alignment",
		RawAnalysis:   []byte(`{"score_by_tf":{"4h":78.1}}`),
		StopLoss:      f(93850),
		TakeProfit:    f(101200),
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	recent, err := repo.Recent(10, "")
	require.NoError(t, err)
	require.Len(t, recent, 1)

	s := recent[0]
	assert.Equal(t, "agent-1", s.AgentID)
	assert.Equal(t, domain.ActionBuy, s.Action)
	assert.Equal(t, 74.5, *s.Conviction)
	assert.JSONEq(t, `{"score_by_tf":{"4h":78.1}}`, string(s.RawAnalysis))
	assert.False(t, s.CreatedAt.IsZero())
}

func TestRecentFilterAndOrder(t *testing.T) {
	repo := openTestRepo(t)

	for _, sym := range []string{"BTC", "ETH", "BTC"} {
		_, err := repo.Insert(&domain.Signal{Symbol: sym, Action: domain.ActionHold})
		require.NoError(t, err)
	}

	btc, err := repo.Recent(10, "BTC")
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Greater(t, btc[0].ID, btc[1].ID, "newest first")

	all, err := repo.Recent(2, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOptionalFieldsNull(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.Insert(&domain.Signal{Symbol: "SOL", Action: domain.ActionSell})
	require.NoError(t, err)

	recent, err := repo.Recent(1, "SOL")
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Nil(t, recent[0].Conviction)
	assert.Nil(t, recent[0].StopLoss)
	assert.Empty(t, recent[0].AgentID)
	assert.Empty(t, recent[0].RawAnalysis)
}
