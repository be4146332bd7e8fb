package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/IBIT", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("modules"), "summaryDetail")
		w.Write([]byte(`{"quoteSummary":{"result":[{
			"summaryDetail":{"totalAssets":{"raw":50000000000},"previousClose":{"raw":54.2}},
			"defaultKeyStatistics":{"sharesOutstanding":{"raw":900000000}},
			"price":{"regularMarketPrice":{"raw":55.1}}
		}],"error":null}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.New(nil).Level(zerolog.Disabled))
	q, err := c.Quote(context.Background(), "IBIT")
	require.NoError(t, err)

	require.NotNil(t, q.Price)
	assert.InDelta(t, 55.1, *q.Price, 1e-9)
	require.NotNil(t, q.TotalAssets)
	assert.InDelta(t, 5e10, *q.TotalAssets, 1)

	// AUM prefers totalAssets over price*shares.
	assert.InDelta(t, 5e10, *q.AUM(), 1)
	assert.InDelta(t, 55.1*9e8, *q.MarketCap(), 1)
}

func TestAUMFallsBackToMarketCap(t *testing.T) {
	price := 100.0
	shares := 2e6
	q := &Quote{Symbol: "MSTR", Price: &price, SharesOutstanding: &shares}
	require.NotNil(t, q.AUM())
	assert.InDelta(t, 2e8, *q.AUM(), 1e-3)

	empty := &Quote{Symbol: "XXXX"}
	assert.Nil(t, empty.AUM())
}

func TestQuoteNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[],"error":null}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, zerolog.New(nil).Level(zerolog.Disabled))
	_, err := c.Quote(context.Background(), "NOPE")
	assert.Error(t, err)
}
