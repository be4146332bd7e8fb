package stocknav

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketd/internal/clients/yahoo"
)

type stubQuotes struct {
	quote *yahoo.Quote
	err   error
}

func (s stubQuotes) Quote(_ context.Context, _ string) (*yahoo.Quote, error) {
	return s.quote, s.err
}

func quoteWith(price, shares float64) *yahoo.Quote {
	return &yahoo.Quote{Price: &price, SharesOutstanding: &shares}
}

func newTestCollector(q QuoteSource) *Collector {
	return New(q, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestNAVRatioPremium(t *testing.T) {
	// Market cap 77.2B vs 386k BTC * $100k = 38.6B -> ratio 2.0.
	c := newTestCollector(stubQuotes{quote: quoteWith(386, 2e8)})
	nav, err := c.NAVRatio(context.Background(), "MSTR", 100_000)
	require.NoError(t, err)
	require.NotNil(t, nav)

	assert.InDelta(t, 2.0, nav.Ratio, 1e-9)
	assert.Equal(t, "premium", nav.Classification)
	assert.InDelta(t, 38.6e9, nav.BTCNavValue, 1)
}

func TestNAVRatioDiscount(t *testing.T) {
	c := newTestCollector(stubQuotes{quote: quoteWith(96.5, 2e8)})
	nav, err := c.NAVRatio(context.Background(), "MSTR", 100_000)
	require.NoError(t, err)
	require.NotNil(t, nav)
	assert.InDelta(t, 0.5, nav.Ratio, 1e-9)
	assert.Equal(t, "discount", nav.Classification)
}

func TestNAVRatioSkipsUnknownSymbol(t *testing.T) {
	c := newTestCollector(stubQuotes{quote: quoteWith(100, 1e6)})
	nav, err := c.NAVRatio(context.Background(), "TSLA", 100_000)
	require.NoError(t, err)
	assert.Nil(t, nav)

	nav, err = c.NAVRatio(context.Background(), "MSTR", 0)
	require.NoError(t, err)
	assert.Nil(t, nav)
}

func TestNAVRatioQuoteError(t *testing.T) {
	c := newTestCollector(stubQuotes{err: errors.New("rate limited")})
	_, err := c.NAVRatio(context.Background(), "MSTR", 100_000)
	assert.Error(t, err)
}
