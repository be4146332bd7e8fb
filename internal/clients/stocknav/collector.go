// Package stocknav computes the mNAV premium/discount of listed
// bitcoin treasury companies: market cap divided by the value of their
// BTC holdings.
package stocknav

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"marketd/internal/clients/yahoo"
)

// btcHoldings pins the known treasury sizes per ticker. Maintained by
// hand from company filings.
var btcHoldings = map[string]float64{
	"MSTR": 386_000,
	"SBET": 10_000,
	"BMNR": 15_000,
}

// NAV is one company's premium/discount reading.
type NAV struct {
	Symbol         string  `json:"symbol"`
	Ratio          float64 `json:"ratio"`
	MarketCap      float64 `json:"market_cap"`
	BTCNavValue    float64 `json:"btc_nav_value"`
	Classification string  `json:"classification"`
}

// QuoteSource supplies equity quotes.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*yahoo.Quote, error)
}

type Collector struct {
	quotes QuoteSource
	log    zerolog.Logger
}

func New(quotes QuoteSource, log zerolog.Logger) *Collector {
	return &Collector{
		quotes: quotes,
		log:    log.With().Str("client", "stocknav").Logger(),
	}
}

// Symbols lists the tickers with a known treasury size.
func Symbols() []string {
	return []string{"MSTR", "SBET", "BMNR"}
}

// NAVRatio computes mNAV for one ticker at the given BTC price.
// Unknown tickers and a missing BTC price yield nil.
func (c *Collector) NAVRatio(ctx context.Context, symbol string, btcPrice float64) (*NAV, error) {
	holdings, ok := btcHoldings[symbol]
	if !ok || btcPrice <= 0 {
		return nil, nil
	}

	quote, err := c.quotes.Quote(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Quote fetch failed")
		return nil, err
	}

	marketCap := quote.MarketCap()
	if marketCap == nil {
		return nil, nil
	}

	navValue := holdings * btcPrice
	ratio := *marketCap / navValue

	classification := "discount"
	if ratio > 1 {
		classification = "premium"
	}
	return &NAV{
		Symbol:         symbol,
		Ratio:          math.Round(ratio*100) / 100,
		MarketCap:      *marketCap,
		BTCNavValue:    navValue,
		Classification: classification,
	}, nil
}
