package crawler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"marketd/internal/domain"
)

// arkhamSpider scrapes Arkham Intelligence entity pages for ETF issuer
// on-chain holdings. The pages render client-side, so the spider polls
// until the holdings text (e.g. "755.316K BTC") appears and then parses
// the full page text with regular expressions.
type arkhamSpider struct {
	url string
	log zerolog.Logger
}

func newArkhamSpider(url string, log zerolog.Logger) Spider {
	return &arkhamSpider{
		url: url,
		log: log.With().Str("spider", "arkham").Logger(),
	}
}

// arkhamContentReadyJS matches rendered holdings like "11.793K BTC" or
// "3.132M ETH".
const arkhamContentReadyJS = `
	/\d+\.\d+[KM]\s+BTC/.test(document.body.innerText || '') ||
	/\d+\.\d+[KM]\s+ETH/.test(document.body.innerText || '')
`

func (s *arkhamSpider) Crawl(tabCtx context.Context) ([]domain.CrawledItem, error) {
	entity := entityFromURL(s.url)
	s.log.Info().Str("url", s.url).Str("entity", entity).Msg("Navigating")

	var pageText string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(s.url),
		chromedp.Poll(arkhamContentReadyJS, nil, chromedp.WithPollingTimeout(90*time.Second)),
		// Give the renderer a moment to finish after the first match.
		chromedp.Sleep(6*time.Second),
		chromedp.Evaluate(`document.body.innerText`, &pageText),
	)
	if err != nil {
		return nil, fmt.Errorf("arkham crawl failed for %s: %w", entity, err)
	}

	items := parseArkhamHoldings(pageText, entity)
	if net := parseArkhamNetValue(pageText, entity); net != nil {
		items = append(items, *net)
	}

	s.log.Info().Str("entity", entity).Int("items", len(items)).Msg("Crawl done")
	return items, nil
}

// entityFromURL extracts the entity slug from an explorer URL like
// https://intel.arkm.com/explorer/entity/blackrock.
func entityFromURL(url string) string {
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	if len(parts) == 0 {
		return "unknown"
	}
	return parts[len(parts)-1]
}

// holdingsPattern matches one asset holdings rendering with its scale.
type holdingsPattern struct {
	re    *regexp.Regexp
	asset string
	scale float64
}

var arkhamHoldingsPatterns = []holdingsPattern{
	{regexp.MustCompile(`(\d+\.\d+)K\s+BTC`), "BTC", 1_000},
	{regexp.MustCompile(`(\d{2,})K\s+BTC`), "BTC", 1_000},
	{regexp.MustCompile(`(\d+\.\d+)M\s+BTC`), "BTC", 1_000_000},
	{regexp.MustCompile(`(\d+\.\d+)K\s+ETH`), "ETH", 1_000},
	{regexp.MustCompile(`(\d+\.\d+)M\s+ETH`), "ETH", 1_000_000},
	{regexp.MustCompile(`(\d{2,})K\s+ETH`), "ETH", 1_000},
}

// Floors below which a match is a price, not a holdings figure.
var arkhamHoldingsFloor = map[string]float64{
	"BTC": 500,
	"ETH": 5000,
}

// parseArkhamHoldings extracts per-asset holdings from page text.
// The first plausible match per asset wins.
func parseArkhamHoldings(text, entity string) []domain.CrawledItem {
	now := time.Now().UTC()
	seen := map[string]bool{}
	var items []domain.CrawledItem

	for _, p := range arkhamHoldingsPatterns {
		if seen[p.asset] {
			continue
		}
		for _, match := range p.re.FindAllStringSubmatch(text, -1) {
			raw := strings.ReplaceAll(match[1], ",", "")
			num, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			amount := num * p.scale
			if amount < arkhamHoldingsFloor[p.asset] {
				continue
			}

			seen[p.asset] = true
			items = append(items, domain.CrawledItem{
				DataType: holdingsDataType(entity, p.asset),
				Date:     now,
				Value:    amount,
				Meta:     map[string]any{"entity": entity, "asset": p.asset},
			})
			break
		}
	}
	return items
}

// holdingsDataType maps an entity and asset to the stored data type.
func holdingsDataType(entity, asset string) string {
	asset = strings.ToLower(asset)
	switch entity {
	case "blackrock":
		return "ibit_holdings_" + asset
	case "fidelity":
		return "fbtc_holdings_" + asset
	default:
		return entity + "_holdings_" + asset
	}
}

var arkhamNetValuePatterns = []struct {
	re    *regexp.Regexp
	scale float64
}{
	{regexp.MustCompile(`\$([\d,]+\.\d{2})\b`), 1},
	{regexp.MustCompile(`\$(\d+\.?\d*)B\b`), 1e9},
	{regexp.MustCompile(`\$(\d+\.?\d*)M\b`), 1e6},
}

// parseArkhamNetValue extracts the entity's total net value from the
// page header text. Values under $1M are prices, not totals.
func parseArkhamNetValue(text, entity string) *domain.CrawledItem {
	header := text
	if len(header) > 800 {
		header = header[:800]
	}

	for _, p := range arkhamNetValuePatterns {
		for _, match := range p.re.FindAllStringSubmatch(header, -1) {
			raw := strings.ReplaceAll(match[1], ",", "")
			num, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			value := num * p.scale
			if value < 1_000_000 {
				continue
			}
			return &domain.CrawledItem{
				DataType: entity + "_total_usd",
				Date:     time.Now().UTC(),
				Value:    value,
				Meta:     map[string]any{"entity": entity},
			}
		}
	}
	return nil
}
