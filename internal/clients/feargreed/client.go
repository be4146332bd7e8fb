// Package feargreed fetches the crypto Fear & Greed index from the
// alternative.me API.
package feargreed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"marketd/internal/monitor"
)

const defaultBaseURL = "https://api.alternative.me/fng"

// Index is the current Fear & Greed reading.
type Index struct {
	Value           int       `json:"value"`
	Classification  string    `json:"value_classification"`
	Timestamp       time.Time `json:"timestamp"`
	TimeUntilUpdate string    `json:"time_until_update,omitempty"`
}

// Point is one historical reading.
type Point struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Date           time.Time `json:"date"`
}

type Client struct {
	baseURL string
	http    *http.Client
	mon     *monitor.Monitor
	log     zerolog.Logger
}

func New(baseURL string, mon *monitor.Monitor, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		mon:     mon,
		log:     log.With().Str("client", "feargreed").Logger(),
	}
}

// Current fetches the latest index value.
func (c *Client) Current(ctx context.Context) (*Index, error) {
	items, latency, err := c.fetch(ctx, c.baseURL)
	if err != nil {
		c.record(false, 0, err.Error())
		return nil, err
	}
	if len(items) == 0 {
		c.record(false, latency, "Empty response")
		return nil, fmt.Errorf("fear & greed: empty response")
	}

	idx, err := parseItem(items[0])
	if err != nil {
		c.record(false, latency, err.Error())
		return nil, err
	}
	c.record(true, latency, fmt.Sprintf("Value: %d", idx.Value))
	return idx, nil
}

// History fetches up to limit daily readings, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]Point, error) {
	// Trailing slash matters: a redirect would drop the query string.
	url := fmt.Sprintf("%s/?limit=%d", c.baseURL, limit)
	items, _, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	out := make([]Point, 0, len(items))
	for _, item := range items {
		idx, err := parseItem(item)
		if err != nil {
			continue
		}
		out = append(out, Point{Value: idx.Value, Classification: idx.Classification, Date: idx.Timestamp})
	}
	return out, nil
}

// rawItem mirrors the API payload; numeric fields arrive as strings.
type rawItem struct {
	Value           string `json:"value"`
	Classification  string `json:"value_classification"`
	Timestamp       string `json:"timestamp"`
	TimeUntilUpdate string `json:"time_until_update"`
}

func parseItem(item rawItem) (*Index, error) {
	value, err := strconv.Atoi(item.Value)
	if err != nil {
		return nil, fmt.Errorf("fear & greed: bad value %q", item.Value)
	}
	ts, err := strconv.ParseInt(item.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("fear & greed: bad timestamp %q", item.Timestamp)
	}
	return &Index{
		Value:           value,
		Classification:  item.Classification,
		Timestamp:       time.Unix(ts, 0).UTC(),
		TimeUntilUpdate: item.TimeUntilUpdate,
	}, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]rawItem, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	latency := int(time.Since(started).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, latency, fmt.Errorf("fear & greed api status %d", resp.StatusCode)
	}

	var body struct {
		Data []rawItem `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, latency, err
	}
	return body.Data, latency, nil
}

func (c *Client) record(ok bool, latencyMS int, message string) {
	if c.mon != nil {
		c.mon.Record("Fear & Greed", "REST", ok, latencyMS, message)
	}
}
