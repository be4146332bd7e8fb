package crawler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"marketd/internal/domain"
)

// Spider scrapes one source URL inside a browser tab context.
type Spider interface {
	// Crawl extracts data points from the page. The tab context carries
	// the task deadline.
	Crawl(tabCtx context.Context) ([]domain.CrawledItem, error)
}

// spiderFactory builds a spider bound to a source URL.
type spiderFactory func(url string, log zerolog.Logger) Spider

var spiderRegistry = map[string]spiderFactory{
	"farside": newFarsideSpider,
	"arkham":  newArkhamSpider,
}

// newSpider builds the spider registered under spiderType.
func newSpider(spiderType, url string, log zerolog.Logger) (Spider, error) {
	factory, ok := spiderRegistry[spiderType]
	if !ok {
		return nil, fmt.Errorf("unknown spider type %q", spiderType)
	}
	return factory(url, log), nil
}
