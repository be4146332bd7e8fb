package crawler

import (
	"context"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// browserRecycleAfter is how many spider runs share one browser process
// before it is torn down and relaunched. Long-lived headless Chrome
// accumulates memory, so periodic recycling keeps the footprint stable.
const browserRecycleAfter = 50

// BrowserPool owns a single headless browser, launched lazily and
// serialized behind a mutex. Each Run gets a fresh tab context that is
// always cancelled before returning.
type BrowserPool struct {
	mu        sync.Mutex
	headless  bool
	allocCtx  context.Context
	allocStop context.CancelFunc
	uses      int
	log       zerolog.Logger
}

// NewBrowserPool creates a pool. The browser itself is not launched
// until the first Run.
func NewBrowserPool(headless bool, log zerolog.Logger) *BrowserPool {
	return &BrowserPool{
		headless: headless,
		log:      log.With().Str("component", "browser_pool").Logger(),
	}
}

// Run executes fn against a fresh browser tab. Calls are serialized: the
// scraped pages are heavy and a single headless browser handles one page
// reliably.
func (p *BrowserPool) Run(ctx context.Context, fn func(tabCtx context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.uses >= browserRecycleAfter {
		p.log.Info().Int("uses", p.uses).Msg("Recycling browser")
		p.closeLocked()
	}

	if p.allocCtx == nil {
		opts := chromedp.DefaultExecAllocatorOptions[:]
		if !p.headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		opts = append(opts,
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		p.allocCtx, p.allocStop = chromedp.NewExecAllocator(context.Background(), opts...)
		p.log.Info().Bool("headless", p.headless).Msg("Launched browser allocator")
	}

	tabCtx, cancelTab := chromedp.NewContext(p.allocCtx)
	defer cancelTab()

	// Bound the tab's lifetime by the caller's deadline.
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tabCtx, cancelDeadline = context.WithDeadline(tabCtx, deadline)
		defer cancelDeadline()
	}

	p.uses++
	return fn(tabCtx)
}

// Close shuts down the browser process.
func (p *BrowserPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *BrowserPool) closeLocked() {
	if p.allocStop != nil {
		p.allocStop()
		p.allocCtx = nil
		p.allocStop = nil
		p.uses = 0
	}
}
