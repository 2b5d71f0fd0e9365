package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeFetcher renders pages in headless Chrome so client-side content and
// injected JSON-LD are present. One browser is shared by all fetches.
type ChromeFetcher struct {
	Headless  bool
	UserAgent string
	Timeout   time.Duration
	// Settle is how long to wait after load for scripts to run.
	Settle time.Duration

	once        sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

func NewChromeFetcher(headless bool, userAgent string, timeout time.Duration) *ChromeFetcher {
	return &ChromeFetcher{Headless: headless, UserAgent: userAgent, Timeout: timeout, Settle: time.Second}
}

func (c *ChromeFetcher) allocator() context.Context {
	c.once.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", c.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if c.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(c.UserAgent))
		}
		c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	})
	return c.allocCtx
}

func (c *ChromeFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(c.allocator())
	defer cancelTab()
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()
	// propagate caller cancellation into the tab
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(c.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return ToMarkdown(html, pageURL)
}

// Close shuts down the shared browser.
func (c *ChromeFetcher) Close() {
	if c.allocCancel != nil {
		c.allocCancel()
	}
}
