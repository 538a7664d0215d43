package scraper

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/stoic-cipher/serp-tracker/internal/challenge"
	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/metrics"
	"github.com/stoic-cipher/serp-tracker/internal/serp"
	"github.com/stoic-cipher/serp-tracker/pkg/identity"
	"github.com/stoic-cipher/serp-tracker/pkg/throttle"
)

// ensure browser implements serp.Searcher
var _ serp.Searcher = (*browser)(nil)

// browser drives a headless Chrome through chromedp so the results page is
// rendered by a real browser engine. Each search runs in a fresh browser, so
// no session state carries over between keywords. Sequential only.
type browser struct {
	base      string
	ids       *identity.Pool
	wait      *throttle.Throttle
	detectors []challenge.Detector
	timeout   time.Duration
	settle    time.Duration
}

func newBrowser(cfg config.Scraping) *browser {
	return &browser{
		base:      googleSearchURL,
		ids:       identity.NewPool(nil),
		wait:      throttle.New(cfg.MinDelay(), cfg.MaxDelay()),
		detectors: challenge.DefaultDetectors(),
		timeout:   cfg.Timeout(),
		settle:    2 * time.Second,
	}
}

func (b *browser) Search(ctx context.Context, keyword string, depth int) (*serp.Listing, error) {
	if err := b.wait.Wait(ctx); err != nil {
		return nil, err
	}

	id := b.ids.GetSequential()
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(id.UserAgent),
	)
	if bin := findChromeBinary(); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(tabCtx, b.timeout)
		defer cancel()
	}

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(searchURL(b.base, keyword, depth)),
		chromedp.Sleep(b.settle),
		chromedp.Evaluate(`document.documentElement.outerHTML`, &html),
	)
	if err != nil {
		return nil, classify(keyword, err)
	}

	body := []byte(html)

	// Rendered pages carry no status or headers; detection works off the
	// body markers alone.
	page := challenge.Page{StatusCode: http.StatusOK, Header: http.Header{}, Body: body}
	if source, detected := challenge.Detect(&page, b.detectors); detected {
		metrics.CountChallenge(source)
		return nil, &FetchError{Keyword: keyword, Reason: ReasonChallenge, Source: source}
	}

	return &serp.Listing{Keyword: keyword, CapturedAt: time.Now().UTC(), HTML: body}, nil
}

// findChromeBinary locates a Chrome or Chromium binary, preferring an
// explicit CHROME_BIN. An empty result lets chromedp use its own default.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
