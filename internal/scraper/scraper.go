package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/serp"
)

// Reason classifies why a fetch failed.
type Reason string

const (
	ReasonNetwork   Reason = "network"
	ReasonTimeout   Reason = "timeout"
	ReasonChallenge Reason = "challenge"
	ReasonBadStatus Reason = "bad_status"
)

// FetchError reports a failed results-page fetch. Fetches are never retried
// here; the orchestrator decides what a failure means for the run.
type FetchError struct {
	Keyword    string
	Reason     Reason
	StatusCode int    // set for bad_status
	Source     string // challenge source, e.g. "Google", "Cloudflare"
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Reason {
	case ReasonChallenge:
		return fmt.Sprintf("fetch %q: challenge detected (%s)", e.Keyword, e.Source)
	case ReasonBadStatus:
		return fmt.Sprintf("fetch %q: unexpected status %d", e.Keyword, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %q: %s: %v", e.Keyword, e.Reason, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// classify turns a transport-level error into a FetchError. Cancellation is
// passed through untouched so the orchestrator can tell an aborted run from a
// failed fetch.
func classify(keyword string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	reason := ReasonNetwork
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		reason = ReasonTimeout
	}
	return &FetchError{Keyword: keyword, Reason: reason, Err: err}
}

const googleSearchURL = "https://www.google.com/search"

// searchURL builds the results query for a keyword, asking for depth results
// on a single page.
func searchURL(base, keyword string, depth int) string {
	q := url.Values{}
	q.Set("q", keyword)
	q.Set("num", strconv.Itoa(depth))
	q.Set("hl", "en")
	q.Set("gl", "us")
	return base + "?" + q.Encode()
}

// New builds the Searcher for the configured strategy.
func New(cfg config.Scraping) (serp.Searcher, error) {
	switch cfg.Strategy {
	case config.StrategyHTTP:
		return newDirect(cfg)
	case config.StrategyBrowser:
		return newBrowser(cfg), nil
	case config.StrategyProxyAPI:
		return newProxyAPI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown scraping strategy %q", cfg.Strategy)
	}
}
