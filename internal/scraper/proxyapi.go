package scraper

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stoic-cipher/serp-tracker/internal/challenge"
	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/metrics"
	"github.com/stoic-cipher/serp-tracker/internal/serp"
	"github.com/stoic-cipher/serp-tracker/pkg/throttle"
)

// ensure proxyAPI implements serp.Searcher
var _ serp.Searcher = (*proxyAPI)(nil)

// proxyAPI fetches results pages through a scraping API that handles proxy
// rotation and header spoofing on its side. The only strategy safe to run
// with concurrency above one.
type proxyAPI struct {
	base      string
	endpoint  string
	apiKey    string
	country   string
	client    *resty.Client
	wait      *throttle.Throttle
	detectors []challenge.Detector
}

func newProxyAPI(cfg config.Scraping) *proxyAPI {
	client := resty.New()
	client.SetTimeout(cfg.Timeout())

	return &proxyAPI{
		base:      googleSearchURL,
		endpoint:  cfg.ProxyAPIURL,
		apiKey:    cfg.ProxyAPIKey,
		country:   cfg.CountryCode,
		client:    client,
		wait:      throttle.New(cfg.MinDelay(), cfg.MaxDelay()),
		detectors: challenge.DefaultDetectors(),
	}
}

func (p *proxyAPI) Search(ctx context.Context, keyword string, depth int) (*serp.Listing, error) {
	if err := p.wait.Wait(ctx); err != nil {
		return nil, err
	}

	req := p.client.R().
		SetContext(ctx).
		SetQueryParam("api_key", p.apiKey).
		SetQueryParam("url", searchURL(p.base, keyword, depth)).
		SetQueryParam("render", "false")
	if p.country != "" {
		req.SetQueryParam("country_code", p.country)
	}

	res, err := req.Get(p.endpoint)
	if err != nil {
		return nil, classify(keyword, err)
	}

	body := res.Body()

	// The API passes Google's challenge pages through as payload, so the
	// body markers still apply.
	page := challenge.Page{StatusCode: res.StatusCode(), Header: res.Header(), Body: body}
	if source, detected := challenge.Detect(&page, p.detectors); detected {
		metrics.CountChallenge(source)
		return nil, &FetchError{Keyword: keyword, Reason: ReasonChallenge, Source: source}
	}

	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		return nil, &FetchError{Keyword: keyword, Reason: ReasonBadStatus, StatusCode: res.StatusCode()}
	}

	return &serp.Listing{Keyword: keyword, CapturedAt: time.Now().UTC(), HTML: body}, nil
}
