package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/stoic-cipher/serp-tracker/internal/challenge"
	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/fingerprint"
	"github.com/stoic-cipher/serp-tracker/internal/metrics"
	"github.com/stoic-cipher/serp-tracker/internal/serp"
	"github.com/stoic-cipher/serp-tracker/pkg/httpclient"
	"github.com/stoic-cipher/serp-tracker/pkg/identity"
	"github.com/stoic-cipher/serp-tracker/pkg/proxy"
	"github.com/stoic-cipher/serp-tracker/pkg/throttle"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// contextProxyFunc resolves the proxy for a request from its context,
// falling back to the environment.
func contextProxyFunc(req *http.Request) (*url.URL, error) {
	if val := req.Context().Value(proxyKey); val != nil {
		if u, ok := val.(*url.URL); ok {
			return u, nil
		}
	}
	return http.ProxyFromEnvironment(req)
}

// ensure direct implements serp.Searcher
var _ serp.Searcher = (*direct)(nil)

// direct fetches results pages straight from the engine over plain HTTP with
// a browser identity, a browser TLS fingerprint, randomized delays, and an
// optional rotating proxy pool. It must run sequentially; Google tolerates a
// patient single client far longer than a parallel one.
type direct struct {
	base      string
	client    *httpclient.Client
	ids       *identity.Pool
	wait      *throttle.Throttle
	proxies   *proxy.Pool
	detectors []challenge.Detector
}

func newDirect(cfg config.Scraping) (*direct, error) {
	profile, err := fingerprint.ParseProfile(cfg.TLSProfile)
	if err != nil {
		return nil, err
	}

	var proxies *proxy.Pool
	if cfg.ProxyFile != "" {
		proxies = proxy.NewPool(proxy.Config{MaxFailures: 3, Cooldown: 5 * time.Minute})
		if err := proxies.LoadFile(cfg.ProxyFile); err != nil {
			return nil, fmt.Errorf("load proxy file: %w", err)
		}
	}

	// The transport is built once so connections and cookies persist across
	// fetches. Per-request proxy rotation goes through the request context
	// because mutating Transport.Proxy concurrently is not safe.
	transport, err := fingerprint.Transport(profile, contextProxyFunc)
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout(),
		MaxRedirects: 5,
		UseCookieJar: true,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &direct{
		base:      googleSearchURL,
		client:    client,
		ids:       identity.NewPool(nil),
		wait:      throttle.New(cfg.MinDelay(), cfg.MaxDelay()),
		proxies:   proxies,
		detectors: challenge.DefaultDetectors(),
	}, nil
}

func (d *direct) Search(ctx context.Context, keyword string, depth int) (*serp.Listing, error) {
	if err := d.wait.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL(d.base, keyword, depth), nil)
	if err != nil {
		return nil, &FetchError{Keyword: keyword, Reason: ReasonNetwork, Err: err}
	}

	id := d.ids.GetSequential()
	id.Apply(req.Header)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")

	var activeProxy *url.URL
	if d.proxies != nil {
		if activeProxy = d.proxies.Next(); activeProxy != nil {
			req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
		}
	}

	resp, err := d.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = d.proxies.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.String()).Inc()
		}
		return nil, classify(keyword, err)
	}

	body, err := d.client.ReadBody(resp)
	if err != nil {
		return nil, classify(keyword, err)
	}
	if activeProxy != nil {
		_ = d.proxies.MarkSuccess(activeProxy)
	}

	page := challenge.Page{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if source, detected := challenge.Detect(&page, d.detectors); detected {
		metrics.CountChallenge(source)
		return nil, &FetchError{Keyword: keyword, Reason: ReasonChallenge, Source: source}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Keyword: keyword, Reason: ReasonBadStatus, StatusCode: resp.StatusCode}
	}

	return &serp.Listing{Keyword: keyword, CapturedAt: time.Now().UTC(), HTML: body}, nil
}
