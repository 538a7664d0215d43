package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProxy is returned when marking a URL the pool does not manage.
var ErrUnknownProxy = errors.New("proxy not in pool")

// endpoint tracks the health of a single outbound proxy.
type endpoint struct {
	url           *url.URL
	failures      int
	successes     int
	lastUsed      time.Time
	disabled      bool
	disabledUntil time.Time
}

// Pool rotates outbound proxies and benches the ones that keep failing.
// It is safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	endpoints   []*endpoint
	nextIndex   int
	maxFailures int
	cooldown    time.Duration
}

// Config defines settings for the proxy pool.
type Config struct {
	// MaxFailures before disabling a proxy temporarily.
	MaxFailures int
	// Cooldown is how long a proxy remains disabled after hitting MaxFailures.
	Cooldown time.Duration
}

// NewPool creates a new proxy pool. If config values are zero, reasonable defaults are used.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// LoadFile reads proxies from a file, expecting one URL per line.
// Lines starting with '#' or empty lines are ignored.
func (p *Pool) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var urls []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read proxy file: %w", err)
	}

	return p.Add(urls...)
}

// Add parses raw URL strings and adds them to the pool.
func (p *Pool) Add(rawURLs ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range rawURLs {
		if !strings.Contains(raw, "://") {
			// default to http if scheme is missing
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse proxy url %q: %w", raw, err)
		}
		p.endpoints = append(p.endpoints, &endpoint{
			url: u,
		})
	}
	return nil
}

// Len returns the number of proxies in the pool, healthy or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Next returns the next healthy proxy URL in the pool. It returns nil if no
// proxies are available or if all proxies are currently cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return nil
	}

	now := time.Now()
	startIndex := p.nextIndex

	for {
		ep := p.endpoints[p.nextIndex]
		p.nextIndex = (p.nextIndex + 1) % len(p.endpoints)

		// Revive benched proxies whose cooldown has elapsed.
		if ep.disabled && now.After(ep.disabledUntil) {
			ep.disabled = false
			ep.failures = 0
		}

		if !ep.disabled {
			ep.lastUsed = now
			return ep.url
		}

		// Looped all the way around, nothing healthy.
		if p.nextIndex == startIndex {
			return nil
		}
	}
}

// MarkSuccess records a successful request through the given proxy URL.
func (p *Pool) MarkSuccess(proxyURL *url.URL) error {
	if proxyURL == nil {
		return errors.New("proxy url cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ep := p.find(proxyURL)
	if ep == nil {
		return ErrUnknownProxy
	}

	ep.successes++
	if ep.failures > 0 {
		ep.failures--
	}
	return nil
}

// MarkFailure records a failure for the given proxy URL. If failures reach
// the configured maximum, the proxy is benched for the cooldown period.
func (p *Pool) MarkFailure(proxyURL *url.URL) error {
	if proxyURL == nil {
		return errors.New("proxy url cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ep := p.find(proxyURL)
	if ep == nil {
		return ErrUnknownProxy
	}

	ep.failures++
	if ep.failures >= p.maxFailures {
		ep.disabled = true
		ep.disabledUntil = time.Now().Add(p.cooldown)
	}
	return nil
}

// find locates an endpoint by its String() representation. Must be called with lock held.
func (p *Pool) find(u *url.URL) *endpoint {
	target := u.String()
	for _, ep := range p.endpoints {
		if ep.url.String() == target {
			return ep
		}
	}
	return nil
}
