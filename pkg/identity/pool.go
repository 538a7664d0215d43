package identity

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"sync/atomic"
)

// Identity is a coherent set of browser request headers. Mixing a Chrome
// User-Agent with Firefox accept headers is a fingerprinting giveaway, so the
// fields travel together and are applied together.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	// Platform is the Sec-CH-UA-Platform client hint value, quoted.
	Platform string
	// SecCHUA is the Sec-CH-UA client hint. Empty for non-Chromium browsers,
	// which do not send it.
	SecCHUA string
}

// Apply sets the identity's headers on h, replacing any previous values.
func (id Identity) Apply(h http.Header) {
	h.Set("User-Agent", id.UserAgent)
	h.Set("Accept-Language", id.AcceptLanguage)
	if id.SecCHUA != "" {
		h.Set("Sec-CH-UA", id.SecCHUA)
		h.Set("Sec-CH-UA-Mobile", "?0")
		h.Set("Sec-CH-UA-Platform", id.Platform)
	} else {
		h.Del("Sec-CH-UA")
		h.Del("Sec-CH-UA-Mobile")
		h.Del("Sec-CH-UA-Platform")
	}
}

// DefaultPool provides a realistic set of modern desktop browser identities.
var DefaultPool = []Identity{
	// Chrome Windows
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		Platform:       `"Windows"`,
		SecCHUA:        `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		Platform:       `"Windows"`,
		SecCHUA:        `"Not A(Brand";v="99", "Chromium";v="121", "Google Chrome";v="121"`,
	},
	// Chrome Mac
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		Platform:       `"macOS"`,
		SecCHUA:        `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	},
	// Firefox Windows
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		AcceptLanguage: "en-US,en;q=0.5",
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
		AcceptLanguage: "en-US,en;q=0.5",
	},
	// Firefox Mac
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
		AcceptLanguage: "en-US,en;q=0.5",
	},
	// Safari Mac
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		AcceptLanguage: "en-US,en;q=0.9",
	},
	// Edge Windows
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		AcceptLanguage: "en-US,en;q=0.9",
		Platform:       `"Windows"`,
		SecCHUA:        `"Not_A Brand";v="8", "Chromium";v="120", "Microsoft Edge";v="120"`,
	},
}

// Pool is a collection of browser identities that can be retrieved
// sequentially or randomly.
type Pool struct {
	ids     []Identity
	counter atomic.Uint64
}

// NewPool creates a new identity pool. If the provided slice is empty,
// it falls back to DefaultPool.
func NewPool(ids []Identity) *Pool {
	if len(ids) == 0 {
		ids = DefaultPool
	}
	// Copy to avoid external mutation
	copied := make([]Identity, len(ids))
	copy(copied, ids)
	return &Pool{
		ids: copied,
	}
}

// GetSequential returns the next identity in the pool in a round-robin
// fashion. It is safe for concurrent use.
func (p *Pool) GetSequential() Identity {
	if len(p.ids) == 0 {
		return Identity{}
	}
	idx := p.counter.Add(1) - 1
	return p.ids[idx%uint64(len(p.ids))]
}

// GetRandom returns a random identity from the pool using crypto/rand.
// It is safe for concurrent use.
func (p *Pool) GetRandom() Identity {
	if len(p.ids) == 0 {
		return Identity{}
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.ids))))
	if err != nil {
		// Fallback to sequential if crypto/rand fails
		return p.GetSequential()
	}
	return p.ids[n.Int64()]
}

// GetAll returns a copy of all identities currently in the pool.
func (p *Pool) GetAll() []Identity {
	copied := make([]Identity, len(p.ids))
	copy(copied, p.ids)
	return copied
}
