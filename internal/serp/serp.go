package serp

import (
	"context"
	"net"
	"strings"
	"time"
)

// Entry is a single organic result in a parsed listing. Rank is 1-based and
// assigned in display order over organic entries only; ads, "People also ask"
// blocks, and entries too malformed to carry a link never consume a rank.
type Entry struct {
	Rank    int    `json:"rank"`
	URL     string `json:"url"`
	Domain  string `json:"domain"` // normalized host
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Listing is the raw capture of one results page.
type Listing struct {
	Keyword    string
	CapturedAt time.Time
	HTML       []byte
}

// Searcher abstracts a search engine that can return the raw results listing
// for a keyword, examining at most depth results. Implementations may scrape
// directly, drive a headless browser, or call a scraping proxy service.
type Searcher interface {
	Search(ctx context.Context, keyword string, depth int) (*Listing, error)
}

// NormalizeDomain reduces a URL or host to a comparable domain: lowercased,
// scheme, path, port, and leading www. stripped.
func NormalizeDomain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil && host != "" {
		s = host
	}
	return strings.TrimPrefix(s, "www.")
}

// MatchesDomain reports whether host belongs to target: equal after
// normalization, or a subdomain of it. Substring matches do not count, so
// notexample.com never matches example.com.
func MatchesDomain(host, target string) bool {
	h := NormalizeDomain(host)
	t := NormalizeDomain(target)
	if h == "" || t == "" {
		return false
	}
	return h == t || strings.HasSuffix(h, "."+t)
}

// Locate returns the first entry matching the target domain, or nil if the
// domain does not appear in the listing.
func Locate(entries []Entry, targetDomain string) *Entry {
	for i := range entries {
		if MatchesDomain(entries[i].Domain, targetDomain) {
			return &entries[i]
		}
	}
	return nil
}
