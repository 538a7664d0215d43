package serp

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoResults indicates the document is not a recognizable results page.
// An empty but well-formed results page is not an error; it parses to zero
// entries.
var ErrNoResults = errors.New("no recognizable results markup")

// Google's markup shifts under us regularly. The primary container selector
// and its fallback mirror what the page has served for years; the scaffold
// ids distinguish "results page with nothing we can read" from "not a
// results page at all".
const (
	googleResultSel         = "div.g"
	googleResultFallbackSel = "div[data-sokoban-container]"
	googleScaffoldSel       = "#search, #res, #rso"
	googleAdSel             = "#tads, #bottomads, [data-text-ad]"
	googlePAASel            = ".related-question-pair"
	googleSnippetSel        = `div[data-sncf="1"]`
	googleSnippetFallback   = "div.VwiC3b"
)

// ParseListing extracts the organic entries from a Google results page in
// display order. Ads, "People also ask" blocks, Google self-links, and
// entries without a usable link are skipped without consuming a rank.
func ParseListing(html []byte) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	containers := doc.Find(googleResultSel)
	if containers.Length() == 0 {
		containers = doc.Find(googleResultFallbackSel)
	}
	if containers.Length() == 0 {
		if doc.Find(googleScaffoldSel).Length() == 0 {
			return nil, ErrNoResults
		}
		// Recognizable results page with no organic entries.
		return nil, nil
	}

	var entries []Entry
	containers.Each(func(_ int, s *goquery.Selection) {
		if s.Is("[data-text-ad]") ||
			s.ParentsFiltered(googleAdSel).Length() > 0 ||
			s.ParentsFiltered(googlePAASel).Length() > 0 ||
			s.Find(googlePAASel).Length() > 0 {
			return
		}

		href, ok := s.Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		href = cleanResultURL(href)
		if href == "" {
			return
		}

		u, err := url.Parse(href)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return
		}
		if MatchesDomain(u.Host, "google.com") {
			return
		}

		title := strings.TrimSpace(s.Find("h3").First().Text())
		snippet := s.Find(googleSnippetSel).First()
		if snippet.Length() == 0 {
			snippet = s.Find(googleSnippetFallback).First()
		}

		entries = append(entries, Entry{
			Rank:    len(entries) + 1,
			URL:     href,
			Domain:  NormalizeDomain(u.Host),
			Title:   title,
			Snippet: strings.TrimSpace(snippet.Text()),
		})
	})

	return entries, nil
}

// cleanResultURL unwraps Google's /url?q= redirect form and rejects hrefs
// that cannot point at an external page.
func cleanResultURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	if strings.HasPrefix(href, "/url?") {
		u, err := url.Parse(href)
		if err != nil {
			return ""
		}
		return u.Query().Get("q")
	}
	return href
}
