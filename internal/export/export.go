// Package export renders ranking history in spreadsheet and interchange
// formats: raw CSV and JSON windows, a week-over-week comparison, and a
// Keyword/Position/URL sheet for importing into third-party SEO tools.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/stoic-cipher/serp-tracker/internal/storage"
)

// ComparisonWindow is how far back the comparison baseline is taken.
const ComparisonWindow = 7 * 24 * time.Hour

// notRankingRank sorts keywords without a position after every ranked one.
const notRankingRank = 999

// historyHeaders defines the CSV column order for history exports.
var historyHeaders = []string{
	"client_id",
	"domain",
	"keyword",
	"position",
	"url",
	"title",
	"check_date",
}

var comparisonHeaders = []string{
	"keyword",
	"current_position",
	"previous_position",
	"change",
	"current_date",
	"previous_date",
	"change_description",
}

// Record is one history row in the JSON export.
type Record struct {
	ClientID  string    `json:"client_id"`
	Domain    string    `json:"domain"`
	Keyword   string    `json:"keyword"`
	Position  *int      `json:"position"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	CheckDate time.Time `json:"check_date"`
}

// Exporter reads ranking history from a store and writes export documents.
type Exporter struct {
	store storage.Store
}

func New(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// gather loads the history window for the given clients, keeping the client
// order and sorting each client's rows newest first.
func (e *Exporter) gather(ctx context.Context, clientIDs []string, since time.Time) ([]*storage.Check, error) {
	var all []*storage.Check
	for _, id := range clientIDs {
		checks, err := e.store.ChecksSince(ctx, id, since)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(checks, func(i, j int) bool {
			if !checks[i].CheckedAt.Equal(checks[j].CheckedAt) {
				return checks[i].CheckedAt.After(checks[j].CheckedAt)
			}
			return positionRank(checks[i].Position) < positionRank(checks[j].Position)
		})
		all = append(all, checks...)
	}
	return all, nil
}

// WriteCSV exports the history window as CSV and returns the number of data
// rows written.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, clientIDs []string, since time.Time) (int, error) {
	checks, err := e.gather(ctx, clientIDs, since)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeaders); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range checks {
		record := []string{
			c.ClientID,
			c.Domain,
			c.Keyword,
			positionCell(c.Position),
			c.FoundURL,
			c.Title,
			c.CheckedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(checks), nil
}

// WriteJSON exports the history window as an indented JSON array, snippet
// included, and returns the number of records written.
func (e *Exporter) WriteJSON(ctx context.Context, w io.Writer, clientIDs []string, since time.Time) (int, error) {
	checks, err := e.gather(ctx, clientIDs, since)
	if err != nil {
		return 0, err
	}

	records := make([]Record, 0, len(checks))
	for _, c := range checks {
		records = append(records, Record{
			ClientID:  c.ClientID,
			Domain:    c.Domain,
			Keyword:   c.Keyword,
			Position:  c.Position,
			URL:       c.FoundURL,
			Title:     c.Title,
			Snippet:   c.Snippet,
			CheckDate: c.CheckedAt,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return 0, fmt.Errorf("encode json export: %w", err)
	}
	return len(records), nil
}

// WriteComparison exports one client's latest positions against the snapshot
// from a week earlier. Rows are driven by the current snapshot: keywords that
// gained a first position show as New, lost positions as Dropped out. A zero
// now means the present.
func (e *Exporter) WriteComparison(ctx context.Context, w io.Writer, clientID string, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now()
	}

	current, err := e.store.LatestChecks(ctx, clientID, now)
	if err != nil {
		return 0, err
	}
	baseline, err := e.store.LatestChecks(ctx, clientID, now.Add(-ComparisonWindow))
	if err != nil {
		return 0, err
	}

	old := make(map[string]*storage.Check, len(baseline))
	for _, c := range baseline {
		old[c.Keyword] = c
	}

	sort.SliceStable(current, func(i, j int) bool {
		return positionRank(current[i].Position) < positionRank(current[j].Position)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(comparisonHeaders); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, cur := range current {
		var prevPos *int
		prevDate := ""
		if prev := old[cur.Keyword]; prev != nil {
			prevPos = prev.Position
			prevDate = prev.CheckedAt.Format(time.RFC3339)
		}

		change := ""
		if prevPos != nil && cur.Position != nil {
			change = strconv.Itoa(*prevPos - *cur.Position)
		}

		record := []string{
			cur.Keyword,
			positionCell(cur.Position),
			positionCell(prevPos),
			change,
			cur.CheckedAt.Format(time.RFC3339),
			prevDate,
			describeChange(prevPos, cur.Position),
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(current), nil
}

// WriteAhrefs exports one client's latest snapshot as a Keyword/Position/URL
// sheet for rank-tool imports.
func (e *Exporter) WriteAhrefs(ctx context.Context, w io.Writer, clientID string) (int, error) {
	current, err := e.store.LatestChecks(ctx, clientID, time.Time{})
	if err != nil {
		return 0, err
	}

	sort.SliceStable(current, func(i, j int) bool {
		return positionRank(current[i].Position) < positionRank(current[j].Position)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Keyword", "Position", "URL"}); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range current {
		position := "Not ranking"
		if c.Position != nil {
			position = strconv.Itoa(*c.Position)
		}
		if err := cw.Write([]string{c.Keyword, position, c.FoundURL}); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(current), nil
}

// describeChange summarizes a position move: New for a keyword without a
// baseline, Dropped out for a lost ranking, arrows for movement.
func describeChange(prev, cur *int) string {
	switch {
	case prev == nil:
		return "New"
	case cur == nil:
		return "Dropped out"
	}
	switch change := *prev - *cur; {
	case change > 0:
		return fmt.Sprintf("↑ %d", change)
	case change < 0:
		return fmt.Sprintf("↓ %d", -change)
	default:
		return "–"
	}
}

func positionCell(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func positionRank(p *int) int {
	if p == nil {
		return notRankingRank
	}
	return *p
}
