// Package tracker runs tracking cycles: for every selected client/keyword
// pair it fetches the results page, locates the client's domain, appends the
// check to storage, and raises alerts for rank changes against the previous
// check.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stoic-cipher/serp-tracker/internal/alert"
	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/metrics"
	"github.com/stoic-cipher/serp-tracker/internal/serp"
	"github.com/stoic-cipher/serp-tracker/internal/storage"
)

// Selection narrows a run. The zero value selects every keyword of every
// client. Keyword requires ClientID; TestMode keeps only the first keyword
// of each selected client.
type Selection struct {
	ClientID string
	Keyword  string
	TestMode bool
}

// Status of a single keyword check.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Outcome is the result of one client/keyword check within a run.
type Outcome struct {
	ClientID string
	Keyword  string
	Status   Status
	Position *int
	Alerts   []*storage.Alert
	Err      error
}

// StoreFailure reports whether the outcome failed in the storage layer
// rather than during fetching or parsing.
func (o Outcome) StoreFailure() bool {
	var se *storage.StoreError
	return errors.As(o.Err, &se)
}

// Totals aggregates a run.
type Totals struct {
	Keywords  int
	Succeeded int
	Failed    int
	Alerts    int
}

// RunReport describes a completed (or cancelled) run. Outcomes holds one
// entry per pair that actually ran; pairs skipped by cancellation are absent.
type RunReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []Outcome
	Totals    Totals
}

type pair struct {
	clientID string
	client   config.Client
	keyword  string
}

// Tracker coordinates one tracking cycle over a searcher and a store.
type Tracker struct {
	cfg        *config.Config
	store      storage.Store
	searcher   serp.Searcher
	logger     *slog.Logger
	thresholds alert.Thresholds
}

// New creates a Tracker. A nil logger falls back to slog.Default().
func New(cfg *config.Config, store storage.Store, searcher serp.Searcher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:        cfg,
		store:      store,
		searcher:   searcher,
		logger:     logger,
		thresholds: alert.Thresholds{MoveDelta: cfg.Alerts.MoveThreshold},
	}
}

// Run executes one tracking cycle over the selection. Fetch and parse
// failures are downgraded to failed outcomes; the run keeps going. On
// cancellation Run returns the partial report together with the context
// error: every outcome present in it completed, including its write.
func (t *Tracker) Run(ctx context.Context, sel Selection) (*RunReport, error) {
	pairs, err := t.resolve(sel)
	if err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	t.logger.Info("run started",
		"keywords", len(pairs),
		"strategy", t.cfg.Scraping.Strategy,
		"concurrency", t.cfg.Scraping.Concurrency)

	outcomes := make([]Outcome, len(pairs))

	limit := t.cfg.Scraping.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, p := range pairs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			o := t.checkPair(gCtx, p)
			if errors.Is(o.Err, context.Canceled) {
				// Aborted, not failed; leave the slot empty.
				return o.Err
			}
			outcomes[i] = o
			return nil
		})
	}
	runErr := g.Wait()

	report := &RunReport{StartedAt: started}
	for _, o := range outcomes {
		if o.Keyword == "" {
			continue
		}
		report.Outcomes = append(report.Outcomes, o)
		report.Totals.Keywords++
		switch o.Status {
		case StatusSuccess:
			report.Totals.Succeeded++
		case StatusFailed:
			report.Totals.Failed++
		}
		report.Totals.Alerts += len(o.Alerts)
	}
	report.Duration = time.Since(started)

	// The audit row still covers a cancelled run's completed outcomes.
	t.logRuns(context.WithoutCancel(ctx), report)

	t.logger.Info("run finished",
		"keywords", report.Totals.Keywords,
		"succeeded", report.Totals.Succeeded,
		"failed", report.Totals.Failed,
		"alerts", report.Totals.Alerts,
		"duration", report.Duration.Round(time.Millisecond))

	return report, runErr
}

// resolve validates the selection against the configuration and expands it
// into the pairs to check, clients in sorted order.
func (t *Tracker) resolve(sel Selection) ([]pair, error) {
	if sel.Keyword != "" && sel.ClientID == "" {
		return nil, errors.New("keyword selection requires a client")
	}

	ids := t.cfg.ClientIDs()
	if sel.ClientID != "" {
		if _, ok := t.cfg.ClientByID(sel.ClientID); !ok {
			return nil, fmt.Errorf("unknown client %q", sel.ClientID)
		}
		ids = []string{sel.ClientID}
	}

	var pairs []pair
	for _, id := range ids {
		client, _ := t.cfg.ClientByID(id)

		keywords := client.Keywords
		switch {
		case sel.Keyword != "":
			found := false
			for _, kw := range keywords {
				if kw == sel.Keyword {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("client %q does not track keyword %q", id, sel.Keyword)
			}
			keywords = []string{sel.Keyword}
		case sel.TestMode && len(keywords) > 1:
			keywords = keywords[:1]
		}

		for _, kw := range keywords {
			pairs = append(pairs, pair{clientID: id, client: client, keyword: kw})
		}
	}
	return pairs, nil
}

// checkPair runs the full cycle for one pair: fetch, extract, record,
// detect, save alerts.
func (t *Tracker) checkPair(ctx context.Context, p pair) Outcome {
	started := time.Now()
	out := Outcome{ClientID: p.clientID, Keyword: p.keyword}

	listing, err := t.searcher.Search(ctx, p.keyword, t.cfg.Scraping.ScanDepth)
	if err != nil {
		return t.fail(out, started, err)
	}

	entries, err := serp.ParseListing(listing.HTML)
	if err != nil {
		return t.fail(out, started, fmt.Errorf("extract %q: %w", p.keyword, err))
	}

	check := &storage.Check{
		ClientID:    p.clientID,
		Domain:      p.client.Domain,
		Keyword:     p.keyword,
		ResultCount: len(entries),
	}
	if hit := serp.Locate(entries, p.client.Domain); hit != nil {
		rank := hit.Rank
		check.Position = &rank
		check.FoundURL = hit.URL
		check.Title = hit.Title
		check.Snippet = hit.Snippet
	}

	prev, err := t.store.RecordCheck(ctx, check)
	if err != nil {
		return t.fail(out, started, err)
	}

	out.Status = StatusSuccess
	out.Position = check.Position

	// The first check of a pair has no baseline to compare against.
	if prev != nil {
		for _, kind := range alert.Detect(prev.Position, check.Position, t.thresholds) {
			a := &storage.Alert{
				ClientID:     p.clientID,
				Keyword:      p.keyword,
				Type:         kind,
				PrevPosition: prev.Position,
				NewPosition:  check.Position,
				Change:       alert.Delta(prev.Position, check.Position),
			}
			if err := t.store.SaveAlert(ctx, a); err != nil {
				t.logger.Error("failed to save alert",
					"client", p.clientID, "keyword", p.keyword, "type", kind, "err", err)
				continue
			}
			out.Alerts = append(out.Alerts, a)
			metrics.CountAlert(p.clientID, string(kind))
		}
	}

	t.logger.Info("check complete",
		"client", p.clientID,
		"keyword", p.keyword,
		positionAttr(check.Position),
		"alerts", len(out.Alerts))
	metrics.ObserveCheck(p.clientID, string(StatusSuccess), time.Since(started))
	return out
}

func (t *Tracker) fail(out Outcome, started time.Time, err error) Outcome {
	out.Status = StatusFailed
	out.Err = err
	if !errors.Is(err, context.Canceled) {
		t.logger.Error("check failed", "client", out.ClientID, "keyword", out.Keyword, "err", err)
		metrics.ObserveCheck(out.ClientID, string(StatusFailed), time.Since(started))
	}
	return out
}

// logRuns persists one audit row per client that ran. Audit failures are
// logged but never fail the run itself.
func (t *Tracker) logRuns(ctx context.Context, report *RunReport) {
	order := make([]string, 0, 4)
	byClient := make(map[string]*storage.RunLog)

	for _, o := range report.Outcomes {
		run, ok := byClient[o.ClientID]
		if !ok {
			run = &storage.RunLog{ClientID: o.ClientID, StartedAt: report.StartedAt}
			byClient[o.ClientID] = run
			order = append(order, o.ClientID)
		}
		run.Keywords++
		run.Alerts += len(o.Alerts)
		switch o.Status {
		case StatusSuccess:
			run.Succeeded++
		case StatusFailed:
			run.Failed++
			run.Errors = append(run.Errors, fmt.Sprintf("%s: %v", o.Keyword, o.Err))
		}
	}

	finished := report.StartedAt.Add(report.Duration)
	for _, id := range order {
		run := byClient[id]
		run.FinishedAt = finished
		if err := t.store.LogRun(ctx, run); err != nil {
			t.logger.Error("failed to log run", "client", id, "err", err)
		}
	}
}

func positionAttr(p *int) slog.Attr {
	if p == nil {
		return slog.String("position", "not_found")
	}
	return slog.Int("position", *p)
}
