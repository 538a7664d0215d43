package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stoic-cipher/serp-tracker/internal/alert"
	"github.com/stoic-cipher/serp-tracker/internal/config"
	"github.com/stoic-cipher/serp-tracker/internal/scraper"
	"github.com/stoic-cipher/serp-tracker/internal/serp"
	"github.com/stoic-cipher/serp-tracker/internal/storage"
)

// resultsPage builds a minimal results page with one organic entry per URL,
// ranked in order.
func resultsPage(urls ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="search">`)
	for _, u := range urls {
		fmt.Fprintf(&b, `<div class="g"><a href="%s"><h3>Title</h3></a><div class="VwiC3b">Snippet</div></div>`, u)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

type fakeSearcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	calls  []string
	onCall func(keyword string)
}

func (f *fakeSearcher) Search(ctx context.Context, keyword string, depth int) (*serp.Listing, error) {
	f.mu.Lock()
	f.calls = append(f.calls, keyword)
	page, ok := f.pages[keyword]
	searchErr := f.errs[keyword]
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(keyword)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if searchErr != nil {
		return nil, searchErr
	}
	if !ok {
		page = resultsPage()
	}
	return &serp.Listing{Keyword: keyword, CapturedAt: time.Now().UTC(), HTML: []byte(page)}, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeStore struct {
	mu        sync.Mutex
	checks    []*storage.Check
	alerts    []*storage.Alert
	runs      []*storage.RunLog
	recordErr error
	alertErr  error
}

func (f *fakeStore) RecordCheck(_ context.Context, c *storage.Check) (*storage.Check, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return nil, &storage.StoreError{Op: "record check", Err: f.recordErr}
	}
	var prev *storage.Check
	for i := len(f.checks) - 1; i >= 0; i-- {
		if f.checks[i].ClientID == c.ClientID && f.checks[i].Keyword == c.Keyword {
			prev = f.checks[i]
			break
		}
	}
	cp := *c
	cp.ID = fmt.Sprintf("check-%d", len(f.checks)+1)
	if cp.CheckedAt.IsZero() {
		cp.CheckedAt = time.Now().UTC()
	}
	f.checks = append(f.checks, &cp)
	return prev, nil
}

func (f *fakeStore) History(_ context.Context, clientID, keyword string) iter.Seq2[*storage.Check, error] {
	return func(yield func(*storage.Check, error) bool) {
		f.mu.Lock()
		snapshot := append([]*storage.Check(nil), f.checks...)
		f.mu.Unlock()
		for _, c := range snapshot {
			if c.ClientID == clientID && c.Keyword == keyword {
				if !yield(c, nil) {
					return
				}
			}
		}
	}
}

func (f *fakeStore) ChecksSince(_ context.Context, _ string, _ time.Time) ([]*storage.Check, error) {
	return nil, nil
}

func (f *fakeStore) LatestChecks(_ context.Context, _ string, _ time.Time) ([]*storage.Check, error) {
	return nil, nil
}

func (f *fakeStore) SaveAlert(_ context.Context, a *storage.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alertErr != nil {
		return &storage.StoreError{Op: "save alert", Err: f.alertErr}
	}
	cp := *a
	f.alerts = append(f.alerts, &cp)
	return nil
}

func (f *fakeStore) Alerts(_ context.Context, _ string, _ bool, _ int) ([]*storage.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*storage.Alert(nil), f.alerts...), nil
}

func (f *fakeStore) AckAlerts(_ context.Context, _ []string) (int64, error) { return 0, nil }

func (f *fakeStore) LogRun(_ context.Context, run *storage.RunLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs = append(f.runs, &cp)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) seed(clientID, keyword string, position *int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, &storage.Check{
		ID:        fmt.Sprintf("seed-%d", len(f.checks)+1),
		ClientID:  clientID,
		Keyword:   keyword,
		Position:  position,
		CheckedAt: time.Now().UTC().Add(-24 * time.Hour),
	})
}

func testConfig(clients map[string]config.Client) *config.Config {
	return &config.Config{
		Clients: clients,
		Scraping: config.Scraping{
			Strategy:    config.StrategyHTTP,
			ScanDepth:   100,
			Concurrency: 1,
		},
		Alerts: config.Alerts{MoveThreshold: 5},
	}
}

func newTestTracker(cfg *config.Config, store storage.Store, searcher serp.Searcher) *Tracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, store, searcher, logger)
}

func pos(n int) *int { return &n }

func TestRun_FirstCheck(t *testing.T) {
	cfg := testConfig(map[string]config.Client{
		"acme": {Name: "Acme", Domain: "acme.com", Keywords: []string{"best widgets"}},
	})
	store := &fakeStore{}
	searcher := &fakeSearcher{pages: map[string]string{
		"best widgets": resultsPage("https://other.com/a", "https://www.acme.com/widgets", "https://third.com/b"),
	}}

	report, err := newTestTracker(cfg, store, searcher).Run(context.Background(), Selection{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.Totals.Keywords != 1 || report.Totals.Succeeded != 1 {
		t.Fatalf("totals = %+v", report.Totals)
	}
	o := report.Outcomes[0]
	if o.Status != StatusSuccess {
		t.Errorf("status = %q", o.Status)
	}
	if o.Position == nil || *o.Position != 2 {
		t.Errorf("position = %v, want 2", o.Position)
	}
	if len(o.Alerts) != 0 {
		t.Errorf("first check raised %d alerts", len(o.Alerts))
	}

	if len(store.checks) != 1 {
		t.Fatalf("stored %d checks", len(store.checks))
	}
	c := store.checks[0]
	if c.Domain != "acme.com" || c.FoundURL != "https://www.acme.com/widgets" {
		t.Errorf("stored check = %+v", c)
	}
	if c.ResultCount != 3 {
		t.Errorf("result count = %d, want 3", c.ResultCount)
	}

	if len(store.runs) != 1 {
		t.Fatalf("stored %d run logs", len(store.runs))
	}
	run := store.runs[0]
	if run.ClientID != "acme" || run.Keywords != 1 || run.Succeeded != 1 || run.Failed != 0 {
		t.Errorf("run log = %+v", run)
	}
}

func TestRun_NotRankingRecordsNull(t *testing.T) {
	cfg := testConfig(map[string]config.Client{
		"acme": {Domain: "acme.com", Keywords: []string{"best widgets"}},
	})
	store := &fakeStore{}
	searcher := &fakeSearcher{pages: map[string]string{
		"best widgets": resultsPage("https://other.com/a", "https://third.com/b"),
	}}

	report, err := newTestTracker(cfg, store, searcher).Run(context.Background(), Selection{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.Outcomes[0].Position != nil {
		t.Errorf("position = %v, want nil", report.Outcomes[0].Position)
	}
	if store.checks[0].Position != nil {
		t.Errorf("stored position = %v, want nil", store.checks[0].Position)
	}
	if report.Outcomes[0].Status != StatusSuccess {
		t.Errorf("not ranking must still be a successful check")
	}
}

func TestRun_DetectsAlerts(t *testing.T) {
	cfg := testConfig(map[string]config.Client{
		"acme": {Domain: "acme.com", Keywords: []string{"best widgets"}},
	})
	store := &fakeStore{}
	store.seed("acme", "best widgets", pos(12))

	// acme.com now at position 2: moved up, entered top 10 and top 3.
	urls := []string{"https://other.com/a", "https://acme.com/w"}
	searcher := &fakeSearcher{pages: map[string]string{"best widgets": resultsPage(urls...)}}

	report, err := newTestTracker(cfg, store, searcher).Run(context.Background(), Selection{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	got := map[alert.Kind]*storage.Alert{}
	for _, a := range report.Outcomes[0].Alerts {
		got[a.Type] = a
	}
	for _, want := range []alert.Kind{alert.MovedUp, alert.EnteredTop10, alert.EnteredTop3} {
		if got[want] == nil {
			t.Errorf("missing alert %s (got %v)", want, report.Outcomes[0].Alerts)
		}
	}
	if len(got) != 3 {
		t.Errorf("raised %d alert kinds, want 3", len(got))
	}

	moved := got[alert.MovedUp]
	if moved == nil {
		t.Fatal("moved_up alert missing")
	}
	if moved.Change != 10 {
		t.Errorf("change = %d, want 10", moved.Change)
	}
	if moved.PrevPosition == nil || *moved.PrevPosition != 12 || moved.NewPosition == nil || *moved.NewPosition != 2 {
		t.Errorf("positions = %v -> %v", moved.PrevPosition, moved.NewPosition)
	}

	if len(store.alerts) != 3 {
		t.Errorf("persisted %d alerts, want 3", len(store.alerts))
	}
	if report.Totals.Alerts != 3 {
		t.Errorf("totals.alerts = %d", report.Totals.Alerts)
	}
}

func TestRun_PartialFailure(t *testing.T) {
	cfg := testConfig(map[string]config.Client{
		"acme": {Domain: "acme.com", Keywords: []string{"good", "bad"}},
	})
	store := &fakeStore{}
	searcher := &fakeSearcher{
		pages: map[string]string{"good": resultsPage("https://acme.com/")},
		errs: map[string]error{
			"bad": &scraper.FetchError{Keyword: "bad", Reason: scraper.ReasonChallenge, Source: "Google"},
		},
	}

	report, err := newTestTracker(cfg, store, searcher).Run(context.Background(), Selection{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if report.Totals.Succeeded != 1 || report.Totals.Failed != 1 {
		t.Fatalf("totals = %+v", report.Totals)
	}

	var failed Outcome
	for _, o := range report.Outcomes {
		if o.Status == StatusFailed {
			failed = o
		}
	}
	if failed.Keyword != "bad" {
		t.Fatalf("failed outcome = %+v", failed)
	}
	var fe *scraper.FetchError
	if !errors.As(failed.Err, &fe) || fe.Reason != scraper.ReasonChallenge {
		t.Errorf("err = %v, want challenge FetchError", failed.Err)
	}
	if failed.StoreFailure() {
		t.Errorf("fetch failure misreported as store failure")
	}

	// One keyword failing must not stop the other from being recorded.
	if len(store.checks) != 1 || store.checks[0].Keyword != "good" {
		t.Errorf("stored checks = %+v", store.checks)
	}

	if len(store.runs) != 1 {
		t.Fatalf("stored %d run logs", len(store.runs))
	}
	run := store.runs[0]
	if run.Failed != 1 || len(run.Errors) != 1 || !strings.Contains(run.Errors[0], "bad") {
		t.Errorf("run log = %+v", run)
	}
}

func TestRun_StoreFailure(t *testing.T) {
	cfg := testConfig(map[string]config.Client{
		"acme": {Domain: "acme.com", Keywords: []string{"best widgets"}},
	})
	store := &fakeStore{recordErr: errors.New("disk full")}
	searcher := &fakeSearcher{pages: map[string]string{"best widgets": resultsPage("https://acme.com/")}}

	report, err := newTestTracker(cfg, store, searcher).Run(context.Background(), Selection{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	o := report.Outcomes[0]
	if o.Status != StatusFailed {
		t.Fatalf("status = %q", o.Status)
	}
	if !o.StoreFailure() {
		t.Errorf("store failure not reported distinctly: %v", o.Err)
	}
}

func TestRun_SelectionValidation(t *testing.T) {
	cfg := testConfig(map[string]config.Client{
		"acme": {Domain: "acme.com", Keywords: []string{"best widgets"}},
	})
	tr := newTestTracker(cfg, &fakeStore{}, &fakeSearcher{})

	if _, err := tr.Run(context.Background(), Selection{ClientID: "nobody"}); err == nil {
		t.Error("unknown client accepted")
	}
	if _, err := tr.Run(context.Background(), Selection{Keyword: "best widgets"}); err == nil {
		t.Error("keyword without client accepted")
	}
	if _, err := tr.Run(context.Background(), Selection{ClientID: "acme", Keyword: "untracked"}); err == nil {
		t.Error("untracked keyword accepted")
	}
}

func TestRun_Selection(t *testing.T) {
	cfg := testConfig(map[string]config.Client{
		"acme": {Domain: "acme.com", Keywords: []string{"a1", "a2", "a3"}},
		"bolt": {Domain: "bolt.io", Keywords: []string{"b1", "b2"}},
	})

	tests := []struct {
		name string
		sel  Selection
		want int
	}{
		{"all", Selection{}, 5},
		{"one client", Selection{ClientID: "bolt"}, 2},
		{"one keyword", Selection{ClientID: "acme", Keyword: "a2"}, 1},
		{"test mode", Selection{TestMode: true}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			searcher := &fakeSearcher{}
			report, err := newTestTracker(cfg, store, searcher).Run(context.Background(), tt.sel)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if report.Totals.Keywords != tt.want {
				t.Errorf("checked %d keywords, want %d", report.Totals.Keywords, tt.want)
			}
			if searcher.callCount() != tt.want {
				t.Errorf("searched %d times, want %d", searcher.callCount(), tt.want)
			}
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	cfg := testConfig(map[string]config.Client{
		"acme": {Domain: "acme.com", Keywords: []string{"a1", "a2", "a3"}},
	})
	store := &fakeStore{}

	ctx, cancel := context.WithCancel(context.Background())
	searcher := &fakeSearcher{onCall: func(keyword string) {
		if keyword == "a2" {
			cancel()
		}
	}}

	report, err := newTestTracker(cfg, store, searcher).Run(ctx, Selection{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The first pair completed before the cancel; the rest are absent, not
	// counted as failures.
	if report.Totals.Keywords != 1 || report.Totals.Succeeded != 1 || report.Totals.Failed != 0 {
		t.Errorf("totals = %+v", report.Totals)
	}
	if len(store.checks) != 1 {
		t.Errorf("stored %d checks after cancel", len(store.checks))
	}
	if len(store.runs) != 1 || store.runs[0].Keywords != 1 {
		t.Errorf("run logs = %+v", store.runs)
	}
}

func TestRun_AlertSaveFailureIsLoggedNotFatal(t *testing.T) {
	cfg := testConfig(map[string]config.Client{
		"acme": {Domain: "acme.com", Keywords: []string{"best widgets"}},
	})
	store := &fakeStore{alertErr: errors.New("disk full")}
	store.seed("acme", "best widgets", pos(20))
	searcher := &fakeSearcher{pages: map[string]string{"best widgets": resultsPage("https://acme.com/")}}

	report, err := newTestTracker(cfg, store, searcher).Run(context.Background(), Selection{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	o := report.Outcomes[0]
	if o.Status != StatusSuccess {
		t.Errorf("status = %q; check persisted, only alerts did not", o.Status)
	}
	if len(o.Alerts) != 0 {
		t.Errorf("reported %d alerts that were never saved", len(o.Alerts))
	}
}
