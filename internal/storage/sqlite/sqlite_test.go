package sqlite

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stoic-cipher/serp-tracker/internal/alert"
	"github.com/stoic-cipher/serp-tracker/internal/storage"
)

func pos(n int) *int { return &n }

// Each test gets its own named in-memory database so state never leaks
// between tests.
func newTestStore(t *testing.T) storage.Store {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := New("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("Failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordCheckRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := &storage.Check{
		ClientID:    "acme",
		Domain:      "acme.example",
		Keyword:     "best running shoes",
		Position:    pos(8),
		FoundURL:    "https://acme.example/shoes",
		Title:       "Best Running Shoes",
		Snippet:     "Our picks for this year.",
		ResultCount: 97,
		CheckedAt:   now,
	}

	prev, err := s.RecordCheck(ctx, first)
	if err != nil {
		t.Fatalf("Failed to record first check: %v", err)
	}
	if prev != nil {
		t.Fatalf("Expected nil previous check, got %+v", prev)
	}
	if first.ID == "" {
		t.Fatal("Expected an ID to be assigned")
	}

	second := &storage.Check{
		ClientID:  "acme",
		Domain:    "acme.example",
		Keyword:   "best running shoes",
		Position:  pos(3),
		FoundURL:  "https://acme.example/shoes",
		CheckedAt: now.Add(time.Hour),
	}

	prev, err = s.RecordCheck(ctx, second)
	if err != nil {
		t.Fatalf("Failed to record second check: %v", err)
	}
	if prev == nil {
		t.Fatal("Expected a previous check, got nil")
	}
	if prev.ID != first.ID {
		t.Errorf("Expected previous ID %s, got %s", first.ID, prev.ID)
	}
	if prev.Position == nil || *prev.Position != 8 {
		t.Errorf("Expected previous position 8, got %v", prev.Position)
	}
	if prev.Domain != first.Domain {
		t.Errorf("Expected Domain %s, got %s", first.Domain, prev.Domain)
	}
	if prev.FoundURL != first.FoundURL {
		t.Errorf("Expected FoundURL %s, got %s", first.FoundURL, prev.FoundURL)
	}
	if prev.Title != first.Title {
		t.Errorf("Expected Title %s, got %s", first.Title, prev.Title)
	}
	if prev.Snippet != first.Snippet {
		t.Errorf("Expected Snippet %s, got %s", first.Snippet, prev.Snippet)
	}
	if prev.ResultCount != 97 {
		t.Errorf("Expected ResultCount 97, got %d", prev.ResultCount)
	}
	if prev.CheckedAt.Unix() != now.Unix() {
		t.Errorf("Expected CheckedAt %v, got %v", now, prev.CheckedAt)
	}
}

func TestRecordCheckNotRankingIsNotFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := &storage.Check{ClientID: "acme", Keyword: "obscure term", Position: nil, CheckedAt: now}
	if _, err := s.RecordCheck(ctx, first); err != nil {
		t.Fatalf("Failed to record check: %v", err)
	}

	second := &storage.Check{ClientID: "acme", Keyword: "obscure term", Position: pos(12), CheckedAt: now.Add(time.Hour)}
	prev, err := s.RecordCheck(ctx, second)
	if err != nil {
		t.Fatalf("Failed to record check: %v", err)
	}

	// A prior "not ranking" check must come back as a real check with a nil
	// position, not as "no previous check".
	if prev == nil {
		t.Fatal("Expected a previous check, got nil")
	}
	if prev.Position != nil {
		t.Errorf("Expected nil previous position, got %d", *prev.Position)
	}
}

func TestRecordCheckPairIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := &storage.Check{ClientID: "acme", Keyword: "running shoes", Position: pos(5), CheckedAt: now}
	if _, err := s.RecordCheck(ctx, seed); err != nil {
		t.Fatalf("Failed to record check: %v", err)
	}

	otherKeyword := &storage.Check{ClientID: "acme", Keyword: "trail shoes", Position: pos(7), CheckedAt: now}
	prev, err := s.RecordCheck(ctx, otherKeyword)
	if err != nil {
		t.Fatalf("Failed to record check: %v", err)
	}
	if prev != nil {
		t.Errorf("Expected nil previous for a different keyword, got %+v", prev)
	}

	otherClient := &storage.Check{ClientID: "globex", Keyword: "running shoes", Position: pos(2), CheckedAt: now}
	prev, err = s.RecordCheck(ctx, otherClient)
	if err != nil {
		t.Fatalf("Failed to record check: %v", err)
	}
	if prev != nil {
		t.Errorf("Expected nil previous for a different client, got %+v", prev)
	}
}

func TestRecordCheckConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &storage.Check{
				ClientID:  "acme",
				Keyword:   "running shoes",
				Position:  pos(i + 1),
				CheckedAt: base.Add(time.Duration(i) * time.Second),
			}
			prev, err := s.RecordCheck(ctx, c)
			if err != nil {
				t.Errorf("Failed to record check: %v", err)
				return
			}
			if prev == nil {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if firsts != 1 {
		t.Errorf("Expected exactly one first check, got %d", firsts)
	}

	count := 0
	for _, err := range s.History(ctx, "acme", "running shoes") {
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		count++
	}
	if count != workers {
		t.Errorf("Expected %d checks in history, got %d", workers, count)
	}
}

func TestHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-3 * time.Hour)

	// Insert out of order; history must still come back in time order.
	for _, offset := range []time.Duration{time.Hour, 0, 2 * time.Hour} {
		c := &storage.Check{
			ClientID:  "acme",
			Keyword:   "running shoes",
			Position:  pos(int(offset/time.Hour) + 1),
			CheckedAt: base.Add(offset),
		}
		if _, err := s.RecordCheck(ctx, c); err != nil {
			t.Fatalf("Failed to record check: %v", err)
		}
	}

	var got []time.Time
	for c, err := range s.History(ctx, "acme", "running shoes") {
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		got = append(got, c.CheckedAt)
	}

	if len(got) != 3 {
		t.Fatalf("Expected 3 checks, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Before(got[i-1]) {
			t.Errorf("History out of order: %v before %v", got[i], got[i-1])
		}
	}

	// The sequence is restartable: a second range sees all rows again.
	count := 0
	for _, err := range s.History(ctx, "acme", "running shoes") {
		if err != nil {
			t.Fatalf("History failed on second pass: %v", err)
		}
		count++
	}
	if count != 3 {
		t.Errorf("Expected 3 checks on second pass, got %d", count)
	}

	// Breaking out early must not error or leak.
	for c, err := range s.History(ctx, "acme", "running shoes") {
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if c != nil {
			break
		}
	}

	// Unknown pairs yield nothing.
	for c, err := range s.History(ctx, "acme", "no such keyword") {
		t.Fatalf("Expected empty history, got %v, %v", c, err)
	}
}

func TestLatestChecks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Now().UTC().Add(-2 * time.Hour)
	t2 := t1.Add(time.Hour)

	for _, c := range []*storage.Check{
		{ClientID: "acme", Keyword: "alpha", Position: pos(9), CheckedAt: t1},
		{ClientID: "acme", Keyword: "alpha", Position: pos(4), CheckedAt: t2},
		{ClientID: "acme", Keyword: "beta", Position: nil, CheckedAt: t1},
		{ClientID: "globex", Keyword: "alpha", Position: pos(1), CheckedAt: t2},
	} {
		if _, err := s.RecordCheck(ctx, c); err != nil {
			t.Fatalf("Failed to record check: %v", err)
		}
	}

	latest, err := s.LatestChecks(ctx, "acme", time.Time{})
	if err != nil {
		t.Fatalf("Failed to get latest checks: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("Expected 2 latest checks, got %d", len(latest))
	}
	if latest[0].Keyword != "alpha" || latest[1].Keyword != "beta" {
		t.Errorf("Expected keyword order alpha, beta; got %s, %s", latest[0].Keyword, latest[1].Keyword)
	}
	if latest[0].Position == nil || *latest[0].Position != 4 {
		t.Errorf("Expected alpha at position 4, got %v", latest[0].Position)
	}
	if latest[1].Position != nil {
		t.Errorf("Expected beta not ranking, got %d", *latest[1].Position)
	}

	// As-of a point between t1 and t2 the older alpha check wins.
	snapshot, err := s.LatestChecks(ctx, "acme", t1.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("Expected 2 checks in snapshot, got %d", len(snapshot))
	}
	if snapshot[0].Position == nil || *snapshot[0].Position != 9 {
		t.Errorf("Expected alpha at position 9 in snapshot, got %v", snapshot[0].Position)
	}
}

func TestChecksSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, c := range []*storage.Check{
		{ClientID: "acme", Keyword: "alpha", Position: pos(3), CheckedAt: now.Add(-48 * time.Hour)},
		{ClientID: "acme", Keyword: "alpha", Position: pos(2), CheckedAt: now.Add(-2 * time.Hour)},
		{ClientID: "acme", Keyword: "beta", Position: pos(11), CheckedAt: now},
	} {
		if _, err := s.RecordCheck(ctx, c); err != nil {
			t.Fatalf("Failed to record check: %v", err)
		}
	}

	since, err := s.ChecksSince(ctx, "acme", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Failed to get checks since: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("Expected 2 checks, got %d", len(since))
	}
	if since[0].Keyword != "alpha" || since[1].Keyword != "beta" {
		t.Errorf("Expected keyword order alpha, beta; got %s, %s", since[0].Keyword, since[1].Keyword)
	}
}

func TestAlertsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entered := &storage.Alert{
		ClientID:     "acme",
		Keyword:      "running shoes",
		Type:         alert.EnteredTop3,
		PrevPosition: pos(9),
		NewPosition:  pos(2),
		Change:       7,
		CreatedAt:    now,
	}
	dropped := &storage.Alert{
		ClientID:     "acme",
		Keyword:      "trail shoes",
		Type:         alert.DroppedOut,
		PrevPosition: pos(40),
		NewPosition:  nil,
		CreatedAt:    now.Add(time.Minute),
	}

	for _, a := range []*storage.Alert{entered, dropped} {
		if err := s.SaveAlert(ctx, a); err != nil {
			t.Fatalf("Failed to save alert: %v", err)
		}
	}

	alerts, err := s.Alerts(ctx, "acme", false, 0)
	if err != nil {
		t.Fatalf("Failed to list alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(alerts))
	}

	// Newest first.
	got := alerts[0]
	if got.Type != alert.DroppedOut {
		t.Errorf("Expected type %s, got %s", alert.DroppedOut, got.Type)
	}
	if got.NewPosition != nil {
		t.Errorf("Expected nil new position, got %d", *got.NewPosition)
	}
	if got.PrevPosition == nil || *got.PrevPosition != 40 {
		t.Errorf("Expected previous position 40, got %v", got.PrevPosition)
	}

	got = alerts[1]
	if got.Type != alert.EnteredTop3 {
		t.Errorf("Expected type %s, got %s", alert.EnteredTop3, got.Type)
	}
	if got.Change != 7 {
		t.Errorf("Expected change 7, got %d", got.Change)
	}

	// Acknowledge one; it disappears from the unacked view.
	n, err := s.AckAlerts(ctx, []string{entered.ID})
	if err != nil {
		t.Fatalf("Failed to ack alert: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 row acked, got %d", n)
	}

	unacked, err := s.Alerts(ctx, "acme", true, 0)
	if err != nil {
		t.Fatalf("Failed to list unacked alerts: %v", err)
	}
	if len(unacked) != 1 || unacked[0].ID != dropped.ID {
		t.Errorf("Expected only the dropped_out alert unacked, got %d alerts", len(unacked))
	}

	// Empty clientID matches every client; limit caps the result.
	all, err := s.Alerts(ctx, "", false, 1)
	if err != nil {
		t.Fatalf("Failed to list alerts: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 alert with limit 1, got %d", len(all))
	}

	// Acking nothing is a no-op.
	if n, err := s.AckAlerts(ctx, nil); err != nil || n != 0 {
		t.Errorf("AckAlerts(nil) = %d, %v", n, err)
	}
}

func TestLogRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	run := &storage.RunLog{
		ClientID:   "acme",
		Keywords:   10,
		Succeeded:  9,
		Failed:     1,
		Alerts:     3,
		Errors:     []string{`keyword "trail shoes": request timed out`},
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
	}
	if err := s.LogRun(ctx, run); err != nil {
		t.Fatalf("Failed to log run: %v", err)
	}
	if run.ID == "" {
		t.Error("Expected an ID to be assigned")
	}
}
