package storage

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/stoic-cipher/serp-tracker/internal/alert"
)

// Check is a single observation of where a client's domain ranked for one
// keyword. Position is nil when the domain was not found within the scanned
// depth.
type Check struct {
	ID          string
	ClientID    string
	Domain      string // the target domain as configured at check time
	Keyword     string
	Position    *int
	FoundURL    string
	Title       string
	Snippet     string
	ResultCount int // organic results parsed from the scanned listing
	CheckedAt   time.Time
}

// Alert is a persisted rank-change notification.
type Alert struct {
	ID           string
	ClientID     string
	Keyword      string
	Type         alert.Kind
	PrevPosition *int
	NewPosition  *int
	Change       int // signed delta, positive when rank improved
	CreatedAt    time.Time
	Acknowledged bool
}

// RunLog summarizes one completed tracking run.
type RunLog struct {
	ID         string
	ClientID   string
	Keywords   int
	Succeeded  int
	Failed     int
	Alerts     int
	Errors     []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StoreError marks a persistence failure so callers can tell it apart from
// fetch and parse failures.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// Store persists ranking history, alerts, and run logs. Ranking history is
// append-only: checks are never updated or deleted.
type Store interface {
	// RecordCheck appends a check and returns the previous latest check for
	// the same (client, keyword) pair, or nil if this is the first one.
	// Concurrent calls for the same pair are serialized.
	RecordCheck(ctx context.Context, c *Check) (*Check, error)

	// History yields every recorded check for one (client, keyword) pair in
	// ascending time order. The sequence re-queries on each range, so it can
	// be iterated more than once.
	History(ctx context.Context, clientID, keyword string) iter.Seq2[*Check, error]

	// ChecksSince returns all checks for a client recorded at or after the
	// given time, ordered by keyword then time.
	ChecksSince(ctx context.Context, clientID string, since time.Time) ([]*Check, error)

	// LatestChecks returns the most recent check per keyword for a client,
	// considering only checks at or before asOf. A zero asOf means now.
	LatestChecks(ctx context.Context, clientID string, asOf time.Time) ([]*Check, error)

	SaveAlert(ctx context.Context, a *Alert) error

	// Alerts lists alerts newest first. An empty clientID matches all
	// clients; a limit of 0 means no limit.
	Alerts(ctx context.Context, clientID string, unackedOnly bool, limit int) ([]*Alert, error)

	// AckAlerts marks the given alerts as acknowledged and reports how many
	// rows changed.
	AckAlerts(ctx context.Context, ids []string) (int64, error)

	LogRun(ctx context.Context, r *RunLog) error

	Close() error
}
