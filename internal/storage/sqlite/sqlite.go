package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stoic-cipher/serp-tracker/internal/alert"
	"github.com/stoic-cipher/serp-tracker/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteStore implements storage.Store
var _ storage.Store = (*sqliteStore)(nil)

type sqliteStore struct {
	db   *sql.DB
	keys *storage.KeyedMutex
}

const schema = `
CREATE TABLE IF NOT EXISTS rankings (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	keyword TEXT NOT NULL,
	position INTEGER,
	found_url TEXT,
	title TEXT,
	snippet TEXT,
	result_count INTEGER NOT NULL DEFAULT 0,
	checked_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rankings_pair ON rankings (client_id, keyword, checked_at);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	keyword TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	prev_position INTEGER,
	new_position INTEGER,
	change INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	acknowledged BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tracking_runs (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	keywords INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	alerts INTEGER NOT NULL,
	error_log TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);
`

// New opens (or creates) a SQLite-backed storage.Store. A plain file path is
// accepted as the dsn; parent directories are created as needed.
func New(dsn string) (storage.Store, error) {
	if dir := parentDir(dsn); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows a single writer; one connection avoids SQLITE_BUSY when
	// several keywords are checked concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &sqliteStore{db: db, keys: storage.NewKeyedMutex()}, nil
}

func parentDir(dsn string) string {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return ""
	}
	if dir := filepath.Dir(dsn); dir != "." {
		return dir
	}
	return ""
}

func pairKey(clientID, keyword string) string { return clientID + "\x00" + keyword }

func (s *sqliteStore) RecordCheck(ctx context.Context, c *storage.Check) (*storage.Check, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CheckedAt.IsZero() {
		c.CheckedAt = time.Now()
	}

	unlock := s.keys.Lock(pairKey(c.ClientID, c.Keyword))
	defer unlock()

	prev, err := s.latestFor(ctx, c.ClientID, c.Keyword)
	if err != nil {
		return nil, &storage.StoreError{Op: "record check", Err: err}
	}

	query := `
	INSERT INTO rankings (id, client_id, domain, keyword, position, found_url, title, snippet, result_count, checked_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		c.ID,
		c.ClientID,
		c.Domain,
		c.Keyword,
		c.Position,
		c.FoundURL,
		c.Title,
		c.Snippet,
		c.ResultCount,
		c.CheckedAt.UTC(),
	)
	if err != nil {
		return nil, &storage.StoreError{Op: "record check", Err: err}
	}

	return prev, nil
}

func (s *sqliteStore) latestFor(ctx context.Context, clientID, keyword string) (*storage.Check, error) {
	query := `
	SELECT id, client_id, domain, keyword, position, found_url, title, snippet, result_count, checked_at
	FROM rankings
	WHERE client_id = ? AND keyword = ?
	ORDER BY checked_at DESC, rowid DESC
	LIMIT 1
	`

	c, err := scanCheck(s.db.QueryRowContext(ctx, query, clientID, keyword))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *sqliteStore) History(ctx context.Context, clientID, keyword string) iter.Seq2[*storage.Check, error] {
	query := `
	SELECT id, client_id, domain, keyword, position, found_url, title, snippet, result_count, checked_at
	FROM rankings
	WHERE client_id = ? AND keyword = ?
	ORDER BY checked_at ASC, rowid ASC
	`

	// The query runs inside the closure so every range over the sequence
	// starts a fresh scan.
	return func(yield func(*storage.Check, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, clientID, keyword)
		if err != nil {
			yield(nil, &storage.StoreError{Op: "history", Err: err})
			return
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanCheck(rows)
			if err != nil {
				yield(nil, &storage.StoreError{Op: "history", Err: err})
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, &storage.StoreError{Op: "history", Err: err})
		}
	}
}

func (s *sqliteStore) ChecksSince(ctx context.Context, clientID string, since time.Time) ([]*storage.Check, error) {
	query := `
	SELECT id, client_id, domain, keyword, position, found_url, title, snippet, result_count, checked_at
	FROM rankings
	WHERE client_id = ? AND checked_at >= ?
	ORDER BY keyword ASC, checked_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, clientID, since.UTC())
	if err != nil {
		return nil, &storage.StoreError{Op: "checks since", Err: err}
	}
	defer rows.Close()

	return collectChecks(rows, "checks since")
}

func (s *sqliteStore) LatestChecks(ctx context.Context, clientID string, asOf time.Time) ([]*storage.Check, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}

	query := `
	SELECT r.id, r.client_id, r.domain, r.keyword, r.position, r.found_url, r.title, r.snippet, r.result_count, r.checked_at
	FROM rankings r
	WHERE r.client_id = ? AND r.rowid = (
		SELECT r2.rowid
		FROM rankings r2
		WHERE r2.client_id = r.client_id AND r2.keyword = r.keyword AND r2.checked_at <= ?
		ORDER BY r2.checked_at DESC, r2.rowid DESC
		LIMIT 1
	)
	ORDER BY r.keyword ASC
	`

	rows, err := s.db.QueryContext(ctx, query, clientID, asOf.UTC())
	if err != nil {
		return nil, &storage.StoreError{Op: "latest checks", Err: err}
	}
	defer rows.Close()

	return collectChecks(rows, "latest checks")
}

func (s *sqliteStore) SaveAlert(ctx context.Context, a *storage.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO alerts (id, client_id, keyword, alert_type, prev_position, new_position, change, created_at, acknowledged)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.ClientID,
		a.Keyword,
		string(a.Type),
		a.PrevPosition,
		a.NewPosition,
		a.Change,
		a.CreatedAt.UTC(),
		a.Acknowledged,
	)
	if err != nil {
		return &storage.StoreError{Op: "save alert", Err: err}
	}

	return nil
}

func (s *sqliteStore) Alerts(ctx context.Context, clientID string, unackedOnly bool, limit int) ([]*storage.Alert, error) {
	query := `SELECT id, client_id, keyword, alert_type, prev_position, new_position, change, created_at, acknowledged FROM alerts WHERE 1=1`
	args := []any{}

	if clientID != "" {
		query += ` AND client_id = ?`
		args = append(args, clientID)
	}
	if unackedOnly {
		query += ` AND acknowledged = 0`
	}

	query += ` ORDER BY created_at DESC, rowid DESC`

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &storage.StoreError{Op: "list alerts", Err: err}
	}
	defer rows.Close()

	var alerts []*storage.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, &storage.StoreError{Op: "list alerts", Err: err}
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.StoreError{Op: "list alerts", Err: err}
	}

	return alerts, nil
}

func (s *sqliteStore) AckAlerts(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `UPDATE alerts SET acknowledged = 1 WHERE id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &storage.StoreError{Op: "ack alerts", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, &storage.StoreError{Op: "ack alerts", Err: err}
	}
	return n, nil
}

func (s *sqliteStore) LogRun(ctx context.Context, r *storage.RunLog) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	errorLog, err := marshalErrors(r.Errors)
	if err != nil {
		return &storage.StoreError{Op: "log run", Err: err}
	}

	query := `
	INSERT INTO tracking_runs (id, client_id, keywords, succeeded, failed, alerts, error_log, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.ClientID,
		r.Keywords,
		r.Succeeded,
		r.Failed,
		r.Alerts,
		errorLog,
		r.StartedAt.UTC(),
		r.FinishedAt.UTC(),
	)
	if err != nil {
		return &storage.StoreError{Op: "log run", Err: err}
	}

	return nil
}

func marshalErrors(errs []string) (string, error) {
	if len(errs) == 0 {
		return "", nil
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheck(sc scanner) (*storage.Check, error) {
	var c storage.Check
	err := sc.Scan(&c.ID, &c.ClientID, &c.Domain, &c.Keyword, &c.Position, &c.FoundURL, &c.Title, &c.Snippet, &c.ResultCount, &c.CheckedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanAlert(sc scanner) (*storage.Alert, error) {
	var a storage.Alert
	var typ string
	err := sc.Scan(&a.ID, &a.ClientID, &a.Keyword, &typ, &a.PrevPosition, &a.NewPosition, &a.Change, &a.CreatedAt, &a.Acknowledged)
	if err != nil {
		return nil, err
	}
	a.Type = alert.Kind(typ)
	return &a, nil
}

func collectChecks(rows *sql.Rows, op string) ([]*storage.Check, error) {
	var checks []*storage.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, &storage.StoreError{Op: op, Err: err}
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.StoreError{Op: op, Err: err}
	}
	return checks, nil
}
