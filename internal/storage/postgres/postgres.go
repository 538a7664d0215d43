package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stoic-cipher/serp-tracker/internal/alert"
	"github.com/stoic-cipher/serp-tracker/internal/storage"
)

// ensure postgresStore implements storage.Store
var _ storage.Store = (*postgresStore)(nil)

type postgresStore struct {
	pool *pgxpool.Pool
	keys *storage.KeyedMutex
}

const schema = `
CREATE TABLE IF NOT EXISTS rankings (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	client_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	keyword TEXT NOT NULL,
	position INTEGER,
	found_url TEXT,
	title TEXT,
	snippet TEXT,
	result_count INTEGER NOT NULL DEFAULT 0,
	checked_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rankings_pair ON rankings (client_id, keyword, checked_at);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	client_id TEXT NOT NULL,
	keyword TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	prev_position INTEGER,
	new_position INTEGER,
	change INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	acknowledged BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS tracking_runs (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	keywords INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	alerts INTEGER NOT NULL,
	error_log TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
`

// New creates a Postgres-backed storage.Store.
func New(ctx context.Context, dsn string) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &postgresStore{pool: pool, keys: storage.NewKeyedMutex()}, nil
}

func pairKey(clientID, keyword string) string { return clientID + "\x00" + keyword }

func (s *postgresStore) RecordCheck(ctx context.Context, c *storage.Check) (*storage.Check, error) {
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
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.pool.Exec(ctx, query,
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

func (s *postgresStore) latestFor(ctx context.Context, clientID, keyword string) (*storage.Check, error) {
	query := `
	SELECT id, client_id, domain, keyword, position, found_url, title, snippet, result_count, checked_at
	FROM rankings
	WHERE client_id = $1 AND keyword = $2
	ORDER BY checked_at DESC, seq DESC
	LIMIT 1
	`

	c, err := scanCheck(s.pool.QueryRow(ctx, query, clientID, keyword))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *postgresStore) History(ctx context.Context, clientID, keyword string) iter.Seq2[*storage.Check, error] {
	query := `
	SELECT id, client_id, domain, keyword, position, found_url, title, snippet, result_count, checked_at
	FROM rankings
	WHERE client_id = $1 AND keyword = $2
	ORDER BY checked_at ASC, seq ASC
	`

	// The query runs inside the closure so every range over the sequence
	// starts a fresh scan.
	return func(yield func(*storage.Check, error) bool) {
		rows, err := s.pool.Query(ctx, query, clientID, keyword)
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

func (s *postgresStore) ChecksSince(ctx context.Context, clientID string, since time.Time) ([]*storage.Check, error) {
	query := `
	SELECT id, client_id, domain, keyword, position, found_url, title, snippet, result_count, checked_at
	FROM rankings
	WHERE client_id = $1 AND checked_at >= $2
	ORDER BY keyword ASC, checked_at ASC, seq ASC
	`

	rows, err := s.pool.Query(ctx, query, clientID, since.UTC())
	if err != nil {
		return nil, &storage.StoreError{Op: "checks since", Err: err}
	}
	defer rows.Close()

	return collectChecks(rows, "checks since")
}

func (s *postgresStore) LatestChecks(ctx context.Context, clientID string, asOf time.Time) ([]*storage.Check, error) {
	if asOf.IsZero() {
		asOf = time.Now()
	}

	query := `
	SELECT r.id, r.client_id, r.domain, r.keyword, r.position, r.found_url, r.title, r.snippet, r.result_count, r.checked_at
	FROM rankings r
	WHERE r.client_id = $1 AND r.seq = (
		SELECT r2.seq
		FROM rankings r2
		WHERE r2.client_id = r.client_id AND r2.keyword = r.keyword AND r2.checked_at <= $2
		ORDER BY r2.checked_at DESC, r2.seq DESC
		LIMIT 1
	)
	ORDER BY r.keyword ASC
	`

	rows, err := s.pool.Query(ctx, query, clientID, asOf.UTC())
	if err != nil {
		return nil, &storage.StoreError{Op: "latest checks", Err: err}
	}
	defer rows.Close()

	return collectChecks(rows, "latest checks")
}

func (s *postgresStore) SaveAlert(ctx context.Context, a *storage.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO alerts (id, client_id, keyword, alert_type, prev_position, new_position, change, created_at, acknowledged)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
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

func (s *postgresStore) Alerts(ctx context.Context, clientID string, unackedOnly bool, limit int) ([]*storage.Alert, error) {
	query := `SELECT id, client_id, keyword, alert_type, prev_position, new_position, change, created_at, acknowledged FROM alerts WHERE 1=1`
	args := []any{}
	paramCount := 1

	if clientID != "" {
		query += fmt.Sprintf(` AND client_id = $%d`, paramCount)
		args = append(args, clientID)
		paramCount++
	}
	if unackedOnly {
		query += ` AND acknowledged = FALSE`
	}

	query += ` ORDER BY created_at DESC, seq DESC`

	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, limit)
		paramCount++
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *postgresStore) AckAlerts(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET acknowledged = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, &storage.StoreError{Op: "ack alerts", Err: err}
	}

	return tag.RowsAffected(), nil
}

func (s *postgresStore) LogRun(ctx context.Context, r *storage.RunLog) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	errorLog, err := marshalErrors(r.Errors)
	if err != nil {
		return &storage.StoreError{Op: "log run", Err: err}
	}

	query := `
	INSERT INTO tracking_runs (id, client_id, keywords, succeeded, failed, alerts, error_log, started_at, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
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

func (s *postgresStore) Close() error {
	s.pool.Close()
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

func collectChecks(rows pgx.Rows, op string) ([]*storage.Check, error) {
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
