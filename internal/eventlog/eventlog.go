// Package eventlog is the Event Log: an append-only SQLite store of every
// request the Judge has evaluated, read back by the Learner to find recently
// flagged traffic.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/sentineld/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	decision TEXT NOT NULL,
	confidence REAL NOT NULL,
	reason TEXT,
	ip_addr TEXT,
	user_agent TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_decision_ts ON events(decision, timestamp);
`

// Store owns the SQL connection pool backing the Event Log. The pool is
// small — write contention here is low, each request appends at most one row.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if absent, opens a WAL-mode SQLite
// database at path, and applies the schema migration.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: create dir %s: %w", dir, err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: ping %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// LogEvent inserts one row for a decided request at the current wall-clock
// time and returns its row id. Rows are never updated or deleted afterward.
func (s *Store) LogEvent(ctx context.Context, payload model.RequestPayload, decision model.Decision) (int64, error) {
	ua, _ := payload.UserAgent()
	var reason sql.NullString
	if decision.Reason != "" {
		reason = sql.NullString{String: decision.Reason, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, method, path, payload_hash, decision, confidence, reason, ip_addr, user_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), payload.Method, payload.Path, payload.Fingerprint,
		string(decision.Kind), decision.Confidence, reason,
		nullableString(payload.ClientIP), nullableString(ua),
	)
	if err != nil {
		return 0, fmt.Errorf("eventlog: insert: %w", err)
	}
	return res.LastInsertId()
}

// GetFlaggedSince returns flag-decision entries at or after since, newest
// first — the Learner's batch input.
func (s *Store) GetFlaggedSince(ctx context.Context, since int64) ([]model.LogEntry, error) {
	return s.queryByDecision(ctx, "flag", since)
}

// GetBlockedSince returns block-decision entries at or after since, newest
// first. Not called from the core path or the stats endpoint.
func (s *Store) GetBlockedSince(ctx context.Context, since int64) ([]model.LogEntry, error) {
	return s.queryByDecision(ctx, "block", since)
}

func (s *Store) queryByDecision(ctx context.Context, decision string, since int64) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, method, path, payload_hash, decision, confidence, reason, ip_addr, user_agent
		 FROM events WHERE decision = ? AND timestamp >= ? ORDER BY timestamp DESC`,
		decision, since,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query %s: %w", decision, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetEventsSince returns up to limit entries of any decision at or after
// since, newest first.
func (s *Store) GetEventsSince(ctx context.Context, since int64, limit int64) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, method, path, payload_hash, decision, confidence, reason, ip_addr, user_agent
		 FROM events WHERE timestamp >= ? ORDER BY timestamp DESC LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query events: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// DecisionCount is one row of CountEventsByDecision's result.
type DecisionCount struct {
	Decision string
	Count    int64
}

// CountEventsByDecision aggregates event counts per decision kind since a
// timestamp. Backs the /internal/stats diagnostic endpoint.
func (s *Store) CountEventsByDecision(ctx context.Context, since int64) ([]DecisionCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT decision, COUNT(*) FROM events WHERE timestamp >= ? GROUP BY decision`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: count by decision: %w", err)
	}
	defer rows.Close()

	var out []DecisionCount
	for rows.Next() {
		var c DecisionCount
		if err := rows.Scan(&c.Decision, &c.Count); err != nil {
			return nil, fmt.Errorf("eventlog: scan count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanEntries(rows *sql.Rows) ([]model.LogEntry, error) {
	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var reason, ip, ua sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Method, &e.Path, &e.PayloadHash, &e.Decision, &e.Confidence, &reason, &ip, &ua); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.Reason = reason.String
		e.IPAddr = ip.String
		e.UserAgent = ua.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
