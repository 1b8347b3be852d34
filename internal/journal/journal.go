// Package journal provides an append-only SQLite log of generation run
// events for post-hoc inspection. It is a convenience record beside the
// authoritative state file, never a source of truth.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event types recorded by the runner.
const (
	EventRunStarted        = "run_started"
	EventRunCompleted      = "run_completed"
	EventEndpointGenerated = "endpoint_generated"
	EventEndpointFailed    = "endpoint_failed"
	EventEndpointSkipped   = "endpoint_skipped"
	EventFallback          = "fallback"
)

// Event is one journal row.
type Event struct {
	ID         int64             `json:"id"`
	RunID      string            `json:"run_id"`
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	EndpointID string            `json:"endpoint_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Journal appends run events to a SQLite database.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates a journal at dbPath, initializing the schema if needed.
// Use ":memory:" for an in-memory journal in tests.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		endpoint_id TEXT,
		fields TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_run_id ON run_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON run_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_event_type ON run_events(event_type);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append adds one event. Fields may be nil.
func (j *Journal) Append(ctx context.Context, runID, eventType, endpointID string, fields map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var fieldsJSON []byte
	if fields != nil {
		var err error
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal event fields: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		"INSERT INTO run_events (run_id, event_type, timestamp, endpoint_id, fields) VALUES (?, ?, ?, ?, ?)",
		runID, eventType, time.Now().Unix(), endpointID, fieldsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

// ByRun retrieves all events for a run in insertion order.
func (j *Journal) ByRun(ctx context.Context, runID string) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, run_id, event_type, timestamp, endpoint_id, fields FROM run_events WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Range retrieves events within a time range across all runs.
func (j *Journal) Range(ctx context.Context, start, end time.Time) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, run_id, event_type, timestamp, endpoint_id, fields FROM run_events WHERE timestamp >= ? AND timestamp <= ? ORDER BY id",
		start.Unix(), end.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query run events by range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e          Event
			ts         int64
			endpointID sql.NullString
			fieldsJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &ts, &endpointID, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.EndpointID = endpointID.String
		if fieldsJSON.Valid && fieldsJSON.String != "" {
			if err := json.Unmarshal([]byte(fieldsJSON.String), &e.Fields); err != nil {
				return nil, fmt.Errorf("decode event fields: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
