package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

// Run event names.
const (
	EventRunStarted     = "run_started"
	EventStageCompleted = "stage_completed"
	EventRunCompleted   = "run_completed"
	EventRunFailed      = "run_failed"
	EventRunCancelled   = "run_cancelled"
)

// TimeFormat is the layout of every timestamp column. It is fixed width so
// text comparison orders timestamps.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// nowFunc is replaced in tests.
var nowFunc = time.Now

func now() string {
	return nowFunc().UTC().Format(TimeFormat)
}

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int64
	SessionID string
	Event     string
	Stage     string
	Status    string
	Detail    string
	Timestamp string
}

// StageRun represents a row in the stage_runs table.
type StageRun struct {
	ID         int64
	SessionID  string
	Stage      string
	Status     string
	Total      int
	Succeeded  int
	Degraded   int
	Failed     int
	DurationMs int64
	Timestamp  string
}

// ItemRow represents a row in the item_results table.
type ItemRow struct {
	ID         int64
	SessionID  string
	Stage      string
	ItemID     string
	State      string
	Strategy   string
	Kind       string
	Reason     string
	Calls      int
	Revisions  int
	DurationMs int64
	Timestamp  string
}

// LogRunEvent inserts a run event.
func (d *DB) LogRunEvent(sessionID, event, stage, status, detail string) error {
	_, err := d.conn.Exec(
		d.Rebind(`INSERT INTO run_events (session_id, event, stage, status, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`),
		sessionID, event, stage, status, detail, now(),
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// LogStage records a finished stage and each of its items in one
// transaction.
func (d *DB) LogStage(sessionID string, r *pipeline.StageResult) error {
	ts := now()
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		d.Rebind(`INSERT INTO stage_runs (session_id, stage, status, total, succeeded, degraded, failed, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sessionID, r.Name, string(r.Status), r.Counts.Total, r.Counts.Succeeded, r.Counts.Degraded, r.Counts.Failed,
		r.Duration.Milliseconds(), ts,
	)
	if err != nil {
		return fmt.Errorf("log stage run: %w", err)
	}

	insert := d.Rebind(`INSERT INTO item_results (session_id, stage, item_id, state, strategy, kind, reason, calls, revisions, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, it := range r.Items {
		kind := ""
		if it.Failure != nil {
			kind = it.Failure.Kind
		}
		if _, err := tx.Exec(insert, sessionID, r.Name, it.ID, string(it.State), it.Strategy, kind, it.Reason,
			it.Calls, it.Revisions, it.Duration.Milliseconds(), ts); err != nil {
			return fmt.Errorf("log item %s: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

// GetRunEvents returns a session's events in insertion order.
func (d *DB) GetRunEvents(sessionID string) ([]RunEvent, error) {
	rows, err := d.conn.Query(
		d.Rebind(`SELECT id, session_id, event, stage, status, detail, timestamp
		 FROM run_events WHERE session_id = ? ORDER BY id`),
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.Stage, &e.Status, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestRunEvent returns the most recent event for a session, or nil.
func (d *DB) LatestRunEvent(sessionID string) (*RunEvent, error) {
	row := d.conn.QueryRow(
		d.Rebind(`SELECT id, session_id, event, stage, status, detail, timestamp
		 FROM run_events WHERE session_id = ? ORDER BY id DESC LIMIT 1`),
		sessionID,
	)
	var e RunEvent
	err := row.Scan(&e.ID, &e.SessionID, &e.Event, &e.Stage, &e.Status, &e.Detail, &e.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run event: %w", err)
	}
	return &e, nil
}

// GetStageRuns returns stage rows recorded at or after since (all when
// empty), optionally limited to one stage, oldest first.
func (d *DB) GetStageRuns(stage, since string) ([]StageRun, error) {
	query := `SELECT id, session_id, stage, status, total, succeeded, degraded, failed, duration_ms, timestamp
		 FROM stage_runs WHERE 1=1`
	var args []any
	if stage != "" {
		query += ` AND stage = ?`
		args = append(args, stage)
	}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY id`

	rows, err := d.conn.Query(d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("get stage runs: %w", err)
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var r StageRun
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Stage, &r.Status, &r.Total, &r.Succeeded, &r.Degraded,
			&r.Failed, &r.DurationMs, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetItemResults returns a session's item rows, optionally for one stage.
func (d *DB) GetItemResults(sessionID, stage string) ([]ItemRow, error) {
	query := `SELECT id, session_id, stage, item_id, state, strategy, kind, reason, calls, revisions, duration_ms, timestamp
		 FROM item_results WHERE session_id = ?`
	args := []any{sessionID}
	if stage != "" {
		query += ` AND stage = ?`
		args = append(args, stage)
	}
	query += ` ORDER BY id`

	rows, err := d.conn.Query(d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("get item results: %w", err)
	}
	defer rows.Close()

	var items []ItemRow
	for rows.Next() {
		var r ItemRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Stage, &r.ItemID, &r.State, &r.Strategy, &r.Kind, &r.Reason,
			&r.Calls, &r.Revisions, &r.DurationMs, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan item result: %w", err)
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// FailureKinds counts failed items by error kind across all sessions
// recorded at or after since.
func (d *DB) FailureKinds(since string) (map[string]int, error) {
	query := `SELECT kind, COUNT(*) FROM item_results WHERE state = 'failed'`
	var args []any
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY kind`

	rows, err := d.conn.Query(d.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failure kinds: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan failure kind: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}
