package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func setClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return ts }
	t.Cleanup(func() { nowFunc = prev })
}

func sampleStage() *pipeline.StageResult {
	r := &pipeline.StageResult{
		Name: "scenes",
		Items: []pipeline.ItemResult{
			{ID: "1", State: pipeline.ItemSucceeded, Strategy: "direct", Calls: 1, Duration: 1200 * time.Millisecond},
			{ID: "2", State: pipeline.ItemDegraded, Strategy: "fallback", Calls: 2, Revisions: 1, Reason: "no JSON object"},
			{ID: "3", State: pipeline.ItemFailed, Calls: 3, Reason: "rate limited",
				Failure: &pipeline.ItemFailure{ItemID: "3", Kind: "rate_limit", Error: "rate limited", Attempts: 3}},
		},
		Duration: 4 * time.Second,
	}
	r.Aggregate()
	return r
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tables := []string{"schema_version", "run_events", "stage_runs", "item_results"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	if d.Dialect() != SQLite {
		t.Errorf("dialect = %q, want sqlite3", d.Dialect())
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)
	if err := d.LogRunEvent("s1", EventRunStarted, "", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	events, err := d.GetRunEvents("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events after reset, got %d", len(events))
	}
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		dsn  string
		want Dialect
	}{
		{"postgres://u:p@localhost/reels", Postgres},
		{"postgresql://localhost/reels?sslmode=disable", Postgres},
		{"/var/lib/reels/events.db", SQLite},
		{":memory:", SQLite},
	}
	for _, tt := range tests {
		if got := DialectFor(tt.dsn); got != tt.want {
			t.Errorf("DialectFor(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: Postgres}
	got := pg.Rebind("INSERT INTO t (a, b) VALUES (?, ?)")
	if got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Errorf("Rebind = %q", got)
	}
	lite := &DB{dialect: SQLite}
	if got := lite.Rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite Rebind = %q", got)
	}
}

func TestPostgresSchema(t *testing.T) {
	pg := &DB{dialect: Postgres}
	s := pg.schema()
	if want := "id          BIGSERIAL PRIMARY KEY"; !strings.Contains(s, want) {
		t.Errorf("postgres schema missing %q", want)
	}
	if strings.Contains(s, "AUTOINCREMENT") {
		t.Error("postgres schema should not use AUTOINCREMENT")
	}
}

func TestRunEvents(t *testing.T) {
	d := testDB(t)
	setClock(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	for _, ev := range []struct{ event, stage, status string }{
		{EventRunStarted, "", ""},
		{EventStageCompleted, "script", "success"},
		{EventRunFailed, "scenes", "failed"},
	} {
		if err := d.LogRunEvent("s1", ev.event, ev.stage, ev.status, ""); err != nil {
			t.Fatalf("LogRunEvent(%s): %v", ev.event, err)
		}
	}
	if err := d.LogRunEvent("s2", EventRunStarted, "", "", ""); err != nil {
		t.Fatal(err)
	}

	events, err := d.GetRunEvents("s1")
	if err != nil {
		t.Fatalf("GetRunEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[1].Stage != "script" || events[1].Status != "success" {
		t.Errorf("event[1] = %+v", events[1])
	}
	if events[0].Timestamp != "2026-03-01T10:00:00.000000Z" {
		t.Errorf("timestamp = %q", events[0].Timestamp)
	}

	latest, err := d.LatestRunEvent("s1")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Event != EventRunFailed {
		t.Errorf("latest = %+v, want run_failed", latest)
	}
}

func TestLatestRunEventNone(t *testing.T) {
	d := testDB(t)
	e, err := d.LatestRunEvent("missing")
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Errorf("expected nil, got %+v", e)
	}
}

func TestRunEventRejectsUnknownEvent(t *testing.T) {
	d := testDB(t)
	if err := d.LogRunEvent("s1", "exploded", "", "", ""); err == nil {
		t.Error("expected CHECK constraint failure")
	}
}

func TestLogStage(t *testing.T) {
	d := testDB(t)
	if err := d.LogStage("s1", sampleStage()); err != nil {
		t.Fatalf("LogStage: %v", err)
	}

	runs, err := d.GetStageRuns("scenes", "")
	if err != nil {
		t.Fatalf("GetStageRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d stage runs, want 1", len(runs))
	}
	r := runs[0]
	if r.Status != "partial" || r.Total != 3 || r.Succeeded != 2 || r.Degraded != 1 || r.Failed != 1 {
		t.Errorf("stage run = %+v", r)
	}
	if r.DurationMs != 4000 {
		t.Errorf("DurationMs = %d, want 4000", r.DurationMs)
	}

	items, err := d.GetItemResults("s1", "scenes")
	if err != nil {
		t.Fatalf("GetItemResults: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if items[0].DurationMs != 1200 || items[0].Strategy != "direct" {
		t.Errorf("item 1 = %+v", items[0])
	}
	if items[1].State != "degraded" || items[1].Revisions != 1 {
		t.Errorf("item 2 = %+v", items[1])
	}
	if items[2].Kind != "rate_limit" || items[2].Calls != 3 {
		t.Errorf("item 3 = %+v", items[2])
	}

	other, err := d.GetItemResults("s1", "images")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("expected no images items, got %d", len(other))
	}
}

func TestGetStageRunsSince(t *testing.T) {
	d := testDB(t)
	setClock(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := d.LogStage("old", sampleStage()); err != nil {
		t.Fatal(err)
	}
	setClock(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if err := d.LogStage("new", sampleStage()); err != nil {
		t.Fatal(err)
	}

	runs, err := d.GetStageRuns("", "2026-03-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].SessionID != "new" {
		t.Errorf("runs = %+v, want only the new session", runs)
	}

	all, err := d.GetStageRuns("", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("got %d runs, want 2", len(all))
	}
}

func TestFailureKinds(t *testing.T) {
	d := testDB(t)
	if err := d.LogStage("s1", sampleStage()); err != nil {
		t.Fatal(err)
	}
	if err := d.LogStage("s2", sampleStage()); err != nil {
		t.Fatal(err)
	}
	kinds, err := d.FailureKinds("")
	if err != nil {
		t.Fatal(err)
	}
	if kinds["rate_limit"] != 2 || len(kinds) != 1 {
		t.Errorf("kinds = %v", kinds)
	}
}
