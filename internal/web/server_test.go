package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/reelfactory/internal/db"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

var testNow = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

func testServer(t *testing.T, withEvents bool) (*Server, *pipeline.Store, *db.DB) {
	t.Helper()
	store := pipeline.NewStore(t.TempDir())

	var events EventLog
	var d *db.DB
	if withEvents {
		var err error
		d, err = db.Open(":memory:")
		if err != nil {
			t.Fatalf("open db: %v", err)
		}
		t.Cleanup(func() { d.Close() })
		if err := d.Migrate(); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		events = d
	}
	s := NewServer(store, events, nil)
	s.now = func() time.Time { return testNow }
	return s, store, d
}

func addSession(t *testing.T, store *pipeline.Store, id string, started time.Time, status pipeline.RunStatus) *pipeline.BuildReport {
	t.Helper()
	r := pipeline.NewBuildReport(id, "topic "+id, started)
	if err := store.Create(r); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	r.AddStage(pipeline.StageScript, pipeline.StageReport{
		Status:     pipeline.StageSuccess,
		ItemCounts: pipeline.ItemCounts{Total: 1, Succeeded: 1},
	})
	r.AddStage(pipeline.StageScenes, pipeline.StageReport{
		Status:        pipeline.StageSuccess,
		ItemCounts:    pipeline.ItemCounts{Total: 3, Succeeded: 3, Degraded: 1},
		DegradedItems: []string{"2"},
	})
	if status == pipeline.RunRunning {
		r.Status = pipeline.RunRunning
		r.CurrentStage = pipeline.StageImages
	} else {
		r.Finish(status, nil, started.Add(90*time.Second))
	}
	if err := store.SaveReport(r); err != nil {
		t.Fatalf("save report: %v", err)
	}
	return r
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := testServer(t, false)
	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestListSessions(t *testing.T) {
	s, store, _ := testServer(t, false)
	addSession(t, store, "s-old", testNow.Add(-3*time.Hour), pipeline.RunCompleted)
	addSession(t, store, "s-new", testNow.Add(-5*time.Minute), pipeline.RunRunning)

	rec := get(t, s, "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got []sessionSummary
	decode(t, rec, &got)
	if len(got) != 2 {
		t.Fatalf("got %d sessions, want 2", len(got))
	}
	if got[0].SessionID != "s-new" || got[1].SessionID != "s-old" {
		t.Errorf("order = %s, %s; want newest first", got[0].SessionID, got[1].SessionID)
	}
	if got[0].StartedAgo != "5m ago" || got[1].StartedAgo != "3h ago" {
		t.Errorf("started_ago = %q, %q", got[0].StartedAgo, got[1].StartedAgo)
	}
	if got[0].CurrentStage != "images" || got[0].Elapsed != "" {
		t.Errorf("running session = %+v", got[0])
	}
	if got[1].Stages != 2 || got[1].Degraded != 1 || got[1].Elapsed != "1m30s" {
		t.Errorf("completed session = %+v", got[1])
	}
}

func TestListSessionsFilter(t *testing.T) {
	s, store, _ := testServer(t, false)
	addSession(t, store, "s-done", testNow.Add(-time.Hour), pipeline.RunCompleted)
	addSession(t, store, "s-bad", testNow.Add(-2*time.Hour), pipeline.RunFailed)

	rec := get(t, s, "/api/sessions?status=failed")
	var got []sessionSummary
	decode(t, rec, &got)
	if len(got) != 1 || got[0].SessionID != "s-bad" {
		t.Errorf("filtered = %+v", got)
	}

	if rec := get(t, s, "/api/sessions?status=exploded"); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status code = %d, want 400", rec.Code)
	}
}

func TestListSessionsEmpty(t *testing.T) {
	s, _, _ := testServer(t, false)
	rec := get(t, s, "/api/sessions")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestGetSession(t *testing.T) {
	s, store, d := testServer(t, true)
	addSession(t, store, "s1", testNow.Add(-time.Hour), pipeline.RunCompleted)
	if err := d.LogRunEvent("s1", "run_started", "", "running", ""); err != nil {
		t.Fatal(err)
	}
	if err := d.LogRunEvent("s1", "run_completed", "", "completed", ""); err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/api/sessions/s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Report    map[string]any `json:"report"`
		LastEvent *lastEvent     `json:"last_event"`
	}
	decode(t, rec, &got)
	if got.Report["session_id"] != "s1" || got.Report["status"] != "completed" {
		t.Errorf("report = %v", got.Report)
	}
	if got.LastEvent == nil || got.LastEvent.Event != "run_completed" {
		t.Errorf("last_event = %+v, want run_completed", got.LastEvent)
	}
}

func TestGetSessionWithoutEventLog(t *testing.T) {
	s, store, _ := testServer(t, false)
	addSession(t, store, "s1", testNow, pipeline.RunCompleted)

	rec := get(t, s, "/api/sessions/s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "last_event") {
		t.Errorf("body has last_event without an event log: %s", rec.Body.String())
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s, _, _ := testServer(t, false)
	rec := get(t, s, "/api/sessions/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if !strings.Contains(body["error"], "not found") {
		t.Errorf("error = %q", body["error"])
	}
}

func TestInvalidSessionID(t *testing.T) {
	s, _, _ := testServer(t, false)
	if rec := get(t, s, "/api/sessions/-dash"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStageOutput(t *testing.T) {
	s, store, _ := testServer(t, false)
	addSession(t, store, "s1", testNow, pipeline.RunCompleted)
	if err := store.SaveStageOutput("s1", "scenes", []map[string]any{{"scene_number": 1}}); err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/api/sessions/s1/stages/scenes")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var scenes []map[string]any
	decode(t, rec, &scenes)
	if len(scenes) != 1 || scenes[0]["scene_number"] != float64(1) {
		t.Errorf("scenes = %v", scenes)
	}

	if rec := get(t, s, "/api/sessions/s1/stages/voice"); rec.Code != http.StatusNotFound {
		t.Errorf("missing output status = %d, want 404", rec.Code)
	}
	if rec := get(t, s, "/api/sessions/s1/stages/build_report"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown stage status = %d, want 404", rec.Code)
	}
}

func TestSessionFile(t *testing.T) {
	s, store, _ := testServer(t, false)
	addSession(t, store, "s1", testNow, pipeline.RunCompleted)
	path := filepath.Join(store.MediaDir("s1", pipeline.MediaImages), "1.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/api/sessions/s1/files/images/1.png")
	if rec.Code != http.StatusOK || rec.Body.String() != "png-bytes" {
		t.Errorf("file = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, s, "/api/sessions/s1/files/images/9.png"); rec.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", rec.Code)
	}
	if rec := get(t, s, "/api/sessions/s1/files/images"); rec.Code != http.StatusNotFound {
		t.Errorf("directory status = %d, want 404", rec.Code)
	}
	if rec := get(t, s, "/api/sessions/s1/files/../../secret"); rec.Code != http.StatusBadRequest {
		t.Errorf("traversal status = %d, want 400", rec.Code)
	}
}

func TestTimelineAndStats(t *testing.T) {
	s, _, d := testServer(t, true)
	if err := d.LogRunEvent("s1", "run_started", "", "running", ""); err != nil {
		t.Fatal(err)
	}
	stage := &pipeline.StageResult{
		Name:   pipeline.StageScenes,
		Status: pipeline.StagePartial,
		Items: []pipeline.ItemResult{
			{ID: "1", State: pipeline.ItemSucceeded, Calls: 1},
			{ID: "2", State: pipeline.ItemFailed, Calls: 3, Failure: &pipeline.ItemFailure{ItemID: "2", Kind: "policy"}},
		},
		Counts:   pipeline.ItemCounts{Total: 2, Succeeded: 1, Failed: 1},
		Duration: 2 * time.Second,
	}
	if err := d.LogStage("s1", stage); err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/api/sessions/s1/timeline")
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline status = %d", rec.Code)
	}
	var timeline []map[string]any
	decode(t, rec, &timeline)
	if len(timeline) == 0 || timeline[0]["event"] != "run_started" {
		t.Errorf("timeline = %v", timeline)
	}

	rec = get(t, s, "/api/stats/stages")
	var stats []map[string]any
	decode(t, rec, &stats)
	if len(stats) != 1 || stats[0]["stage"] != "scenes" || stats[0]["partial"] != float64(1) {
		t.Errorf("stage stats = %v", stats)
	}

	rec = get(t, s, "/api/stats/failures")
	var kinds []map[string]any
	decode(t, rec, &kinds)
	if len(kinds) != 1 || kinds[0]["kind"] != "policy" {
		t.Errorf("failure kinds = %v", kinds)
	}

	if rec := get(t, s, "/api/stats/stages?since=soon"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", rec.Code)
	}
}

func TestStatsWithoutEventLog(t *testing.T) {
	s, _, _ := testServer(t, false)
	for _, path := range []string{"/api/stats/stages", "/api/stats/failures", "/api/sessions/s1/timeline"} {
		if rec := get(t, s, path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestStartShutsDownOnCancel(t *testing.T) {
	s, _, _ := testServer(t, false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, addr) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestRelTime(t *testing.T) {
	now := testNow
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, ""},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-7 * time.Minute), "7m ago"},
		{now.Add(-5 * time.Hour), "5h ago"},
		{now.Add(-72 * time.Hour), "3d ago"},
	}
	for _, tt := range tests {
		if got := relTime(tt.t, now); got != tt.want {
			t.Errorf("relTime(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3*time.Minute + 12*time.Second, "3m12s"},
		{64 * time.Minute, "1h4m"},
	}
	for _, tt := range tests {
		if got := fmtDuration(tt.d); got != tt.want {
			t.Errorf("fmtDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
