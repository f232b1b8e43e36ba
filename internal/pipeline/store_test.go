package pipeline

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func newReport(id string, started time.Time) *BuildReport {
	return NewBuildReport(id, "how tides work", started)
}

func TestCreateAndGetReport(t *testing.T) {
	s := newTestStore(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.Create(newReport("run-1", started)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, kind := range []string{MediaImages, MediaAudio, MediaVideo} {
		if fi, err := os.Stat(s.MediaDir("run-1", kind)); err != nil || !fi.IsDir() {
			t.Errorf("media dir %s missing: %v", kind, err)
		}
	}

	got, err := s.GetReport("run-1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Topic != "how tides work" {
		t.Errorf("Topic = %q", got.Topic)
	}
	if got.Status != RunNotStarted {
		t.Errorf("Status = %q, want %q", got.Status, RunNotStarted)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create(newReport("dup", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(newReport("dup", time.Now())); err == nil {
		t.Fatal("expected error creating duplicate session")
	}
}

func TestCreateRejectsBadID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		if err := s.Create(newReport(id, time.Now())); err == nil {
			t.Errorf("Create(%q) should fail", id)
		}
	}
}

func TestGetReportNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetReport("missing"); err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestSaveReportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := newReport("run-2", started)
	if err := s.Create(r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r.AddStage("script", StageReport{Status: StageSuccess, TimeMs: 1200, ItemCounts: ItemCounts{Total: 1, Succeeded: 1}, Errors: []ItemFailure{}, DegradedItems: []string{}})
	r.AddStage("scenes", StageReport{
		Status:        StagePartial,
		TimeMs:        5400,
		ItemCounts:    ItemCounts{Total: 3, Succeeded: 2, Degraded: 1, Failed: 1},
		Errors:        []ItemFailure{{ItemID: "2", Kind: "policy", Error: "blocked", Attempts: 1}},
		DegradedItems: []string{"3"},
	})
	r.Finish(RunCompleted, nil, started.Add(90*time.Second))
	if err := s.SaveReport(r); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := s.GetReport("run-2")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if len(got.Stages) != 2 || got.Stages[0].Name != "script" || got.Stages[1].Name != "scenes" {
		t.Fatalf("stages out of order: %+v", got.Stages)
	}
	scenes, ok := got.Stage("scenes")
	if !ok {
		t.Fatal("scenes stage missing")
	}
	if scenes.ItemCounts.Failed != 1 || scenes.Errors[0].ItemID != "2" {
		t.Errorf("scenes = %+v", scenes)
	}
	if !got.Success || got.Status != RunCompleted {
		t.Errorf("Success = %v, Status = %q", got.Success, got.Status)
	}
	if got.TotalTime() != 90*time.Second {
		t.Errorf("TotalTime = %v, want 90s", got.TotalTime())
	}
}

func TestBuildReportFileLayout(t *testing.T) {
	s := newTestStore(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := newReport("run-3", started)
	r.AddStage("script", StageReport{Status: StageFailed, ItemCounts: ItemCounts{Total: 1, Failed: 1}, Errors: []ItemFailure{{ItemID: "script", Kind: "auth", Error: "bad key", Attempts: 1}}, DegradedItems: []string{}})
	r.Finish(RunFailed, errors.New("stage script failed"), started.Add(time.Second))
	if err := s.Create(r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.SessionDir("run-3"), ReportFile))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"session_id", "topic", "stages", "success", "status", "total_time_ms", "final_error"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("report missing %q", key)
		}
	}
	stages, ok := raw["stages"].(map[string]any)
	if !ok {
		t.Fatalf("stages should be an object, got %T", raw["stages"])
	}
	script, _ := stages["script"].(map[string]any)
	for _, key := range []string{"status", "time_ms", "item_counts", "errors"} {
		if _, ok := script[key]; !ok {
			t.Errorf("stage entry missing %q", key)
		}
	}
	if raw["success"] != false {
		t.Errorf("success = %v, want false", raw["success"])
	}
}

func TestStageOutputs(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(newReport("run-4", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}

	out := []map[string]any{{"scene_number": 1}, {"scene_number": 2}}
	if err := s.SaveStageOutput("run-4", "scenes", out); err != nil {
		t.Fatalf("SaveStageOutput: %v", err)
	}
	var got []map[string]any
	if err := s.GetStageOutput("run-4", "scenes", &got); err != nil {
		t.Fatalf("GetStageOutput: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d records, want 2", len(got))
	}
	if _, err := os.Stat(filepath.Join(s.SessionDir("run-4"), "scenes.json")); err != nil {
		t.Errorf("scenes.json not written: %v", err)
	}
	raw, err := s.StageOutputRaw("run-4", "scenes")
	if err != nil || !strings.Contains(string(raw), "scene_number") {
		t.Errorf("StageOutputRaw = %q, %v", raw, err)
	}
}

func TestPromptAndRawOutput(t *testing.T) {
	s := newTestStore(t)
	if err := s.SavePrompt("run-5", "images", "1A", "draw a cat"); err != nil {
		t.Fatalf("SavePrompt: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.SessionDir("run-5"), "prompts", "images", "1A.md")); err != nil {
		t.Errorf("prompt file missing: %v", err)
	}

	if err := s.SaveRawOutput("run-5", "scenes", "../3", "not json"); err != nil {
		t.Fatalf("SaveRawOutput: %v", err)
	}
	got, err := s.GetRawOutput("run-5", "scenes", "../3")
	if err != nil {
		t.Fatalf("GetRawOutput: %v", err)
	}
	if got != "not json" {
		t.Errorf("raw = %q", got)
	}
	if _, err := os.Stat(filepath.Join(s.SessionDir("run-5"), "raw", "scenes", "___3.txt")); err != nil {
		t.Errorf("item id should be made file safe: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		r := newReport(id, base.Add(time.Duration(i)*time.Hour))
		if err := s.Create(r); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	b, _ := s.GetReport("b")
	b.Finish(RunCompleted, nil, base.Add(2*time.Hour))
	if err := s.SaveReport(b); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	// Directories without a report are skipped.
	if err := os.MkdirAll(filepath.Join(s.BaseDir(), "stray"), 0o755); err != nil {
		t.Fatal(err)
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d, want 3", len(all))
	}
	if all[0].SessionID != "c" || all[2].SessionID != "a" {
		t.Errorf("order = %s, %s, %s", all[0].SessionID, all[1].SessionID, all[2].SessionID)
	}

	completed, err := s.List(RunCompleted)
	if err != nil {
		t.Fatalf("List completed: %v", err)
	}
	if len(completed) != 1 || completed[0].SessionID != "b" {
		t.Errorf("completed = %+v", completed)
	}
}

func TestListEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))
	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("List returned %d, want 0", len(all))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(newReport("gone", time.Now())); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetReport("gone"); err == nil {
		t.Error("report should be gone")
	}
	if err := s.Delete("gone"); err == nil {
		t.Error("deleting twice should fail")
	}
}

func TestWriteAtomicPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.json")
	if err := WriteJSON(path, map[string]int{"a": 1}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", fi.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
