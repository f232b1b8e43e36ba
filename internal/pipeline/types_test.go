package pipeline

import (
	"regexp"
	"testing"
	"time"

	"github.com/lucasnoah/reelfactory/internal/schema"
)

func items(states ...ItemState) []ItemResult {
	out := make([]ItemResult, len(states))
	for i, s := range states {
		out[i] = ItemResult{ID: string(rune('1' + i)), State: s, Calls: 1}
	}
	return out
}

func TestAggregatePartial(t *testing.T) {
	r := StageResult{Name: "scenes"}
	for i := 1; i <= 10; i++ {
		it := ItemResult{ID: itoa(i), State: ItemSucceeded, Calls: 1, Record: schema.Record{Schema: "ScenePackage", Data: map[string]any{"scene_number": int64(i)}}}
		if i == 3 || i == 7 {
			it.State = ItemFailed
			it.Failure = &ItemFailure{ItemID: itoa(i), Kind: "policy", Error: "content blocked", Attempts: 1}
		}
		r.Items = append(r.Items, it)
	}
	r.Aggregate()

	if r.Status != StagePartial {
		t.Errorf("Status = %q, want partial", r.Status)
	}
	if r.Counts != (ItemCounts{Total: 10, Succeeded: 8, Failed: 2}) {
		t.Errorf("Counts = %+v", r.Counts)
	}
	if len(r.Errors) != 2 || r.Errors[0].ItemID != "3" || r.Errors[1].ItemID != "7" {
		t.Errorf("Errors = %+v", r.Errors)
	}
	recs := r.Records()
	if len(recs) != 8 {
		t.Fatalf("Records = %d, want 8", len(recs))
	}
	if recs[2].Data["scene_number"] != int64(4) {
		t.Errorf("records out of order: %v", recs[2].Data)
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name   string
		states []ItemState
		want   StageStatus
	}{
		{"all ok", []ItemState{ItemSucceeded, ItemSucceeded}, StageSuccess},
		{"degraded counts as success", []ItemState{ItemSucceeded, ItemDegraded}, StageSuccess},
		{"only degraded", []ItemState{ItemDegraded}, StageSuccess},
		{"one failure", []ItemState{ItemSucceeded, ItemFailed}, StagePartial},
		{"all failed", []ItemState{ItemFailed, ItemFailed}, StageFailed},
		{"empty", nil, StageFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := StageResult{Items: items(tt.states...)}
			r.Aggregate()
			if r.Status != tt.want {
				t.Errorf("Status = %q, want %q", r.Status, tt.want)
			}
			if r.Counts.Total != r.Counts.Succeeded+r.Counts.Failed {
				t.Errorf("counts do not add up: %+v", r.Counts)
			}
		})
	}
}

func TestAggregateDegradedItems(t *testing.T) {
	r := StageResult{Items: items(ItemSucceeded, ItemDegraded, ItemFailed)}
	r.Items[2].Reason = "timeout"
	r.Aggregate()

	if r.Counts.Degraded != 1 || r.Counts.Succeeded != 2 {
		t.Errorf("Counts = %+v", r.Counts)
	}
	if len(r.Degraded) != 1 || r.Degraded[0] != "2" {
		t.Errorf("Degraded = %v", r.Degraded)
	}
	// Without an explicit failure the reason is reported.
	if r.Errors[0].Error != "timeout" || r.Errors[0].Attempts != 1 {
		t.Errorf("Errors[0] = %+v", r.Errors[0])
	}

	r.Duration = 1500 * time.Millisecond
	rep := r.Report()
	if rep.TimeMs != 1500 || rep.Status != StagePartial {
		t.Errorf("Report = %+v", rep)
	}
}

func TestItemStateTerminal(t *testing.T) {
	for _, s := range []ItemState{ItemSucceeded, ItemDegraded, ItemFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ItemState{ItemPending, ItemCallingModel, ItemExtracting, ItemValidating} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNewSessionID(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 4, 5, 0, time.UTC)
	id := NewSessionID(now)
	if !regexp.MustCompile(`^20260301-100405-[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("id = %q", id)
	}
	if !sessionIDRe.MatchString(id) {
		t.Errorf("id %q should be a valid session id", id)
	}
	if NewSessionID(now) == id {
		t.Error("ids should be unique")
	}
}

func TestRunContextLog(t *testing.T) {
	var rc *RunContext
	rc.Log().Info("no panic on nil context")

	rc = &RunContext{SessionID: "s"}
	child := rc.ForStage("script")
	if child.SessionID != "s" || child.Logger == nil {
		t.Errorf("ForStage = %+v", child)
	}
	if rc.Logger != nil {
		t.Error("ForStage must not modify the parent")
	}
}

func itoa(i int) string {
	if i >= 10 {
		return string(rune('0'+i/10)) + string(rune('0'+i%10))
	}
	return string(rune('0' + i))
}
