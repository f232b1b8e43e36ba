package analytics

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/lucasnoah/reelfactory/internal/db"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

// DB is the interface for event log queries used by analytics.
type DB interface {
	GetStageRuns(stage, since string) ([]db.StageRun, error)
	GetRunEvents(sessionID string) ([]db.RunEvent, error)
	GetItemResults(sessionID, stage string) ([]db.ItemRow, error)
	FailureKinds(since string) (map[string]int, error)
}

// StageStats summarizes every recorded run of one stage.
type StageStats struct {
	Stage   string `json:"stage"`
	Runs    int    `json:"runs"`
	Success int    `json:"success"`
	Partial int    `json:"partial"`
	Failed  int    `json:"failed"`

	Items       int     `json:"items"`
	SucceededPc float64 `json:"item_success_pct"`
	DegradedPc  float64 `json:"item_degraded_pct"`
	FailedPc    float64 `json:"item_failure_pct"`

	AvgSeconds float64 `json:"avg_seconds"`
	P50Seconds float64 `json:"p50_seconds"`
	P95Seconds float64 `json:"p95_seconds"`
}

// QueryStageStats returns per-stage outcome rates and durations for stage
// runs recorded at or after since (all when empty). Known stages come first
// in pipeline order.
func QueryStageStats(database DB, since string) ([]StageStats, error) {
	runs, err := database.GetStageRuns("", since)
	if err != nil {
		return nil, fmt.Errorf("query stage stats: %w", err)
	}

	byStage := map[string][]db.StageRun{}
	for _, r := range runs {
		byStage[r.Stage] = append(byStage[r.Stage], r)
	}

	var results []StageStats
	for stage, rs := range byStage {
		s := StageStats{Stage: stage, Runs: len(rs)}
		var succeeded, degraded, failed int
		durations := make([]float64, 0, len(rs))
		for _, r := range rs {
			switch pipeline.StageStatus(r.Status) {
			case pipeline.StageSuccess:
				s.Success++
			case pipeline.StagePartial:
				s.Partial++
			case pipeline.StageFailed:
				s.Failed++
			}
			s.Items += r.Total
			succeeded += r.Succeeded
			degraded += r.Degraded
			failed += r.Failed
			durations = append(durations, float64(r.DurationMs)/1000)
		}
		sort.Float64s(durations)
		s.SucceededPc = pct(succeeded, s.Items)
		s.DegradedPc = pct(degraded, s.Items)
		s.FailedPc = pct(failed, s.Items)
		s.AvgSeconds = avg(durations)
		s.P50Seconds = percentile(durations, 50)
		s.P95Seconds = percentile(durations, 95)
		results = append(results, s)
	}

	sort.Slice(results, func(i, j int) bool {
		oi, oj := stageOrder(results[i].Stage), stageOrder(results[j].Stage)
		if oi != oj {
			return oi < oj
		}
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

func stageOrder(name string) int {
	if i := slices.Index(pipeline.StageNames, name); i >= 0 {
		return i
	}
	return len(pipeline.StageNames)
}

// KindCount is the number of failed items of one error kind.
type KindCount struct {
	Kind  string  `json:"kind"`
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
}

// QueryFailureKinds returns failed-item counts by error kind, most common
// first.
func QueryFailureKinds(database DB, since string) ([]KindCount, error) {
	kinds, err := database.FailureKinds(since)
	if err != nil {
		return nil, fmt.Errorf("query failure kinds: %w", err)
	}
	total := 0
	for _, n := range kinds {
		total += n
	}
	results := make([]KindCount, 0, len(kinds))
	for kind, n := range kinds {
		if kind == "" {
			kind = "unknown"
		}
		results = append(results, KindCount{Kind: kind, Count: n, Pct: pct(n, total)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Kind < results[j].Kind
	})
	return results, nil
}

// TimelineEvent is one line of a session timeline.
type TimelineEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"` // "run" or "item"
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// QuerySessionTimeline returns a session's run events and item outcomes.
// Item rows share their stage's timestamp and follow its run events.
func QuerySessionTimeline(database DB, sessionID string) ([]TimelineEvent, error) {
	events, err := database.GetRunEvents(sessionID)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	items, err := database.GetItemResults(sessionID, "")
	if err != nil {
		return nil, fmt.Errorf("query item results: %w", err)
	}

	results := make([]TimelineEvent, 0, len(events)+len(items))
	for _, e := range events {
		detail := e.Detail
		if e.Status != "" {
			detail = e.Status
			if e.Detail != "" {
				detail += ": " + e.Detail
			}
		}
		results = append(results, TimelineEvent{
			Timestamp: e.Timestamp,
			Type:      "run",
			Event:     e.Event,
			Stage:     e.Stage,
			Detail:    detail,
		})
	}
	for _, it := range items {
		detail := fmt.Sprintf("%d call(s), %dms", it.Calls, it.DurationMs)
		if it.Strategy != "" {
			detail = it.Strategy + ", " + detail
		}
		if it.Kind != "" {
			detail += ", " + it.Kind
		}
		if it.Reason != "" {
			detail += ": " + it.Reason
		}
		results = append(results, TimelineEvent{
			Timestamp: it.Timestamp,
			Type:      "item",
			Event:     it.ItemID + " " + it.State,
			Stage:     it.Stage,
			Detail:    detail,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp < results[j].Timestamp
	})
	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
