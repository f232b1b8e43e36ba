package pipeline

import (
	"time"

	"github.com/lucasnoah/reelfactory/internal/schema"
)

// Stage names, in execution order.
const (
	StageScript   = "script"
	StageScenes   = "scenes"
	StageImages   = "images"
	StageVoice    = "voice"
	StageAssembly = "assembly"
)

// StageNames lists every stage in execution order.
var StageNames = []string{StageScript, StageScenes, StageImages, StageVoice, StageAssembly}

// StageStatus is the aggregate outcome of a stage.
type StageStatus string

const (
	StageSuccess StageStatus = "success" // no item failed
	StagePartial StageStatus = "partial" // some items failed, at least one did not
	StageFailed  StageStatus = "failed"  // no item produced a record
)

// ItemState is a work item's position in its lifecycle.
type ItemState string

const (
	ItemPending      ItemState = "pending"
	ItemCallingModel ItemState = "calling_model"
	ItemExtracting   ItemState = "extracting"
	ItemValidating   ItemState = "validating"
	ItemSucceeded    ItemState = "succeeded"
	ItemDegraded     ItemState = "degraded"
	ItemFailed       ItemState = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s ItemState) Terminal() bool {
	return s == ItemSucceeded || s == ItemDegraded || s == ItemFailed
}

// ItemCounts tallies a stage's items. Succeeded includes degraded items.
type ItemCounts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Degraded  int `json:"degraded"`
	Failed    int `json:"failed"`
}

// ItemFailure records why one work item produced nothing.
type ItemFailure struct {
	ItemID   string `json:"item_id"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// ItemResult is the outcome of one work item.
type ItemResult struct {
	ID    string    `json:"id"`
	State ItemState `json:"state"`
	// Record is set for succeeded and degraded items.
	Record    schema.Record `json:"-"`
	Strategy  string        `json:"strategy,omitempty"`
	Calls     int           `json:"calls"`
	Revisions int           `json:"revisions,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Trace     []ItemState   `json:"trace"`
	Duration  time.Duration `json:"duration"`
	Failure   *ItemFailure  `json:"failure,omitempty"`
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Name     string        `json:"name"`
	Status   StageStatus   `json:"status"`
	Items    []ItemResult  `json:"items"`
	Counts   ItemCounts    `json:"item_counts"`
	Errors   []ItemFailure `json:"errors"`
	Degraded []string      `json:"degraded_items"`
	Duration time.Duration `json:"duration"`
}

// Aggregate derives counts, failures and status from Items.
func (r *StageResult) Aggregate() {
	r.Counts = ItemCounts{Total: len(r.Items)}
	r.Errors = []ItemFailure{}
	r.Degraded = []string{}
	for _, it := range r.Items {
		switch it.State {
		case ItemFailed:
			r.Counts.Failed++
			f := ItemFailure{ItemID: it.ID, Error: it.Reason, Attempts: it.Calls}
			if it.Failure != nil {
				f = *it.Failure
			}
			r.Errors = append(r.Errors, f)
		case ItemDegraded:
			r.Counts.Succeeded++
			r.Counts.Degraded++
			r.Degraded = append(r.Degraded, it.ID)
		case ItemSucceeded:
			r.Counts.Succeeded++
		}
	}
	switch {
	case r.Counts.Succeeded == 0:
		r.Status = StageFailed
	case r.Counts.Failed > 0:
		r.Status = StagePartial
	default:
		r.Status = StageSuccess
	}
}

// Records returns the records of non-failed items in item order.
func (r *StageResult) Records() []schema.Record {
	out := make([]schema.Record, 0, len(r.Items))
	for _, it := range r.Items {
		if it.State != ItemFailed {
			out = append(out, it.Record)
		}
	}
	return out
}

// Report converts the result to its BuildReport entry.
func (r *StageResult) Report() StageReport {
	return StageReport{
		Status:        r.Status,
		TimeMs:        r.Duration.Milliseconds(),
		ItemCounts:    r.Counts,
		Errors:        r.Errors,
		DegradedItems: r.Degraded,
	}
}
