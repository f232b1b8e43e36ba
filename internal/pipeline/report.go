package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus is the state of a whole run.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// StageReport is one stage's entry in build_report.json.
type StageReport struct {
	Status        StageStatus   `json:"status"`
	TimeMs        int64         `json:"time_ms"`
	ItemCounts    ItemCounts    `json:"item_counts"`
	Errors        []ItemFailure `json:"errors"`
	DegradedItems []string      `json:"degraded_items"`
}

// NamedStage pairs a stage report with its stage name.
type NamedStage struct {
	Name string
	StageReport
}

// BuildReport summarizes a run. It is appended to by the orchestrator
// only, one stage at a time.
type BuildReport struct {
	SessionID    string
	Topic        string
	Stages       []NamedStage // in execution order
	Success      bool
	Status       RunStatus
	CurrentStage string
	StartedAt    time.Time
	FinishedAt   time.Time
	FinalError   string
}

// NewBuildReport starts a report for a run.
func NewBuildReport(sessionID, topic string, startedAt time.Time) *BuildReport {
	return &BuildReport{
		SessionID: sessionID,
		Topic:     topic,
		Status:    RunNotStarted,
		StartedAt: startedAt.UTC(),
	}
}

// AddStage appends a completed stage.
func (r *BuildReport) AddStage(name string, sr StageReport) {
	r.Stages = append(r.Stages, NamedStage{Name: name, StageReport: sr})
}

// Stage returns the named stage's entry.
func (r *BuildReport) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s.StageReport, true
		}
	}
	return StageReport{}, false
}

// Finish sets the terminal status. A non-nil err becomes FinalError.
func (r *BuildReport) Finish(status RunStatus, err error, at time.Time) {
	r.Status = status
	r.Success = status == RunCompleted
	r.CurrentStage = ""
	r.FinishedAt = at.UTC()
	if err != nil {
		r.FinalError = err.Error()
	}
}

// TotalTime is the run's elapsed time, or zero while it is unfinished.
func (r *BuildReport) TotalTime() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Degraded counts degraded items across all stages.
func (r *BuildReport) Degraded() int {
	n := 0
	for _, s := range r.Stages {
		n += s.ItemCounts.Degraded
	}
	return n
}

// reportJSON is the on-disk layout. Stages are written as an object keyed
// by stage name, in execution order.
type reportJSON struct {
	SessionID    string          `json:"session_id"`
	Topic        string          `json:"topic"`
	Stages       json.RawMessage `json:"stages"`
	Success      bool            `json:"success"`
	Status       RunStatus       `json:"status"`
	CurrentStage string          `json:"current_stage,omitempty"`
	Degraded     int             `json:"degraded"`
	StartedAt    string          `json:"started_at"`
	FinishedAt   string          `json:"finished_at,omitempty"`
	TotalTimeMs  int64           `json:"total_time_ms"`
	FinalError   string          `json:"final_error,omitempty"`
}

func (r BuildReport) MarshalJSON() ([]byte, error) {
	var stages bytes.Buffer
	stages.WriteByte('{')
	for i, s := range r.Stages {
		if i > 0 {
			stages.WriteByte(',')
		}
		name, err := json.Marshal(s.Name)
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(s.StageReport)
		if err != nil {
			return nil, fmt.Errorf("marshal stage %s: %w", s.Name, err)
		}
		stages.Write(name)
		stages.WriteByte(':')
		stages.Write(body)
	}
	stages.WriteByte('}')

	out := reportJSON{
		SessionID:    r.SessionID,
		Topic:        r.Topic,
		Stages:       stages.Bytes(),
		Success:      r.Success,
		Status:       r.Status,
		CurrentStage: r.CurrentStage,
		Degraded:     r.Degraded(),
		StartedAt:    r.StartedAt.Format(time.RFC3339Nano),
		TotalTimeMs:  r.TotalTime().Milliseconds(),
		FinalError:   r.FinalError,
	}
	if !r.FinishedAt.IsZero() {
		out.FinishedAt = r.FinishedAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

func (r *BuildReport) UnmarshalJSON(data []byte) error {
	var in reportJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	stages, err := decodeStages(in.Stages)
	if err != nil {
		return err
	}
	*r = BuildReport{
		SessionID:    in.SessionID,
		Topic:        in.Topic,
		Stages:       stages,
		Success:      in.Success,
		Status:       in.Status,
		CurrentStage: in.CurrentStage,
		FinalError:   in.FinalError,
	}
	if in.StartedAt != "" {
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, in.StartedAt); err != nil {
			return fmt.Errorf("started_at: %w", err)
		}
	}
	if in.FinishedAt != "" {
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, in.FinishedAt); err != nil {
			return fmt.Errorf("finished_at: %w", err)
		}
	}
	return nil
}

// decodeStages reads the stages object keeping key order.
func decodeStages(raw json.RawMessage) ([]NamedStage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("stages: expected object")
	}
	var stages []NamedStage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("stages: %w", err)
		}
		name, _ := tok.(string)
		var sr StageReport
		if err := dec.Decode(&sr); err != nil {
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
		stages = append(stages, NamedStage{Name: name, StageReport: sr})
	}
	return stages, nil
}
