package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lucasnoah/reelfactory/internal/analytics"
	"github.com/lucasnoah/reelfactory/internal/db"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

type sessionSummary struct {
	SessionID    string `json:"session_id"`
	Topic        string `json:"topic"`
	Status       string `json:"status"`
	CurrentStage string `json:"current_stage,omitempty"`
	Stages       int    `json:"stages"`
	Degraded     int    `json:"degraded"`
	StartedAt    string `json:"started_at"`
	StartedAgo   string `json:"started_ago"`
	Elapsed      string `json:"elapsed,omitempty"`
}

type lastEvent struct {
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Status    string `json:"status,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	status := pipeline.RunStatus(r.URL.Query().Get("status"))
	switch status {
	case "", pipeline.RunRunning, pipeline.RunCompleted, pipeline.RunFailed, pipeline.RunCancelled:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}

	reports, err := s.store.List(status)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	now := s.now()
	out := make([]sessionSummary, 0, len(reports))
	for i := range reports {
		rep := &reports[i]
		sum := sessionSummary{
			SessionID:    rep.SessionID,
			Topic:        rep.Topic,
			Status:       string(rep.Status),
			CurrentStage: rep.CurrentStage,
			Stages:       len(rep.Stages),
			Degraded:     rep.Degraded(),
			StartedAt:    rep.StartedAt.Format(time.RFC3339),
			StartedAgo:   relTime(rep.StartedAt, now),
		}
		if !rep.FinishedAt.IsZero() {
			sum.Elapsed = fmtDuration(rep.TotalTime())
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.store.GetReport(id)
	if err != nil {
		s.notFoundOr(w, r, err)
		return
	}

	var last *lastEvent
	if s.events != nil {
		ev, err := s.events.LatestRunEvent(id)
		if err != nil {
			s.logger.Warn("latest run event", "session", id, "error", err)
		} else if ev != nil {
			last = toLastEvent(ev)
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Report    *pipeline.BuildReport `json:"report"`
		LastEvent *lastEvent            `json:"last_event,omitempty"`
	}{report, last})
}

func (s *Server) handleStageOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stage := chi.URLParam(r, "stage")
	if !slices.Contains(pipeline.StageNames, stage) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown stage %q", stage))
		return
	}
	data, err := s.store.StageOutputRaw(id, stage)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("session %s has no %s output", id, stage))
			return
		}
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if !s.requireEvents(w) {
		return
	}
	events, err := analytics.QuerySessionTimeline(s.events, chi.URLParam(r, "id"))
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if events == nil {
		events = []analytics.TimelineEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleFile serves media and prompt files under a session directory.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rel := chi.URLParam(r, "*")
	clean := filepath.Clean("/" + rel)
	if rel == "" || clean == "/" || strings.Contains(rel, "..") {
		writeError(w, http.StatusBadRequest, "invalid file path")
		return
	}
	path := filepath.Join(s.store.SessionDir(id), filepath.FromSlash(clean))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleStageStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireEvents(w) {
		return
	}
	since, ok := s.since(w, r)
	if !ok {
		return
	}
	stats, err := analytics.QueryStageStats(s.events, since)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if stats == nil {
		stats = []analytics.StageStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleFailureKinds(w http.ResponseWriter, r *http.Request) {
	if !s.requireEvents(w) {
		return
	}
	since, ok := s.since(w, r)
	if !ok {
		return
	}
	kinds, err := analytics.QueryFailureKinds(s.events, since)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if kinds == nil {
		kinds = []analytics.KindCount{}
	}
	writeJSON(w, http.StatusOK, kinds)
}

func (s *Server) since(w http.ResponseWriter, r *http.Request) (string, bool) {
	since, err := analytics.ParseSince(r.URL.Query().Get("since"), s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return since, true
}

func (s *Server) requireEvents(w http.ResponseWriter) bool {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log disabled")
		return false
	}
	return true
}

func (s *Server) notFoundOr(w http.ResponseWriter, r *http.Request, err error) {
	if strings.HasSuffix(err.Error(), "not found") {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.serverError(w, r, err)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func toLastEvent(ev *db.RunEvent) *lastEvent {
	return &lastEvent{
		Event:     ev.Event,
		Stage:     ev.Stage,
		Status:    ev.Status,
		Detail:    ev.Detail,
		Timestamp: ev.Timestamp,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// relTime formats t relative to now ("just now", "5m ago", "3h ago", "2d ago").
func relTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// fmtDuration formats a duration compactly ("45s", "3m12s", "1h4m").
func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
