package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Media kinds, each stored in its own session subdirectory.
const (
	MediaImages = "images"
	MediaAudio  = "audio"
	MediaVideo  = "video"
)

// ReportFile is the name of the persisted build report.
const ReportFile = "build_report.json"

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store manages run sessions on disk.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// SessionDir returns the directory for a session.
func (s *Store) SessionDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// MediaDir returns the directory holding one kind of media for a session.
func (s *Store) MediaDir(id, kind string) string {
	return filepath.Join(s.SessionDir(id), kind)
}

func (s *Store) reportPath(id string) string {
	return filepath.Join(s.SessionDir(id), ReportFile)
}

func (s *Store) stagePath(id, stage string) string {
	return filepath.Join(s.SessionDir(id), stage+".json")
}

// Create initialises a new session on disk with its media directories and
// an initial report.
func (s *Store) Create(report *BuildReport) error {
	if !sessionIDRe.MatchString(report.SessionID) {
		return fmt.Errorf("invalid session id %q", report.SessionID)
	}
	dir := s.SessionDir(report.SessionID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("session %s already exists", report.SessionID)
	}
	for _, kind := range []string{MediaImages, MediaAudio, MediaVideo} {
		if err := os.MkdirAll(filepath.Join(dir, kind), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", kind, err)
		}
	}
	return s.SaveReport(report)
}

// SaveReport writes build_report.json for the report's session.
func (s *Store) SaveReport(report *BuildReport) error {
	if err := WriteJSON(s.reportPath(report.SessionID), report); err != nil {
		return fmt.Errorf("write %s: %w", ReportFile, err)
	}
	return nil
}

// GetReport reads the build report of a session.
func (s *Store) GetReport(id string) (*BuildReport, error) {
	var r BuildReport
	if err := ReadJSON(s.reportPath(id), &r); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	return &r, nil
}

// SaveStageOutput writes a stage's validated output as <stage>.json.
func (s *Store) SaveStageOutput(id, stage string, v any) error {
	if err := WriteJSON(s.stagePath(id, stage), v); err != nil {
		return fmt.Errorf("write %s.json: %w", stage, err)
	}
	return nil
}

// GetStageOutput reads <stage>.json into v.
func (s *Store) GetStageOutput(id, stage string, v any) error {
	return ReadJSON(s.stagePath(id, stage), v)
}

// StageOutputRaw returns the bytes of <stage>.json.
func (s *Store) StageOutputRaw(id, stage string) (json.RawMessage, error) {
	return os.ReadFile(s.stagePath(id, stage))
}

// SavePrompt keeps the rendered prompt for one item of a stage.
func (s *Store) SavePrompt(id, stage, item, prompt string) error {
	return WriteAtomic(filepath.Join(s.SessionDir(id), "prompts", stage, fileSafe(item)+".md"), []byte(prompt))
}

// SaveRawOutput keeps the raw model text for one item of a stage.
func (s *Store) SaveRawOutput(id, stage, item, raw string) error {
	return WriteAtomic(filepath.Join(s.SessionDir(id), "raw", stage, fileSafe(item)+".txt"), []byte(raw))
}

// GetRawOutput reads back raw model text saved with SaveRawOutput.
func (s *Store) GetRawOutput(id, stage, item string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.SessionDir(id), "raw", stage, fileSafe(item)+".txt"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// List returns the reports of all sessions, newest first, optionally
// filtered by status. Pass "" for statusFilter to return all sessions.
func (s *Store) List(statusFilter RunStatus) ([]BuildReport, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var reports []BuildReport
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.GetReport(entry.Name())
		if err != nil {
			continue // skip directories without a readable report
		}
		if statusFilter == "" || r.Status == statusFilter {
			reports = append(reports, *r)
		}
	}

	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].StartedAt.Equal(reports[j].StartedAt) {
			return reports[i].StartedAt.After(reports[j].StartedAt)
		}
		return reports[i].SessionID > reports[j].SessionID
	})
	return reports, nil
}

// Delete removes all data for a session.
func (s *Store) Delete(id string) error {
	if !sessionIDRe.MatchString(id) {
		return fmt.Errorf("invalid session id %q", id)
	}
	dir := s.SessionDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("session %s not found", id)
	}
	return os.RemoveAll(dir)
}

// fileSafe maps an item id to a file name.
func fileSafe(item string) string {
	if item == "" {
		return "item"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, item)
}
