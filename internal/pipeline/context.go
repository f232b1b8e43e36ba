package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/reelfactory/internal/llm"
	"github.com/lucasnoah/reelfactory/internal/schema"
)

// RunContext is passed explicitly to every component of a run.
type RunContext struct {
	SessionID string
	Topic     string
	Registry  *schema.Registry
	Retry     llm.RetryPolicy
	Logger    *slog.Logger
}

// Log returns the run logger, or a discarding logger when none is set.
func (rc *RunContext) Log() *slog.Logger {
	if rc == nil || rc.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rc.Logger
}

// ForStage returns a copy whose logger tags every line with the stage.
func (rc *RunContext) ForStage(stage string) *RunContext {
	var c RunContext
	if rc != nil {
		c = *rc
	}
	c.Logger = rc.Log().With("stage", stage)
	return &c
}

// NewSessionID returns a sortable unique session id.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), uuid.NewString()[:8])
}
