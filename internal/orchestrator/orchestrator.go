// Package orchestrator drives a run through the fixed stage graph
// script → scenes → images → voice → assembly and keeps its BuildReport.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucasnoah/reelfactory/internal/config"
	"github.com/lucasnoah/reelfactory/internal/db"
	"github.com/lucasnoah/reelfactory/internal/llm"
	"github.com/lucasnoah/reelfactory/internal/media"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
	"github.com/lucasnoah/reelfactory/internal/schema"
	"github.com/lucasnoah/reelfactory/internal/stage"
)

// Capabilities are the external services the stages call.
type Capabilities struct {
	Model  llm.Generator
	Images media.ImageRenderer
	Speech media.Synthesizer
	Video  media.Encoder
	// File extensions for produced media, including the dot.
	ImageExt string
	AudioExt string
	VideoExt string
}

// EventLog receives run events. *db.DB implements it.
type EventLog interface {
	LogRunEvent(sessionID, event, stage, status, detail string) error
	LogStage(sessionID string, r *pipeline.StageResult) error
}

// RunFailure is returned when a run cannot continue. The BuildReport has
// been persisted by the time it is returned.
type RunFailure struct {
	Stage  string
	Reason string
	Cause  error
}

func (e *RunFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Reason, e.Cause)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason)
}

func (e *RunFailure) Unwrap() error { return e.Cause }

// Orchestrator runs pipelines.
type Orchestrator struct {
	cfg      *config.Config
	store    *pipeline.Store
	engine   *stage.Engine
	registry *schema.Registry
	caps     Capabilities
	events   EventLog
	logger   *slog.Logger
	tracer   trace.Tracer
	progress io.Writer
	now      func() time.Time
}

// New creates an Orchestrator.
func New(cfg *config.Config, store *pipeline.Store, engine *stage.Engine, registry *schema.Registry, caps Capabilities) *Orchestrator {
	if caps.ImageExt == "" {
		caps.ImageExt = ".png"
	}
	if caps.AudioExt == "" {
		caps.AudioExt = ".wav"
	}
	if caps.VideoExt == "" {
		caps.VideoExt = ".mp4"
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		registry: registry,
		caps:     caps,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer("github.com/lucasnoah/reelfactory/internal/orchestrator"),
		now:      time.Now,
	}
}

// SetEventLog records run events and stage results in l.
func (o *Orchestrator) SetEventLog(l EventLog) {
	o.events = l
}

// SetLogger sets the structured logger runs derive their loggers from.
func (o *Orchestrator) SetLogger(l *slog.Logger) {
	o.logger = l
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

// SetTracer overrides the tracer used for run spans.
func (o *Orchestrator) SetTracer(t trace.Tracer) {
	o.tracer = t
}

// SetClock overrides the time source (for testing).
func (o *Orchestrator) SetClock(fn func() time.Time) {
	o.now = fn
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, format+"\n", args...)
	}
}

// RunOpts holds the input of one run.
type RunOpts struct {
	Topic string
	// SessionID is generated when empty.
	SessionID string
}

// Run executes every stage in order. It returns the BuildReport of the
// run in all cases where a session was created; the error is a
// *RunFailure, or the context error when the run was cancelled.
func (o *Orchestrator) Run(ctx context.Context, opts RunOpts) (*pipeline.BuildReport, error) {
	topic := strings.TrimSpace(opts.Topic)
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	policy, err := o.cfg.RetryPolicy()
	if err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	id := opts.SessionID
	if id == "" {
		id = pipeline.NewSessionID(o.now())
	}
	report := pipeline.NewBuildReport(id, topic, o.now())
	report.Status = pipeline.RunRunning
	if err := o.store.Create(report); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	rc := &pipeline.RunContext{
		SessionID: id,
		Topic:     topic,
		Registry:  o.registry,
		Retry:     policy,
		Logger:    o.logger.With("session", id),
	}

	ctx, span := o.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("reelfactory.session_id", id),
		attribute.String("reelfactory.topic", topic),
	))
	defer span.End()

	o.logf("Run %s: %q", id, topic)
	rc.Log().Info("run started", "topic", topic)
	o.event(rc, db.EventRunStarted, "", "", "topic="+topic)

	r := &run{o: o, rc: rc, report: report}
	err = r.execute(ctx)
	current := report.CurrentStage

	switch {
	case err == nil:
		report.Finish(pipeline.RunCompleted, nil, o.now())
		span.SetStatus(codes.Ok, "")
		o.event(rc, db.EventRunCompleted, "", string(pipeline.RunCompleted), "")
		rc.Log().Info("run completed", "degraded", report.Degraded(), "elapsed", report.TotalTime())
		o.logf("Run %s completed in %s (%d degraded item(s))", id, report.TotalTime().Round(time.Millisecond), report.Degraded())
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		report.Finish(pipeline.RunCancelled, err, o.now())
		span.SetStatus(codes.Error, "cancelled")
		o.event(rc, db.EventRunCancelled, current, string(pipeline.RunCancelled), err.Error())
		rc.Log().Warn("run cancelled", "error", err)
		o.logf("Run %s cancelled", id)
	default:
		stageName := ""
		var rf *RunFailure
		if errors.As(err, &rf) {
			stageName = rf.Stage
		}
		report.Finish(pipeline.RunFailed, err, o.now())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.event(rc, db.EventRunFailed, stageName, string(pipeline.RunFailed), err.Error())
		rc.Log().Error("run failed", "stage", stageName, "error", err)
		o.logf("Run %s failed: %v", id, err)
	}

	if saveErr := o.store.SaveReport(report); saveErr != nil {
		return report, errors.Join(err, fmt.Errorf("save report: %w", saveErr))
	}
	return report, err
}

func (o *Orchestrator) event(rc *pipeline.RunContext, event, stageName, status, detail string) {
	if o.events == nil {
		return
	}
	if err := o.events.LogRunEvent(rc.SessionID, event, stageName, status, detail); err != nil {
		rc.Log().Warn("event log write failed", "event", event, "error", err)
	}
}

// run is the state of one pipeline run. Each stage reads what earlier
// stages produced and adds its own outputs.
type run struct {
	o      *Orchestrator
	rc     *pipeline.RunContext
	report *pipeline.BuildReport

	script   schema.FullScript
	scenes   []sceneOut
	images   map[string]imageOut
	voices   map[int]schema.VoiceAsset
	degraded []string
}

type sceneOut struct {
	pkg      schema.ScenePackage
	degraded bool
	// frames holds the run-unique frame id of each visual; empty when the
	// visual gets no image.
	frames []string
}

type imageOut struct {
	asset    schema.ImageAsset
	degraded bool
}

type stageBuilder struct {
	name    string
	build   func(r *run) (stage.Def, error)
	collect func(r *run, res *pipeline.StageResult)
}

var stageGraph = []stageBuilder{
	{pipeline.StageScript, (*run).scriptStage, (*run).collectScript},
	{pipeline.StageScenes, (*run).scenesStage, (*run).collectScenes},
	{pipeline.StageImages, (*run).imagesStage, (*run).collectImages},
	{pipeline.StageVoice, (*run).voiceStage, (*run).collectVoices},
	{pipeline.StageAssembly, (*run).assemblyStage, nil},
}

func (r *run) execute(ctx context.Context) error {
	for _, sb := range stageGraph {
		if err := r.runStage(ctx, sb); err != nil {
			return err
		}
	}
	return nil
}

// runStage builds, runs and collects one stage. A panic anywhere in it
// fails the run like a panic inside a work item does.
func (r *run) runStage(ctx context.Context, sb stageBuilder) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &RunFailure{Stage: sb.name, Reason: "unexpected error",
				Cause: &stage.PanicError{Stage: sb.name, Value: v, Stack: debug.Stack()}}
		}
	}()

	o := r.o
	settings := o.cfg.StageSettings(sb.name)

	r.report.CurrentStage = sb.name
	if err := o.store.SaveReport(r.report); err != nil {
		return &RunFailure{Stage: sb.name, Reason: "persist report", Cause: err}
	}

	def, err := sb.build(r)
	if err != nil {
		return &RunFailure{Stage: sb.name, Reason: "prepare stage", Cause: err}
	}
	def.Name = sb.name
	def.Timeout = settings.Timeout
	def.Workers = settings.Workers
	def.MaxRevisions = settings.MaxRevisions

	res, err := o.engine.Run(ctx, r.rc, def)
	if ctxErr := ctx.Err(); ctxErr != nil {
		// The partial stage is discarded.
		return ctxErr
	}
	if err != nil {
		r.report.AddStage(sb.name, res.Report())
		return &RunFailure{Stage: sb.name, Reason: "unexpected error", Cause: err}
	}

	r.report.AddStage(sb.name, res.Report())
	r.noteDegraded(res)
	if records := res.Records(); len(records) > 0 {
		var out any = records
		if len(records) == 1 && (sb.name == pipeline.StageScript || sb.name == pipeline.StageAssembly) {
			out = records[0]
		}
		if err := o.store.SaveStageOutput(r.rc.SessionID, sb.name, out); err != nil {
			return &RunFailure{Stage: sb.name, Reason: "persist stage output", Cause: err}
		}
	}
	if o.events != nil {
		if err := o.events.LogStage(r.rc.SessionID, res); err != nil {
			r.rc.Log().Warn("event log write failed", "stage", sb.name, "error", err)
		}
	}
	o.event(r.rc, db.EventStageCompleted, sb.name, string(res.Status), "")
	o.logf("  %s: %s (%d/%d ok, %d degraded) in %s", sb.name, res.Status,
		res.Counts.Succeeded, res.Counts.Total, res.Counts.Degraded, res.Duration.Round(time.Millisecond))

	if res.Status == pipeline.StageFailed {
		if settings.Required {
			return &RunFailure{Stage: sb.name, Reason: "stage produced no usable items"}
		}
		r.rc.Log().Warn("optional stage failed, continuing", "stage", sb.name)
	}
	if sb.collect != nil {
		sb.collect(r, res)
	}
	return nil
}

func (r *run) noteDegraded(res *pipeline.StageResult) {
	for _, id := range res.Degraded {
		r.degraded = append(r.degraded, res.Name+"/"+id)
	}
}
