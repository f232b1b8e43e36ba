// Package stage runs the work items of one pipeline stage: each item calls
// a generation capability, retries transient failures, extracts a record
// from the response and optionally asks the model to revise it.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lucasnoah/reelfactory/internal/extract"
	"github.com/lucasnoah/reelfactory/internal/llm"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

// CallFunc produces raw text for one work item.
type CallFunc func(ctx context.Context) (string, error)

// Item is one unit of work within a stage.
type Item struct {
	ID   string
	Call CallFunc
	// Revise, when set, returns a call that re-prompts the model with
	// feedback about a response that could not be used.
	Revise func(feedback string) CallFunc
}

// Def describes one stage invocation.
type Def struct {
	Name   string
	Schema string
	Items  []Item
	// Timeout bounds each call. Zero means no per-call timeout.
	Timeout time.Duration
	// Workers caps concurrent items; values below 1 mean one at a time.
	Workers      int
	MaxRevisions int
	// OnRaw, when set, receives each raw response before extraction.
	OnRaw func(itemID, raw string)
}

// PanicError reports a recovered panic. Item is empty when the panic
// happened outside a work item.
type PanicError struct {
	Stage string
	Item  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("stage %s panicked: %v", e.Stage, e.Value)
	}
	return fmt.Sprintf("stage %s: item %s panicked: %v", e.Stage, e.Item, e.Value)
}

// Engine executes stages.
type Engine struct {
	extractor *extract.Extractor
	limiter   *rate.Limiter
	tracer    trace.Tracer
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func() float64
	progress  io.Writer
	mu        sync.Mutex // guards progress writes from workers
}

// NewEngine creates a stage engine. limiter is shared by every call the
// engine makes; nil disables rate limiting.
func NewEngine(extractor *extract.Extractor, limiter *rate.Limiter) *Engine {
	return &Engine{
		extractor: extractor,
		limiter:   limiter,
		tracer:    otel.Tracer("github.com/lucasnoah/reelfactory/internal/stage"),
		sleep:     sleepCtx,
		jitter:    llm.Jitter,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// SetTracer overrides the tracer used for stage and item spans.
func (e *Engine) SetTracer(t trace.Tracer) {
	e.tracer = t
}

// SetSleep overrides how the engine waits between retries (for testing).
func (e *Engine) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// SetJitter overrides the backoff jitter source (for testing).
func (e *Engine) SetJitter(fn func() float64) {
	e.jitter = fn
}

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...any) {
	if e.progress == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
}

// Run executes every item of def and aggregates the outcome. Item
// failures are recorded in the result, never returned. The error is
// non-nil only when the run context was cancelled or an item panicked;
// the result is still returned in that case.
func (e *Engine) Run(ctx context.Context, rc *pipeline.RunContext, def Def) (*pipeline.StageResult, error) {
	start := time.Now()
	rc = rc.ForStage(def.Name)
	log := rc.Log()

	ctx, span := e.tracer.Start(ctx, "stage."+def.Name, trace.WithAttributes(
		attribute.String("reelfactory.session_id", rc.SessionID),
		attribute.String("reelfactory.stage", def.Name),
		attribute.Int("reelfactory.items", len(def.Items)),
	))
	defer span.End()

	workers := max(def.Workers, 1)
	e.logf("stage %s: %d item(s), %d worker(s)", def.Name, len(def.Items), workers)

	results := make([]pipeline.ItemResult, len(def.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range def.Items {
		g.Go(func() (err error) {
			defer func() {
				if v := recover(); v != nil {
					results[i] = pipeline.ItemResult{ID: item.ID, State: pipeline.ItemFailed, Reason: fmt.Sprint(v)}
					err = &PanicError{Stage: def.Name, Item: item.ID, Value: v, Stack: debug.Stack()}
				}
			}()
			results[i] = e.runItem(gctx, rc, def, item)
			return nil
		})
	}
	err := g.Wait()

	res := &pipeline.StageResult{Name: def.Name, Items: results, Duration: time.Since(start)}
	res.Aggregate()

	if err == nil {
		err = ctx.Err()
	}
	span.SetAttributes(
		attribute.String("reelfactory.stage_status", string(res.Status)),
		attribute.Int("reelfactory.succeeded", res.Counts.Succeeded),
		attribute.Int("reelfactory.degraded", res.Counts.Degraded),
		attribute.Int("reelfactory.failed", res.Counts.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("stage aborted", "error", err)
		return res, err
	}
	if res.Status == pipeline.StageFailed {
		span.SetStatus(codes.Error, "no item succeeded")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	log.Info("stage finished",
		"status", res.Status,
		"succeeded", res.Counts.Succeeded,
		"degraded", res.Counts.Degraded,
		"failed", res.Counts.Failed,
		"duration", res.Duration.Round(time.Millisecond))
	e.logf("stage %s: %s (%d/%d ok, %d degraded) in %s", def.Name, res.Status,
		res.Counts.Succeeded, res.Counts.Total, res.Counts.Degraded, res.Duration.Round(time.Millisecond))
	return res, nil
}

// runItem drives one item through its lifecycle.
func (e *Engine) runItem(ctx context.Context, rc *pipeline.RunContext, def Def, item Item) pipeline.ItemResult {
	start := time.Now()
	log := rc.Log().With("item", item.ID)
	ctx, span := e.tracer.Start(ctx, "item", trace.WithAttributes(
		attribute.String("reelfactory.stage", def.Name),
		attribute.String("reelfactory.item", item.ID),
	))
	defer span.End()

	res := pipeline.ItemResult{ID: item.ID, State: pipeline.ItemPending, Trace: []pipeline.ItemState{pipeline.ItemPending}}
	to := func(s pipeline.ItemState) {
		res.State = s
		res.Trace = append(res.Trace, s)
	}

	call := item.Call
	for {
		to(pipeline.ItemCallingModel)
		raw, calls, err := e.callWithRetry(ctx, rc, def, item.ID, call)
		res.Calls += calls
		if err != nil {
			kind := llm.Classify(err)
			to(pipeline.ItemFailed)
			res.Reason = err.Error()
			res.Failure = &pipeline.ItemFailure{ItemID: item.ID, Kind: string(kind), Error: err.Error(), Attempts: res.Calls}
			res.Duration = time.Since(start)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("item failed", "kind", kind, "calls", res.Calls, "error", err)
			e.logf("%s/%s: failed (%s): %v", def.Name, item.ID, kind, err)
			return res
		}
		if def.OnRaw != nil {
			def.OnRaw(item.ID, raw)
		}

		to(pipeline.ItemExtracting)
		ex := e.extractor.Extract(raw, def.Schema, extract.Options{ItemID: item.ID})
		to(pipeline.ItemValidating)

		if ex.Strategy == extract.StrategyFallback && item.Revise != nil && res.Revisions < def.MaxRevisions {
			res.Revisions++
			log.Info("requesting revision", "revision", res.Revisions, "reason", ex.Reason())
			e.logf("%s/%s: unusable response, revision %d/%d", def.Name, item.ID, res.Revisions, def.MaxRevisions)
			call = item.Revise(revisionFeedback(ex))
			continue
		}

		res.Record = ex.Record
		res.Strategy = string(ex.Strategy)
		res.Duration = time.Since(start)
		span.SetAttributes(
			attribute.String("reelfactory.strategy", res.Strategy),
			attribute.Int("reelfactory.calls", res.Calls),
		)
		if ex.Degraded {
			to(pipeline.ItemDegraded)
			res.Reason = ex.Reason()
			log.Warn("item degraded", "strategy", ex.Strategy, "reason", res.Reason)
			e.logf("%s/%s: degraded (%s)", def.Name, item.ID, ex.Strategy)
		} else {
			to(pipeline.ItemSucceeded)
			log.Debug("item succeeded", "strategy", ex.Strategy, "attempts", ex.Attempts)
			e.logf("%s/%s: ok (%s)", def.Name, item.ID, ex.Strategy)
		}
		span.SetStatus(codes.Ok, "")
		return res
	}
}

// callWithRetry invokes call until it succeeds, fails with a
// non-retryable error or exhausts the retry policy. It returns the number
// of calls made.
func (e *Engine) callWithRetry(ctx context.Context, rc *pipeline.RunContext, def Def, itemID string, call CallFunc) (string, int, error) {
	policy := rc.Retry
	if policy.MaxAttempts < 1 {
		policy = llm.DefaultRetryPolicy
	}
	log := rc.Log().With("item", itemID)

	for attempt := 1; ; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				return "", attempt - 1, llm.Wrap(err)
			}
		}

		raw, err := e.invoke(ctx, def.Timeout, call)
		if err == nil {
			return raw, attempt, nil
		}
		if ctx.Err() != nil {
			return "", attempt, llm.Wrap(ctx.Err())
		}
		err = llm.Wrap(err)
		kind := llm.Classify(err)
		if !kind.Retryable() || attempt >= policy.MaxAttempts {
			return "", attempt, err
		}

		delay := policy.Delay(attempt, e.jitter())
		log.Warn("retrying call", "attempt", attempt, "kind", kind, "delay", delay, "error", err)
		e.logf("%s/%s: %s error, retry %d/%d in %s", def.Name, itemID, kind, attempt, policy.MaxAttempts-1, delay.Round(time.Millisecond))
		if err := e.sleep(ctx, delay); err != nil {
			return "", attempt, llm.Wrap(err)
		}
	}
}

func (e *Engine) invoke(ctx context.Context, timeout time.Duration, call CallFunc) (string, error) {
	if call == nil {
		return "", llm.NewError(llm.KindInvalid, "item has no call")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return call(ctx)
}

// revisionFeedback describes why a response was rejected.
func revisionFeedback(ex extract.Result) string {
	if errs := ex.ValidationErrors(); len(errs) > 0 {
		msg := "The previous response did not match the required structure:"
		for _, fe := range errs {
			msg += "\n- " + fe.Error()
		}
		return msg
	}
	if errors.Is(ex.Err, extract.ErrNoBoundary) {
		return "The previous response contained no JSON object. Reply with a single JSON object only."
	}
	return "The previous response was not valid JSON (" + ex.Reason() + "). Reply with a single complete JSON object."
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
