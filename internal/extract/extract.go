// Package extract turns untrusted model text into validated records. It
// never fails: unrecoverable input yields a degraded fallback record.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/lucasnoah/reelfactory/internal/fallback"
	"github.com/lucasnoah/reelfactory/internal/normalize"
	"github.com/lucasnoah/reelfactory/internal/schema"
)

// MaxAttempts bounds the parse attempts made for one input, whatever its
// length: one direct parse, one repair chain, and the rest on truncated
// prefixes.
const MaxAttempts = 50

const partialBudget = MaxAttempts - 2

// Strategy names the path that produced a Result.
type Strategy string

const (
	StrategyDirect   Strategy = "direct"
	StrategyRepaired Strategy = "repaired"
	StrategyPartial  Strategy = "partial"
	StrategyFallback Strategy = "fallback"
)

// ErrNoBoundary means the text holds no {...} span at all.
var ErrNoBoundary = errors.New("no JSON object boundary found")

// ParseError means no strategy could parse the extracted span.
type ParseError struct {
	Attempts int
	Last     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ParseError) Unwrap() error { return e.Last }

// ValidationError means a parsed record failed its schema after
// normalization.
type ValidationError struct {
	Schema string
	Errors []schema.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for i, fe := range e.Errors {
		if i == 3 {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(e.Errors)-3))
			break
		}
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("%s validation failed: %s", e.Schema, strings.Join(msgs, "; "))
}

// Result is the tagged outcome of one extraction.
type Result struct {
	Record   schema.Record
	Strategy Strategy
	// Degraded is set for partial and fallback results.
	Degraded bool
	Attempts int
	// Repairs lists the repair passes applied before the text parsed.
	Repairs []string
	// Err is why the record is degraded: ErrNoBoundary, *ParseError,
	// *ValidationError, or nil for clean results.
	Err           error
	Normalization normalize.Report
}

// Reason is Err as text, or "" when extraction was clean.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ValidationErrors returns the schema violations behind a fallback, if any.
func (r Result) ValidationErrors() []schema.FieldError {
	var ve *ValidationError
	if errors.As(r.Err, &ve) {
		return ve.Errors
	}
	return nil
}

// Options carries per-item extraction settings.
type Options struct {
	// ItemID is written into the schema's ID field of both parsed and
	// fallback records.
	ItemID string
}

// Extractor converts model text into records of registered schemas.
type Extractor struct {
	registry *schema.Registry
	fallback *fallback.Builder
	logger   *slog.Logger
}

// New returns an Extractor. A nil logger discards log output.
func New(registry *schema.Registry, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{
		registry: registry,
		fallback: fallback.NewBuilder(registry),
		logger:   logger,
	}
}

// Extract parses raw into a validated record of the named schema.
func (e *Extractor) Extract(raw, schemaName string, opts Options) (res Result) {
	log := e.logger.With("schema", schemaName, "item", opts.ItemID)

	s, ok := e.registry.Get(schemaName)
	if !ok {
		return Result{
			Record:   e.fallback.BuildDefault(schemaName, opts.ItemID),
			Strategy: StrategyFallback,
			Degraded: true,
			Err:      fmt.Errorf("unknown schema %q", schemaName),
		}
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("extraction panicked", "panic", p)
			res = e.degrade(s, opts, res.Attempts, fmt.Errorf("extraction panicked: %v", p))
		}
	}()

	span, ok := Boundary(raw)
	if !ok {
		log.Debug("no JSON boundary", "raw_len", len(raw))
		return e.degrade(s, opts, 0, ErrNoBoundary)
	}

	parsed, strategy, repairs, attempts, err := parseSpan(span)
	if err != nil {
		log.Debug("all parse strategies failed", "attempts", attempts, "err", err)
		return e.degrade(s, opts, attempts, &ParseError{Attempts: attempts, Last: err})
	}

	if id, ok := s.PinID(opts.ItemID); ok {
		parsed[s.IDField] = id
	}
	data, report := normalize.NormalizeWithReport(parsed, s)
	if len(report.Dropped) > 0 {
		log.Debug("dropped unrecognized fields", "paths", report.Dropped)
	}
	if errs := s.Validate(data); len(errs) > 0 {
		log.Debug("validation failed after normalization", "errors", len(errs))
		res := e.degrade(s, opts, attempts, &ValidationError{Schema: s.Name, Errors: errs})
		res.Normalization = report
		return res
	}

	degraded := strategy == StrategyPartial
	if strategy != StrategyDirect {
		log.Debug("recovered model output", "strategy", strategy, "repairs", repairs, "attempts", attempts)
	}
	return Result{
		Record: schema.Record{
			Schema:   s.Name,
			Version:  s.Version,
			Data:     data,
			Degraded: degraded,
		},
		Strategy:      strategy,
		Degraded:      degraded,
		Attempts:      attempts,
		Repairs:       repairs,
		Normalization: report,
	}
}

func (e *Extractor) degrade(s *schema.Schema, opts Options, attempts int, err error) Result {
	return Result{
		Record:   fallback.Build(s, opts.ItemID),
		Strategy: StrategyFallback,
		Degraded: true,
		Attempts: attempts,
		Err:      err,
	}
}

// parseSpan runs direct parse, the repair chain, then repair on
// progressively shorter prefixes. It makes at most MaxAttempts attempts.
func parseSpan(span string) (map[string]any, Strategy, []string, int, error) {
	attempts := 1
	m, err := parseObject(span)
	if err == nil {
		return m, StrategyDirect, nil, attempts, nil
	}

	attempts++
	if m, repairs, rerr := repairAndParse(span); rerr == nil {
		return m, StrategyRepaired, repairs, attempts, nil
	}

	step := (len(span) + partialBudget - 1) / partialBudget
	if step < 1 {
		step = 1
	}
	for i := 1; i <= partialBudget; i++ {
		cut := len(span) - i*step
		if cut < 2 {
			break
		}
		for cut > 0 && !utf8.RuneStart(span[cut]) {
			cut--
		}
		attempts++
		if m, repairs, rerr := repairAndParse(span[:cut]); rerr == nil {
			return m, StrategyPartial, repairs, attempts, nil
		}
	}
	return nil, StrategyFallback, nil, attempts, err
}

// repairAndParse applies the repair passes in order, re-parsing after each
// one that changed the text.
func repairAndParse(s string) (map[string]any, []string, error) {
	var applied []string
	lastErr := errors.New("no repair applied")
	for _, p := range repairPasses {
		next := p.fn(s)
		if next == s {
			continue
		}
		s = next
		applied = append(applied, p.name)
		m, err := parseObject(s)
		if err == nil {
			return m, applied, nil
		}
		lastErr = err
	}
	return nil, applied, lastErr
}

var errNotObject = errors.New("top-level JSON value is not an object")

// parseObject decodes exactly one JSON object, keeping numbers exact.
func parseObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return m, nil
}
