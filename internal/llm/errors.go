package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/openai/openai-go"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindTransport Kind = "transport"
	KindRateLimit Kind = "rate_limit"
	KindAuth      Kind = "auth"
	KindQuota     Kind = "quota"
	KindPolicy    Kind = "policy"
	KindInvalid   Kind = "invalid_request"
	KindCanceled  Kind = "canceled"
	KindUnknown   Kind = "unknown"
)

// Retryable reports whether a failure of this kind may succeed on retry.
// Unknown failures are retried; the attempt cap bounds the cost.
func (k Kind) Retryable() bool {
	switch k {
	case KindAuth, KindQuota, KindPolicy, KindInvalid, KindCanceled:
		return false
	}
	return true
}

// Error is a classified generation failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError returns an *Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err and returns it as an *Error. Errors that are already
// classified are returned unchanged; nil stays nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: Classify(err), Message: err.Error(), Cause: err}
}

// Matched against lowercased error text, non-retryable first.
var (
	messageKinds = []struct {
		needle string
		kind   Kind
	}{
		{"invalid api key", KindAuth},
		{"incorrect api key", KindAuth},
		{"unauthorized", KindAuth},
		{"permission denied", KindAuth},
		{"forbidden", KindAuth},
		{"quota exceeded", KindQuota},
		{"insufficient_quota", KindQuota},
		{"billing", KindQuota},
		{"content policy", KindPolicy},
		{"content_policy", KindPolicy},
		{"safety filter", KindPolicy},
		{"content_filter", KindPolicy},
		{"rate limit", KindRateLimit},
		{"too many requests", KindRateLimit},
		{"timeout", KindTransport},
		{"timed out", KindTransport},
		{"connection", KindTransport},
		{"network", KindTransport},
		{"server error", KindTransport},
		{"internal error", KindTransport},
		{"service unavailable", KindTransport},
		{"bad gateway", KindTransport},
		{"gateway timeout", KindTransport},
		{"eof", KindTransport},
	}
)

// Classify maps an error to a Kind. The result depends only on the error's
// type, status code and text, so the same error always classifies the same.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		detail := strings.Join([]string{apiErr.Code, apiErr.Type, apiErr.Message}, " ")
		if k := classifyStatus(apiErr.StatusCode, detail); k != KindUnknown {
			return k
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}
	return classifyMessage(err.Error())
}

func classifyStatus(status int, msg string) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 402:
		return KindQuota
	case status == 429:
		if k := classifyMessage(msg); k == KindQuota {
			return k
		}
		return KindRateLimit
	case status == 408 || status == 409 || status >= 500:
		return KindTransport
	case status == 400 || status == 404 || status == 422:
		if k := classifyMessage(msg); k == KindPolicy {
			return k
		}
		return KindInvalid
	}
	return KindUnknown
}

func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, mk := range messageKinds {
		if strings.Contains(lower, mk.needle) {
			return mk.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether err may succeed on retry.
func Retryable(err error) bool {
	return Classify(err).Retryable()
}
