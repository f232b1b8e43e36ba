package llm

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds retries of retryable generation failures.
type RetryPolicy struct {
	// MaxAttempts counts the first call.
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
}

// DefaultRetryPolicy is used when configuration leaves retry unset.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
}

// Delay returns the wait before retry number attempt (1-based):
// BaseDelay * 2^(attempt-1), scaled by jitter in [0.5, 1.5] and capped at
// MaxDelay. jitter outside that range is clamped.
func (p RetryPolicy) Delay(attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	jitter = min(max(jitter, 0.5), 1.5)

	d := math.Ldexp(float64(p.BaseDelay), attempt-1) * jitter
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Jitter draws a uniform multiplier in [0.5, 1.5).
func Jitter() float64 {
	return 0.5 + rand.Float64()
}
