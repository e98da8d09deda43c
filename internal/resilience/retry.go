// Package resilience holds the two bounded retry policies: capability
// invocation retry with exponential backoff behind a process-wide ceiling,
// and the model-assisted script repair loop.
package resilience

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"autotool/internal/apperr"
	"autotool/internal/logging"
	"autotool/internal/telemetry"
)

// transientMarkers are the message fragments that make an error retryable.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"econnrefused",
	"econnreset",
	"etimedout",
	"eai_again",
	"socket hang up",
	"network",
}

// IsTransient reports whether err looks like a transient network failure.
// Validation, not-found and terminal errors are never transient, whatever
// their message says.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.KindTransient:
		return true
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindGlobalRetryExceeded, apperr.KindScriptExecutionFailed:
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Counter is the process-wide attempt counter. Once it exceeds its limit,
// every further attempt anywhere fails with GlobalRetryExceeded.
type Counter struct {
	n     atomic.Int64
	limit int64
}

// NewCounter creates a counter with the given ceiling.
func NewCounter(limit int64) *Counter {
	return &Counter{limit: limit}
}

// Acquire accounts for one attempt, or fails if the ceiling has been passed.
func (c *Counter) Acquire(op string) error {
	if n := c.n.Load(); n > c.limit {
		return apperr.Errorf(apperr.KindGlobalRetryExceeded, op,
			"global retry limit of %d exceeded (%d attempts)", c.limit, n)
	}
	c.n.Add(1)
	return nil
}

// Count returns the attempts counted so far.
func (c *Counter) Count() int64 { return c.n.Load() }

// Limit returns the ceiling.
func (c *Counter) Limit() int64 { return c.limit }

// Exceeded reports whether the ceiling has been passed.
func (c *Counter) Exceeded() bool { return c.n.Load() > c.limit }

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

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

// RetryConfig controls capability-invocation retry.
type RetryConfig struct {
	// MaxAttempts including the first (>= 1).
	MaxAttempts int
	// BaseDelay; the wait after failed attempt i (0-based) is BaseDelay * 2^i.
	BaseDelay time.Duration
	// Sleep is replaced in tests.
	Sleep SleepFunc
}

// Retrier applies RetryConfig and charges every attempt to a shared Counter.
type Retrier struct {
	cfg     RetryConfig
	counter *Counter
}

// NewRetrier creates a Retrier. counter must be shared by every Retrier in
// the process for the ceiling to mean anything.
func NewRetrier(cfg RetryConfig, counter *Counter) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if counter == nil {
		counter = NewCounter(1000)
	}
	return &Retrier{cfg: cfg, counter: counter}
}

// Counter returns the shared counter.
func (r *Retrier) Counter() *Counter { return r.counter }

// Backoff returns the wait after failed attempt i (0-based).
func (r *Retrier) Backoff(attempt int) time.Duration {
	return r.cfg.BaseDelay * time.Duration(1<<uint(attempt))
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := r.counter.Acquire(op); err != nil {
			logging.ResilienceWarn("%s: %v", op, err)
			return nil, err
		}
		telemetry.Metrics().Retries.Add(ctx, 1)

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
		if attempt == r.cfg.MaxAttempts-1 {
			break
		}

		delay := r.Backoff(attempt)
		logging.ResilienceDebug("%s: transient failure (attempt %d/%d), retrying in %v: %v",
			op, attempt+1, r.cfg.MaxAttempts, delay, err)
		if err := r.cfg.Sleep(ctx, delay); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, op, lastErr).With("cancelled", err.Error())
		}
	}

	var ae *apperr.Error
	if errors.As(lastErr, &ae) && ae.Kind == apperr.KindTransient {
		return nil, lastErr
	}
	return nil, apperr.Wrap(apperr.KindTransient, op, lastErr).With("attempts", r.cfg.MaxAttempts)
}
