// Package retry retries transient failures with exponential backoff and
// jitter, and bounds single attempts with a deadline.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	ierr "github.com/mark3labs/taskr/internal/errors"
	"github.com/mark3labs/taskr/internal/logger"
)

// Config controls the backoff schedule.
type Config struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap for any single delay
	Multiplier float64       // growth factor per retry
	Jitter     float64       // random extra delay as a fraction of the delay, 0..1
}

// Default returns 3 retries starting at 1s, doubling, capped at 30s, with 20% jitter.
func Default() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// Delay returns the backoff before retry number n (0-based), without jitter.
func (c Config) Delay(n int) time.Duration {
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.BaseDelay) * math.Pow(mult, float64(n))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

func (c Config) jittered(n int) time.Duration {
	d := c.Delay(n)
	if c.Jitter <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*c.Jitter*float64(d))
}

// Do calls fn until it succeeds, returns a non-transient error, or MaxRetries
// retries are used up. Sleeping between attempts stops early when ctx is done.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.jittered(attempt - 1)
			logger.Warn("retrying after transient error (attempt %d/%d, waiting %s): %v",
				attempt+1, cfg.MaxRetries+1, delay.Round(time.Millisecond), lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), err))
		}
		if !IsTransient(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("giving up after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// WithTimeout runs fn with a deadline of d. If the deadline elapses (and the
// parent ctx is still live) the error is a transient timeout.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	result, err := fn(tctx)
	if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, ierr.NewTransientError("request", fmt.Errorf("timed out after %s: %w", d, err))
	}
	return result, err
}

// statusCoder is implemented by provider HTTP errors.
type statusCoder interface {
	StatusCode() int
}

var transientStatus = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true, 529: true,
}

var transientSubstrings = []string{
	"timeout", "timed out", "deadline exceeded",
	"connection refused", "connection reset", "econnreset", "econnrefused", "etimedout",
	"broken pipe", "unexpected eof",
	"temporarily unavailable", "service unavailable",
	"too many requests", "rate limit", "overloaded",
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch ierr.KindOf(err) {
	case ierr.KindTransient:
		return true
	case ierr.KindValidation, ierr.KindAccessDenied, ierr.KindCommandDenied, ierr.KindNotFound:
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return transientStatus[sc.StatusCode()]
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	lower := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
