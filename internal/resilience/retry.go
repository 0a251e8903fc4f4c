// Package resilience layers timeouts, bounded exponential backoff and rate
// limiting around calls to external services. Clients stay single-shot; the
// policy is applied by wrapping them with the decorators in this package.
package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"pdfrag/internal/domain"
)

// Policy bounds the attempts made for a single logical call.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// BaseDelay is the first backoff delay; it doubles on each retry.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff delay.
	MaxDelay time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// DefaultPolicy retries three times starting at 250ms, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second, Timeout: time.Minute}
}

// NoRetry runs a call exactly once with the given timeout.
func NoRetry(timeout time.Duration) Policy {
	return Policy{Timeout: timeout}
}

func (p Policy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// Do runs fn until it succeeds, returns a permanent error, or the policy is
// exhausted. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, log logrus.FieldLogger, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return err
		}
		if log != nil {
			log.WithFields(logrus.Fields{"op": op, "attempt": attempt}).WithError(err).Warn("transient failure, backing off")
		}
		return retry.RetryableError(err)
	})
}

func (p Policy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	err := fn(actx)
	if err != nil && actx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return &TransientError{Err: err}
	}
	return err
}

// TransientError marks an error as worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Retryable marks err as transient. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsRetryable reports whether err is worth another attempt. Context errors
// and configuration errors never are; errors marked with Retryable and
// network errors are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrDimensionMismatch) || errors.Is(err, domain.ErrNoCollection) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
