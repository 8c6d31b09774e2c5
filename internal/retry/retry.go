// Package retry wraps outbound calls to creative backends with bounded
// exponential backoff. Only transient failures are retried.
package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	// CallTimeout bounds a single attempt; zero leaves it to the caller's context.
	CallTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// Delay is the wait after failed attempt k (1-based): InitialDelay × Multiplier^(k−1).
func (p Policy) Delay(k int) time.Duration {
	p = p.normalized()
	if k < 1 {
		return 0
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(k-1)))
}

func (p Policy) backOff() backoff.BackOff {
	p = p.normalized()
	if p.InitialDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	return b
}

type Caller struct {
	Policy Policy
	Logger *slog.Logger
}

func NewCaller(p Policy, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{Policy: p, Logger: logger}
}

// Do runs op until it succeeds, fails permanently, or runs out of attempts.
// The error of the last attempt is returned unchanged. Cancelling ctx stops
// retrying at once.
func Do[T any](ctx context.Context, c *Caller, op func(context.Context) (T, error)) (T, error) {
	p := DefaultPolicy()
	logger := slog.Default()
	if c != nil {
		p = c.Policy.normalized()
		if c.Logger != nil {
			logger = c.Logger
		}
	}
	attempt := 0
	operation := func() (T, error) {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		defer cancel()
		res, err := op(callCtx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("transient backend failure, retrying", "attempt", attempt, "max_attempts", p.MaxAttempts, "delay", next, "err", err)
		}),
	)
	// the final attempt may still carry the permanent marker
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return res, err
}

// IsTransient reports whether err is worth another attempt: connection and
// timeout failures, or a backend status that says so.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
