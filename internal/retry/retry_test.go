package retry_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"scenecraft/internal/retry"
)

type statusErr struct {
	code      int
	transient bool
}

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) Transient() bool { return e.transient }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func fastCaller(attempts int) *retry.Caller {
	return retry.NewCaller(retry.Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 2}, nil)
}

func TestDefaultDelays(t *testing.T) {
	p := retry.DefaultPolicy()
	if p.MaxAttempts != 3 {
		t.Fatalf("max attempts %d", p.MaxAttempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for k, d := range want {
		if got := p.Delay(k + 1); got != d {
			t.Fatalf("Delay(%d) = %s want %s", k+1, got, d)
		}
	}
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	got, err := retry.Do(context.Background(), fastCaller(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &statusErr{code: 503, transient: true}
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Do = %q, %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestLastErrorPropagatesUnchanged(t *testing.T) {
	calls := 0
	last := &statusErr{code: 429, transient: true}
	_, err := retry.Do(context.Background(), fastCaller(3), func(ctx context.Context) (int, error) {
		calls++
		if calls == 3 {
			return 0, last
		}
		return 0, &statusErr{code: 503, transient: true}
	})
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
	if err != last {
		t.Fatalf("got %v (%T), want the last attempt's error", err, err)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	calls := 0
	perm := &statusErr{code: 400}
	_, err := retry.Do(context.Background(), fastCaller(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, perm
	})
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
	if err != perm {
		t.Fatalf("got %v, want unchanged permanent error", err)
	}
}

func TestPermanentOnFinalAttemptUnwrapped(t *testing.T) {
	calls := 0
	perm := errors.New("bad request")
	_, err := retry.Do(context.Background(), fastCaller(2), func(ctx context.Context) (int, error) {
		calls++
		if calls == 2 {
			return 0, perm
		}
		return 0, io.ErrUnexpectedEOF
	})
	if err != perm {
		t.Fatalf("got %v (%T)", err, err)
	}
}

func TestCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	caller := retry.NewCaller(retry.Policy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2}, nil)
	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(ctx, caller, func(ctx context.Context) (int, error) {
			calls++
			return 0, syscall.ECONNREFUSED
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not stop on cancel")
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"503", &statusErr{code: 503, transient: true}, true},
		{"400", &statusErr{code: 400}, false},
		{"wrapped 429", fmt.Errorf("call: %w", &statusErr{code: 429, transient: true}), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"timeout", timeoutErr{}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("bad json"), false},
	}
	for _, tc := range cases {
		if got := retry.IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v want %v", tc.name, got, tc.want)
		}
	}
}
