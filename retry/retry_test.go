package retry

import (
	"context"
	stderrs "errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func isTransient(err error) bool { return stderrs.Is(err, errTransient) }

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		Jitter:       0.5,
	}
}

func TestTransientThenSuccess(t *testing.T) {
	const failures = 3

	var (
		calls    int
		observed []int
	)
	p := fastPolicy(5)
	p.OnRetry = func(attempt int, err error, _ time.Duration) {
		observed = append(observed, attempt)
	}

	retries, err := Do(context.Background(), p, isTransient, func(context.Context) error {
		calls++
		if calls <= failures {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if retries != failures {
		t.Errorf("got %d retries, want %d", retries, failures)
	}
	if calls != failures+1 {
		t.Errorf("got %d calls, want %d", calls, failures+1)
	}
	if len(observed) != failures {
		t.Errorf("OnRetry called %d times, want %d", len(observed), failures)
	}
}

func TestFatalNotRetried(t *testing.T) {
	var calls int
	retries, err := Do(context.Background(), fastPolicy(5), isTransient, func(context.Context) error {
		calls++
		return errors.Wrap(errFatal, "inserting")
	})
	if !stderrs.Is(err, errFatal) {
		t.Fatalf("got %v, want errFatal", err)
	}
	if calls != 1 || retries != 0 {
		t.Errorf("got %d calls and %d retries, want 1 and 0", calls, retries)
	}
}

func TestExhausted(t *testing.T) {
	var calls int
	_, err := Do(context.Background(), fastPolicy(3), isTransient, func(context.Context) error {
		calls++
		return errTransient
	})
	var ex *ExhaustedError
	if !stderrs.As(err, &ex) {
		t.Fatalf("got %v, want *ExhaustedError", err)
	}
	if ex.Attempts != 3 || calls != 3 {
		t.Errorf("got %d attempts (%d calls), want 3", ex.Attempts, calls)
	}
	if !stderrs.Is(err, errTransient) {
		t.Error("exhausted error does not unwrap to the last failure")
	}
}

func TestCanceledStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(10)
	p.InitialDelay = time.Hour
	p.MaxDelay = time.Hour
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	var calls int
	_, err := Do(ctx, p, isTransient, func(context.Context) error {
		calls++
		return errTransient
	})
	if !stderrs.Is(err, errTransient) {
		t.Errorf("got %v, want errTransient", err)
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestSchedule(t *testing.T) {
	p := Policy{
		MaxAttempts:  6,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
	}
	var delays []time.Duration
	p.OnRetry = func(_ int, _ error, d time.Duration) {
		delays = append(delays, d)
	}
	retries, err := Do(context.Background(), p, isTransient, func(context.Context) error {
		return errTransient
	})
	var ex *ExhaustedError
	if !stderrs.As(err, &ex) {
		t.Fatalf("got %v, want *ExhaustedError", err)
	}
	if retries != 5 {
		t.Errorf("got %d retries, want 5", retries)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}
	if diff := cmp.Diff(want, delays); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestJitterBounds(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: 0.2}
	for i := 0; i < 20; i++ {
		var got time.Duration
		p.OnRetry = func(_ int, _ error, d time.Duration) { got = d }
		Do(context.Background(), p, isTransient, func(context.Context) error { return errTransient })
		if got < 8*time.Millisecond || got > 12*time.Millisecond {
			t.Fatalf("jittered delay %s out of [8ms, 12ms]", got)
		}
	}
}
