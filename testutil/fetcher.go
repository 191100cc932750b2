package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/bobg/tokensync"
)

// Fetcher is a scripted tokensync.Fetcher.
// It answers from Payloads, returns Errs[id] when set,
// and sleeps Delay, or Delays[id] when set, honoring ctx.
// It records every call and the peak number of concurrent calls.
type Fetcher struct {
	Payloads map[string]string
	Errs     map[string]error
	Delay    time.Duration
	Delays   map[string]time.Duration

	mu       sync.Mutex
	calls    []string
	inflight int
	peak     int
}

var _ tokensync.Fetcher = &Fetcher{}

// Fetch implements tokensync.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, ep tokensync.Endpoint, id string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	delay := f.Delay
	if d, ok := f.Delays[id]; ok {
		delay = d
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	f.mu.Lock()
	err := f.Errs[id]
	payload, ok := f.Payloads[id]
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	if !ok {
		return "", &tokensync.FetchError{Kind: tokensync.FetchNotFound, Detail: id}
	}
	return payload, nil
}

// Calls returns the ids fetched so far, in call order.
func (f *Fetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Peak returns the largest number of calls observed in flight at once.
func (f *Fetcher) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}
