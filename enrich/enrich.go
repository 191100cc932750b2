// Package enrich attaches content-store payloads to token records
// using a bounded pool of concurrent fetches.
package enrich

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/metrics"
	"github.com/bobg/tokensync/retry"
)

// MaxErrorLen caps the stored enrichment error message.
const MaxErrorLen = 500

// Messages recorded for records that are never fetched.
const (
	msgEmptyID          = "empty identifier"
	msgEndpointNotFound = "endpoint not found"
)

// Pool enriches records concurrently.
type Pool struct {
	Fetcher tokensync.Fetcher
	Workers int

	// Timeout bounds each fetch attempt.
	Timeout time.Duration

	// Retry governs transport-class failures.
	// Timeouts and other kinds are not retried.
	Retry retry.Policy

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// New produces a Pool configured from conf.
func New(f tokensync.Fetcher, conf tokensync.Config, logger *zap.Logger, m *metrics.Metrics) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		Fetcher: f,
		Workers: conf.FetchWorkers,
		Timeout: conf.FetchTimeout,
		Retry: retry.Policy{
			MaxAttempts:  conf.FetchAttempts,
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			Jitter:       0.2,
		},
		Logger:  logger,
		Metrics: m,
	}
}

// Result counts the outcomes of one Run.
type Result struct {
	Success int
	Fail    int
}

// Run fetches a payload for every record in recs, setting its enrichment fields.
// A nil ep means the node has no endpoint;
// every record then fails with "endpoint not found" without a call.
//
// Per-record failures are recorded on the records, never returned.
// The only error is ctx.Err() when ctx is cancelled,
// in which case records not yet started are left untouched.
func (p *Pool) Run(ctx context.Context, ep *tokensync.Endpoint, recs []*tokensync.TokenRecord) (Result, error) {
	var res Result

	if ep == nil {
		for _, rec := range recs {
			rec.SetEnrichmentError(msgEndpointNotFound)
			p.Metrics.Fetch(msgEndpointNotFound, 0)
		}
		res.Fail = len(recs)
		return res, nil
	}

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	// Each worker writes only its own slot.
	outcomes := make([]int, len(recs)) // 0 untouched, 1 success, -1 failure

	var g errgroup.Group
	g.SetLimit(workers)
	for i, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		i, rec := i, rec
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = p.enrich(ctx, *ep, rec)
			return nil
		})
	}
	g.Wait()

	for _, o := range outcomes {
		switch o {
		case 1:
			res.Success++
		case -1:
			res.Fail++
		}
	}
	return res, ctx.Err()
}

func (p *Pool) enrich(ctx context.Context, ep tokensync.Endpoint, rec *tokensync.TokenRecord) int {
	if rec.TokenID == nil {
		rec.SetEnrichmentError(msgEmptyID)
		p.Metrics.Fetch(msgEmptyID, 0)
		return -1
	}
	id := *rec.TokenID

	var (
		payload string
		start   = time.Now()
	)
	policy := p.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.Logger.Debug("retrying fetch", zap.String("id", id), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	_, err := retry.Do(ctx, policy, isTransport, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		var err error
		payload, err = p.Fetcher.Fetch(callCtx, ep, id)
		return err
	})
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return 0
	}
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			err = ex.Err
		}
		fe := tokensync.ClassifyFetchError(err)
		rec.SetEnrichmentError(truncate(fe.Error(), MaxErrorLen))
		p.Metrics.Fetch(string(fe.Kind), elapsed)
		return -1
	}

	rec.SetEnrichment(payload)
	p.Metrics.Fetch("ok", elapsed)
	return 1
}

func isTransport(err error) bool {
	return tokensync.ClassifyFetchError(err).Kind == tokensync.FetchTransport
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
