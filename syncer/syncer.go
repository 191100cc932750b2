// Package syncer drives a sync run:
// discovery, per-source extraction, enrichment and upsert,
// incremental bookkeeping and the session record.
package syncer

import (
	"context"
	stderrs "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/central"
	"github.com/bobg/tokensync/enrich"
	"github.com/bobg/tokensync/extract"
	"github.com/bobg/tokensync/metrics"
	"github.com/bobg/tokensync/source"
	"github.com/bobg/tokensync/tracker"
)

// Store is the part of the central store gateway the orchestrator uses.
// *central.Gateway implements it.
type Store interface {
	tracker.Store
	Ping(context.Context) error
	Clear(context.Context) error
	InsertSession(context.Context, *tokensync.SyncSession) error
	UpdateSession(context.Context, *tokensync.SyncSession) error
	Upsert(context.Context, []*tokensync.TokenRecord, central.Mode) (central.UpsertResult, error)
	FetchedPayloads(ctx context.Context, sourceIdentity, node string) (map[string]string, error)
}

// Phase is the orchestrator's progress through a run.
type Phase string

// Run phases.
const (
	PhaseStarting    Phase = "STARTING"
	PhaseDiscovering Phase = "DISCOVERING"
	PhaseProcessing  Phase = "PROCESSING"
	PhaseFinalizing  Phase = "FINALIZING"
	PhaseCompleted   Phase = "COMPLETED"
	PhaseFailed      Phase = "FAILED"
	PhaseInterrupted Phase = "INTERRUPTED"
)

// MaxErrorSummary caps the number of entries in a session's error summary.
const MaxErrorSummary = 1000

// finalizeTimeout bounds the session update after the run context is done.
const finalizeTimeout = 30 * time.Second

// Options modify a single run.
type Options struct {
	// Clear deletes all records and incremental state before the run.
	Clear bool

	// ForceRefetch ignores payloads already in the central store.
	ForceRefetch bool

	// EssentialOnly skips enrichment and leaves stored payloads alone.
	EssentialOnly bool
}

// Orchestrator runs sync sessions.
// An Orchestrator runs one session at a time.
type Orchestrator struct {
	conf     tokensync.Config
	store    Store
	resolver *source.Resolver
	pool     *enrich.Pool
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	phase    Phase
	session  *tokensync.SyncSession
	overflow int
}

// New produces an Orchestrator.
// The logger and metrics may be nil.
func New(conf tokensync.Config, store Store, f tokensync.Fetcher, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		conf:     conf,
		store:    store,
		resolver: source.NewResolver(conf),
		pool:     enrich.New(f, conf, logger, m),
		logger:   logger,
		metrics:  m,
	}
}

// Phase reports the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	o.logger.Debug("phase", zap.String("phase", string(p)))
}

// Run performs one sync session and returns its final record.
//
// Per-source and per-record failures are recorded in the session
// and do not make Run fail.
// Run returns an error matching tokensync.ErrRunAborted when the central store
// became unusable (status FAILED),
// ctx's error when ctx was cancelled (status INTERRUPTED),
// and any error that prevented the run from starting.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*tokensync.SyncSession, error) {
	o.setPhase(PhaseStarting)

	identity := o.conf.SourceIdentity
	if identity == "" {
		identity = DetectIdentity()
	}
	s := &tokensync.SyncSession{
		SessionID:      uuid.New().String(),
		StartTime:      time.Now().UTC().Truncate(time.Microsecond),
		SourceIdentity: identity,
		Status:         tokensync.StatusRunning,
	}
	o.mu.Lock()
	o.session = s
	o.overflow = 0
	o.mu.Unlock()

	logger := o.logger.With(zap.String("session", s.SessionID))
	logger.Info("starting sync", zap.String("root", o.conf.Root), zap.String("source_identity", identity))

	if err := o.store.InsertSession(ctx, s); err != nil {
		o.setPhase(PhaseFailed)
		s.Status = tokensync.StatusFailed
		return s, errors.Wrap(err, "recording session start")
	}

	runErr := o.run(ctx, s, opts, logger)
	return o.finalize(ctx, s, runErr, logger)
}

func (o *Orchestrator) run(ctx context.Context, s *tokensync.SyncSession, opts Options, logger *zap.Logger) error {
	if opts.Clear {
		logger.Info("clearing central store")
		if err := o.store.Clear(ctx); err != nil {
			return errors.Wrap(err, "clearing")
		}
	}

	tr := tracker.New(o.store)
	if err := tr.Load(ctx); err != nil {
		return err
	}

	o.setPhase(PhaseDiscovering)
	layout := source.Layout{Subdir: o.conf.SourceSubdir, File: o.conf.SourceFile}
	sources, err := source.Enumerate(ctx, o.conf.Root, layout, logger)
	if err != nil {
		return errors.Wrap(err, "discovering sources")
	}
	o.count(tokensync.Counters{SourcesFound: len(sources)})
	logger.Info("discovered sources", zap.Int("count", len(sources)))

	o.setPhase(PhaseProcessing)
	ex := extract.New(o.conf, s.SourceIdentity, logger)

	workers := o.conf.SourceWorkers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, src := range sources {
		if gctx.Err() != nil {
			break
		}
		if !tr.ShouldProcess(src.Path, src.ModTime) {
			logger.Debug("source unchanged, skipping", zap.String("source", src.Path))
			o.metrics.Source("skipped")
			continue
		}
		src := src
		g.Go(func() error {
			return o.processSource(gctx, s.SourceIdentity, src, ex, tr, opts, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (o *Orchestrator) finalize(ctx context.Context, s *tokensync.SyncSession, runErr error, logger *zap.Logger) (*tokensync.SyncSession, error) {
	o.setPhase(PhaseFinalizing)

	var (
		status = tokensync.StatusCompleted
		phase  = PhaseCompleted
	)
	switch {
	case ctx.Err() != nil:
		status, phase = tokensync.StatusInterrupted, PhaseInterrupted
		runErr = ctx.Err()
	case runErr != nil:
		status, phase = tokensync.StatusFailed, PhaseFailed
		o.addError(runErr.Error())
	}

	o.mu.Lock()
	end := time.Now().UTC().Truncate(time.Microsecond)
	s.EndTime = &end
	s.Status = status
	if o.overflow > 0 {
		s.ErrorSummary = append(s.ErrorSummary, fmt.Sprintf("(%d more errors not shown)", o.overflow))
	}
	o.mu.Unlock()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := o.store.UpdateSession(fctx, s); err != nil {
		logger.Error("recording session end", zap.Error(err))
		if runErr == nil {
			runErr = errors.Wrap(err, "recording session end")
		}
	}

	o.metrics.Session(string(status))
	o.setPhase(phase)
	logger.Info("sync finished",
		zap.String("status", string(status)),
		zap.Duration("elapsed", end.Sub(s.StartTime)),
		zap.Int("sources_found", s.SourcesFound),
		zap.Int("sources_processed", s.SourcesProcessed),
		zap.Int("records", s.RecordsProcessed),
		zap.Int("enriched", s.EnrichmentSuccess),
		zap.Int("enrichment_failures", s.EnrichmentFail),
		zap.Int("stored", s.StoreInserts),
		zap.Int("store_errors", s.StoreErrors),
		zap.Int("validation_errors", s.ValidationErrors))
	return s, runErr
}

// sourceStats accumulates the outcome of one source.
type sourceStats struct {
	tokensync.Counters
	exhausted int
}

func (o *Orchestrator) processSource(ctx context.Context, identity string, src source.Source, ex *extract.Extractor, tr *tracker.Tracker, opts Options, logger *zap.Logger) error {
	start := time.Now()
	logger = logger.With(zap.String("source", src.Path), zap.String("node", src.Node))

	var ep *tokensync.Endpoint
	if !opts.EssentialOnly {
		resolved, err := o.resolver.Resolve(src.NodeDir)
		if err != nil {
			logger.Warn("no content-store endpoint; records will not be enriched", zap.Error(err))
		} else {
			ep = &resolved
		}
	}

	// Stored payloads are kept even when the endpoint is gone.
	var cached map[string]string
	if !opts.EssentialOnly && !opts.ForceRefetch {
		var err error
		cached, err = o.store.FetchedPayloads(ctx, identity, src.Node)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("reading stored payloads; fetching everything", zap.Error(err))
		}
	}

	var (
		stats sourceStats
		batch = make([]*tokensync.TokenRecord, 0, o.conf.BatchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := o.processBatch(ctx, ep, batch, cached, opts, &stats)
		batch = make([]*tokensync.TokenRecord, 0, o.conf.BatchSize)
		return err
	}

	_, err := ex.Extract(ctx, src, func(rec *tokensync.TokenRecord) error {
		if ep != nil {
			rec.EndpointPath = tokensync.StrPtr(ep.Dir)
		}
		batch = append(batch, rec)
		if len(batch) >= o.conf.BatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}

	stats.SourcesProcessed = 1
	if err != nil {
		stats.SourcesProcessed = 0
	}
	o.count(stats.Counters)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("source failed", zap.Error(err))
		o.metrics.Source("failed")
		o.addError(err.Error())
		return nil
	}

	if stats.exhausted > 0 {
		if err := o.store.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(tokensync.ErrRunAborted, "central store unavailable after %s: %s", src.Path, err)
		}
	}
	if stats.StoreErrors > 0 {
		o.metrics.Source("failed")
		o.addError(fmt.Sprintf("%s: %d records not stored; source will be retried", src.Path, stats.StoreErrors))
		return nil
	}

	if opts.EssentialOnly {
		// Not marked processed, so the next full run still enriches this source.
		o.metrics.Source("processed")
		logger.Info("source synced without enrichment",
			zap.Int("records", stats.RecordsProcessed),
			zap.Int("stored", stats.StoreInserts),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	}

	ps := tokensync.ProcessedSource{
		SourcePath:             src.Path,
		LastModified:           src.ModTime,
		LastProcessed:          time.Now().UTC().Truncate(time.Microsecond),
		RecordCount:            stats.RecordsProcessed,
		EnrichmentSuccessCount: stats.EnrichmentSuccess,
		EnrichmentFailCount:    stats.EnrichmentFail,
		ValidationErrorCount:   stats.ValidationErrors,
		ProcessingDuration:     time.Since(start),
	}
	if err := tr.RecordOutcome(ctx, ps); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.addError(err.Error())
		return nil
	}

	o.metrics.Source("processed")
	logger.Info("source synced",
		zap.Int("records", stats.RecordsProcessed),
		zap.Int("enriched", stats.EnrichmentSuccess),
		zap.Int("enrichment_failures", stats.EnrichmentFail),
		zap.Int("stored", stats.StoreInserts),
		zap.Duration("elapsed", ps.ProcessingDuration))
	return nil
}

func (o *Orchestrator) processBatch(ctx context.Context, ep *tokensync.Endpoint, batch []*tokensync.TokenRecord, cached map[string]string, opts Options, stats *sourceStats) error {
	stats.RecordsProcessed += len(batch)
	o.metrics.Extracted(len(batch))

	if !opts.EssentialOnly {
		var toFetch []*tokensync.TokenRecord
		for _, rec := range batch {
			if payload, ok := cached[rec.IdentityKey]; ok && rec.TokenID != nil {
				rec.SetEnrichment(payload)
				stats.EnrichmentSuccess++
				o.metrics.Fetch("cached", 0)
				continue
			}
			toFetch = append(toFetch, rec)
		}
		res, err := o.pool.Run(ctx, ep, toFetch)
		stats.EnrichmentSuccess += res.Success
		stats.EnrichmentFail += res.Fail
		if err != nil {
			return err
		}
	}

	for _, rec := range batch {
		if !rec.Validate() {
			stats.ValidationErrors++
		}
	}

	mode := central.ModeFull
	if opts.EssentialOnly || ep == nil {
		mode = central.ModeEssential
	}
	res, err := o.store.Upsert(ctx, batch, mode)
	stats.StoreInserts += res.Inserted
	stats.StoreErrors += res.Failed
	stats.exhausted += res.Exhausted
	return err
}

func (o *Orchestrator) count(c tokensync.Counters) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.Counters.Add(c)
}

func (o *Orchestrator) addError(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.session.ErrorSummary) >= MaxErrorSummary {
		o.overflow++
		return
	}
	o.session.ErrorSummary = append(o.session.ErrorSummary, msg)
}

// IsAborted reports whether err ended a run as FAILED.
func IsAborted(err error) bool {
	return stderrs.Is(err, tokensync.ErrRunAborted)
}
