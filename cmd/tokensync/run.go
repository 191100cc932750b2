package main

import (
	"context"
	stderrs "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobg/flock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/central"
	"github.com/bobg/tokensync/content"
	"github.com/bobg/tokensync/metrics"
	"github.com/bobg/tokensync/syncer"
)

// lockName is locked as <state dir>/tokensync, i.e. the file <state dir>/tokensync.lock.
const lockName = "tokensync"

// lockDur is how long a run lock survives without a refresh.
const lockDur = 2 * time.Minute

func (c maincmd) run(ctx context.Context, clearFirst, forceRefetch, essentialOnly, testOnly bool, root, metricsAddr string, _ []string) error {
	conf := c.conf
	if root != "" {
		conf.Root = root
	}
	if forceRefetch {
		// Cached payloads would defeat the refetch.
		conf.Fetcher.CacheSize = 0
	}

	if testOnly {
		return c.connectivity(ctx, conf)
	}

	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.New()
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := m.Serve(mctx, metricsAddr, c.logger); err != nil {
				c.logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	unlock, err := lockRun(conf.StateDir, c.logger)
	if err != nil {
		return err
	}
	defer unlock()

	g, err := central.Open(ctx, conf.Store, c.logger, m)
	if err != nil {
		return errors.Wrap(err, "opening central store")
	}
	defer g.Close()

	f, err := newFetcher(ctx, conf, c.logger)
	if err != nil {
		return err
	}

	o := syncer.New(conf, g, f, c.logger, m)
	s, err := o.Run(ctx, syncer.Options{
		Clear:         clearFirst,
		ForceRefetch:  forceRefetch,
		EssentialOnly: essentialOnly,
	})
	printSummary(s)
	if err != nil {
		return err
	}
	if s.Status != tokensync.StatusCompleted {
		return fmt.Errorf("session %s ended %s", s.SessionID, s.Status)
	}
	return nil
}

func newFetcher(ctx context.Context, conf tokensync.Config, logger *zap.Logger) (tokensync.Fetcher, error) {
	fconf := content.ConfigMap(conf.Fetcher, logger)
	typ, _ := fconf["type"].(string)
	f, err := content.Create(ctx, typ, fconf)
	return f, errors.Wrapf(err, "creating %s fetcher", conf.Fetcher.Type)
}

// lockRun takes the run lock in stateDir,
// failing if another run on this machine holds it.
// The lock is refreshed until the returned function releases it.
func lockRun(stateDir string, logger *zap.Logger) (func(), error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating state dir %s", stateDir)
	}

	var (
		path   = filepath.Join(stateDir, lockName)
		locker = flock.Locker{LockDur: lockDur}
	)
	err := locker.Lock(path)
	if stderrs.Is(err, flock.ErrLocked) {
		return nil, errors.Wrapf(err, "another run holds %s.lock", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "locking %s", path)
	}
	logger.Debug("acquired run lock", zap.String("path", path))

	var (
		done    = make(chan struct{})
		stopped = make(chan struct{})
	)
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(lockDur / 4)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := locker.Refresh(path); err != nil {
					logger.Warn("refreshing run lock", zap.String("path", path), zap.Error(err))
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		if err := locker.Unlock(path); err != nil {
			logger.Warn("releasing run lock", zap.String("path", path), zap.Error(err))
		}
	}, nil
}

func printSummary(s *tokensync.SyncSession) {
	if s == nil {
		return
	}
	fmt.Printf("Session %s: %s\n", s.SessionID, s.Status)
	fmt.Printf("  sources:     %d found, %d processed\n", s.SourcesFound, s.SourcesProcessed)
	fmt.Printf("  records:     %d processed, %d invalid\n", s.RecordsProcessed, s.ValidationErrors)
	fmt.Printf("  enrichment:  %d ok, %d failed\n", s.EnrichmentSuccess, s.EnrichmentFail)
	fmt.Printf("  store:       %d written, %d failed\n", s.StoreInserts, s.StoreErrors)
	for _, e := range s.ErrorSummary {
		fmt.Printf("  error: %s\n", e)
	}
}
