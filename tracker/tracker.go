// Package tracker decides which source databases need syncing
// by comparing their modification times with the last committed sync.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/tokensync"
)

// Store persists processed-source rows.
// *central.Gateway implements it.
type Store interface {
	LoadProcessed(context.Context) (map[string]tokensync.ProcessedSource, error)
	RecordProcessed(context.Context, tokensync.ProcessedSource) error
}

// Tracker caches the processed-source rows for the duration of a run.
type Tracker struct {
	store Store

	mu   sync.Mutex
	rows map[string]tokensync.ProcessedSource
}

// New produces a Tracker over s. Call Load before ShouldProcess.
func New(s Store) *Tracker {
	return &Tracker{store: s, rows: make(map[string]tokensync.ProcessedSource)}
}

// Load reads every processed-source row from the store.
func (t *Tracker) Load(ctx context.Context) error {
	rows, err := t.store.LoadProcessed(ctx)
	if err != nil {
		return errors.Wrap(err, "loading processed sources")
	}
	if rows == nil {
		rows = make(map[string]tokensync.ProcessedSource)
	}
	t.mu.Lock()
	t.rows = rows
	t.mu.Unlock()
	return nil
}

// ShouldProcess is true when path has never been recorded
// or mtime is strictly after the recorded modification time.
func (t *Tracker) ShouldProcess(path string, mtime time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	row, ok := t.rows[path]
	if !ok {
		return true
	}
	return mtime.Truncate(time.Microsecond).After(row.LastModified)
}

// Last returns the recorded row for path, if any.
func (t *Tracker) Last(path string) (tokensync.ProcessedSource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[path]
	return row, ok
}

// RecordOutcome stores ps.
// Callers must invoke it only after every chunk of the source committed.
// Nothing is recorded once ctx is cancelled.
func (t *Tracker) RecordOutcome(ctx context.Context, ps tokensync.ProcessedSource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.store.RecordProcessed(ctx, ps); err != nil {
		return errors.Wrapf(err, "recording %s", ps.SourcePath)
	}
	t.mu.Lock()
	t.rows[ps.SourcePath] = ps
	t.mu.Unlock()
	return nil
}
