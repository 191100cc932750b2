// Package central is the gateway to the central relational store.
//
// All access goes through a bounded connection Pool
// and the retry wrapper Do,
// which classifies failures through the backend's Dialect.
// Dialects live in subpackages and register themselves when imported:
//
//	import _ "github.com/bobg/tokensync/central/pg"
package central

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/metrics"
	"github.com/bobg/tokensync/retry"
)

// Gateway is the only path to the central store.
type Gateway struct {
	db      *sql.DB
	pool    *Pool
	dialect Dialect
	policy  retry.Policy
	chunk   int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Open opens the store named by conf.Driver and conf.DSN
// and makes sure its schema exists.
func Open(ctx context.Context, conf tokensync.StoreConfig, logger *zap.Logger, m *metrics.Metrics) (*Gateway, error) {
	d, err := Lookup(conf.Driver)
	if err != nil {
		return nil, errors.Wrap(err, "looking up store driver")
	}
	db, err := sql.Open(d.DriverName(), conf.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s store", conf.Driver)
	}
	g := New(db, d, conf, logger, m)
	if err := g.EnsureSchema(ctx); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// New produces a Gateway over db.
// It takes ownership of db; Close closes it.
func New(db *sql.DB, d Dialect, conf tokensync.StoreConfig, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.DefaultPolicy()
	if conf.MaxAttempts > 0 {
		policy.MaxAttempts = conf.MaxAttempts
	}
	if conf.InitialDelay > 0 {
		policy.InitialDelay = conf.InitialDelay
	}
	if conf.MaxDelay > 0 {
		policy.MaxDelay = conf.MaxDelay
	}

	chunk := conf.ChunkSize
	if chunk <= 0 {
		chunk = 1000
	}
	if max := d.MaxParams() / len(recordColumns); chunk > max {
		chunk = max
	}

	return &Gateway{
		db:      db,
		pool:    NewPool(db, conf.PoolSize),
		dialect: d,
		policy:  policy,
		chunk:   chunk,
		logger:  logger,
		metrics: m,
	}
}

// ChunkSize is the number of records written per transaction.
func (g *Gateway) ChunkSize() int { return g.chunk }

// Close releases the pool and the database handle.
func (g *Gateway) Close() error {
	err := g.pool.Close()
	if err2 := g.db.Close(); err == nil {
		err = err2
	}
	return err
}

func (g *Gateway) retryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}
	return g.dialect.Retryable(err) || Retryable(err)
}

// Do runs fn on a pooled connection under the retry policy.
// A connection on which fn failed transiently is discarded
// and the next attempt acquires a fresh one.
//
// Failures come back as a *StoreError
// matching ErrStoreTransient (retries exhausted) or ErrStoreFatal,
// except that cancellation of ctx is returned as is.
func (g *Gateway) Do(ctx context.Context, op string, fn func(context.Context, *sql.Conn) error) error {
	policy := g.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		g.metrics.Retried()
		g.logger.Warn("retrying store operation",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	_, err := retry.Do(ctx, policy, g.retryable, func(ctx context.Context) error {
		conn, err := g.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		err = fn(ctx, conn)
		if err != nil && g.retryable(err) {
			g.pool.Discard(conn)
			return err
		}
		g.pool.Release(conn)
		return err
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, op)
	}
	var ex *retry.ExhaustedError
	if stderrs.As(err, &ex) {
		return &StoreError{Op: op, Transient: true, Err: err}
	}
	return &StoreError{Op: op, Err: err}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	return g.Do(ctx, "ensuring schema", func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, g.dialect.Schema())
		return err
	})
}

// Ping checks that the store is reachable, retrying transient failures.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.Do(ctx, "pinging", checkConn)
}

// Clear deletes all token records and incremental-sync state.
// Session history is kept.
func (g *Gateway) Clear(ctx context.Context) error {
	return g.Do(ctx, "clearing", func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, q := range []string{`DELETE FROM token_records`, `DELETE FROM processed_sources`} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// CountRecords returns the number of rows in token_records.
func (g *Gateway) CountRecords(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM token_records`

	var n int
	err := g.Do(ctx, "counting records", func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, q).Scan(&n)
	})
	return n, err
}
