package central

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"sync"

	"github.com/pkg/errors"
)

// Pool size bounds.
const (
	MinPoolSize     = 3
	MaxPoolSize     = 10
	DefaultPoolSize = 5
)

// Pool is a bounded set of dedicated connections.
// At most size connections are checked out at once.
// Idle connections are checked before reuse.
type Pool struct {
	db   *sql.DB
	sem  chan struct{}
	size int

	mu   sync.Mutex
	idle []*sql.Conn
}

// NewPool produces a Pool over db holding up to size connections,
// clamped to [MinPoolSize, MaxPoolSize].
func NewPool(db *sql.DB, size int) *Pool {
	switch {
	case size <= 0:
		size = DefaultPoolSize
	case size < MinPoolSize:
		size = MinPoolSize
	case size > MaxPoolSize:
		size = MaxPoolSize
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(size)
	return &Pool{
		db:   db,
		sem:  make(chan struct{}, size),
		size: size,
	}
}

// Size is the pool's connection bound.
func (p *Pool) Size() int { return p.size }

// Acquire checks out a live connection,
// waiting for one to be released if the pool is exhausted.
// Every successful Acquire must be matched by Release or Discard.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		conn := p.popIdle()
		if conn == nil {
			break
		}
		if err := checkConn(ctx, conn); err == nil {
			return conn, nil
		}
		discard(conn)
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		<-p.sem
		return nil, errors.Wrap(err, "opening connection")
	}
	return conn, nil
}

// Release returns conn to the pool.
func (p *Pool) Release(conn *sql.Conn) {
	p.mu.Lock()
	if len(p.idle) < p.size {
		p.idle = append(p.idle, conn)
		conn = nil
	}
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	<-p.sem
}

// Discard closes conn for good, freeing its slot.
// Use it for connections that failed mid-operation.
func (p *Pool) Discard(conn *sql.Conn) {
	discard(conn)
	<-p.sem
}

// Close closes all idle connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, conn := range idle {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) popIdle() *sql.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	conn := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return conn
}

func checkConn(ctx context.Context, conn *sql.Conn) error {
	var one int
	return conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// discard makes database/sql drop the underlying driver connection
// instead of returning it to its own idle list.
func discard(conn *sql.Conn) {
	conn.Raw(func(interface{}) error { return driver.ErrBadConn })
	conn.Close()
}
