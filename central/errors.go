package central

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrStoreTransient matches a *StoreError whose retries were exhausted.
	ErrStoreTransient = errors.New("transient store error")

	// ErrStoreFatal matches a *StoreError that was not worth retrying.
	ErrStoreFatal = errors.New("fatal store error")
)

// StoreError is a classified central store failure.
type StoreError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s (%s): %s", e.Op, kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is matches ErrStoreTransient or ErrStoreFatal according to e.Transient.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrStoreTransient:
		return e.Transient
	case ErrStoreFatal:
		return !e.Transient
	}
	return false
}

// Retryable reports whether err is a connection-level failure
// that is transient on any backend.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "bad connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
