// Package ipfs implements a fetcher that reads payloads
// by running the content store's command-line client.
package ipfs

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/content"
)

var _ tokensync.Fetcher = &Fetcher{}

// Fetcher runs `<binary> cat <id>` with IPFS_PATH set to the endpoint directory.
type Fetcher struct {
	// Binary is used when the endpoint names none.
	Binary string
	Logger *zap.Logger
}

// New produces a Fetcher using binary by default.
func New(binary string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{Binary: binary, Logger: logger}
}

// Fetch implements tokensync.Fetcher.
// Failures are *tokensync.FetchError values.
// When the repository lock is held but no daemon is running,
// the stale lock file is removed so a retry can succeed.
func (f *Fetcher) Fetch(ctx context.Context, ep tokensync.Endpoint, id string) (string, error) {
	bin := ep.Binary
	if bin == "" {
		bin = f.Binary
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "cat", id)
	cmd.Env = append(os.Environ(), "IPFS_PATH="+ep.Dir)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", &tokensync.FetchError{Kind: tokensync.FetchTimeout}
		}
		return "", ctxErr
	}
	if err != nil {
		fe := classify(err, stderr.String())
		if fe.Kind == tokensync.FetchTransport && strings.Contains(fe.Detail, "repo.lock") {
			if removed, err := ClearStaleLock(ep.Dir); err != nil {
				f.Logger.Warn("removing stale repo lock", zap.String("repo", ep.Dir), zap.Error(err))
			} else if removed {
				f.Logger.Info("removed stale repo lock", zap.String("repo", ep.Dir))
			}
		}
		return "", fe
	}
	return strings.TrimSpace(stdout.String()), nil
}

func classify(err error, stderr string) *tokensync.FetchError {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	}
	lower := strings.ToLower(detail)

	var execErr *exec.Error
	switch {
	case errors.As(err, &execErr), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return &tokensync.FetchError{Kind: tokensync.FetchTransport, Detail: detail}
	case strings.Contains(lower, "not found"),
		strings.Contains(lower, "no link"),
		strings.Contains(lower, "invalid"):
		return &tokensync.FetchError{Kind: tokensync.FetchNotFound, Detail: detail}
	case strings.Contains(lower, "repo.lock"),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "api file"),
		strings.Contains(lower, "daemon"):
		return &tokensync.FetchError{Kind: tokensync.FetchTransport, Detail: detail}
	}
	return &tokensync.FetchError{Kind: tokensync.FetchUnknown, Detail: detail}
}

// ClearStaleLock removes <dir>/repo.lock unless <dir>/api shows a running daemon.
// It reports whether a lock file was removed.
func ClearStaleLock(dir string) (bool, error) {
	if _, err := os.Stat(filepath.Join(dir, "api")); err == nil {
		return false, nil
	}
	err := os.Remove(filepath.Join(dir, "repo.lock"))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func init() {
	content.Register("ipfs", func(ctx context.Context, conf map[string]interface{}) (tokensync.Fetcher, error) {
		binary, _ := conf["binary"].(string)
		if binary == "" {
			binary = "ipfs"
		}
		logger := content.LoggerFrom(conf)
		if _, err := exec.LookPath(binary); err != nil {
			logger.Warn("default content-store binary not found; relying on per-node binaries", zap.String("binary", binary), zap.Error(err))
		}
		return New(binary, logger), nil
	})
}
