// Package logging implements a fetcher that delegates to a nested fetcher,
// logging calls as they happen.
package logging

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/content"
)

var _ tokensync.Fetcher = &Fetcher{}

type Fetcher struct {
	f      tokensync.Fetcher
	logger *zap.Logger
}

func New(f tokensync.Fetcher, logger *zap.Logger) *Fetcher {
	return &Fetcher{f: f, logger: logger}
}

func (f *Fetcher) Fetch(ctx context.Context, ep tokensync.Endpoint, id string) (string, error) {
	start := time.Now()
	payload, err := f.f.Fetch(ctx, ep, id)
	fields := []zap.Field{
		zap.String("id", id),
		zap.String("endpoint", ep.Dir),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		f.logger.Warn("fetch failed", append(fields, zap.Error(err))...)
	} else {
		f.logger.Debug("fetched", append(fields, zap.Int("bytes", len(payload)))...)
	}
	return payload, err
}

func init() {
	content.Register("logging", func(ctx context.Context, conf map[string]interface{}) (tokensync.Fetcher, error) {
		nested, err := content.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested, content.LoggerFrom(conf)), nil
	})
}
