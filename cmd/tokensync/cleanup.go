package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/content/ipfs"
	"github.com/bobg/tokensync/source"
)

func (c maincmd) cleanupLocks(ctx context.Context, root string, _ []string) error {
	conf := c.conf
	if root != "" {
		conf.Root = root
	}
	n, err := clearLocks(ctx, conf, c.logger)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d stale repository locks\n", n)
	return nil
}

// clearLocks removes stale repo.lock files from the endpoint of every node under conf.Root.
// Endpoints with a running daemon are left alone.
func clearLocks(ctx context.Context, conf tokensync.Config, logger *zap.Logger) (int, error) {
	layout := source.Layout{Subdir: conf.SourceSubdir, File: conf.SourceFile}
	sources, err := source.Enumerate(ctx, conf.Root, layout, logger)
	if err != nil {
		return 0, err
	}

	var (
		r       = source.NewResolver(conf)
		seen    = make(map[string]bool)
		removed int
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		ep, err := r.Resolve(src.NodeDir)
		if err != nil {
			logger.Debug("no endpoint", zap.String("node", src.NodeDir))
			continue
		}
		if seen[ep.Dir] {
			continue
		}
		seen[ep.Dir] = true

		ok, err := ipfs.ClearStaleLock(ep.Dir)
		if err != nil {
			return removed, errors.Wrapf(err, "clearing lock in %s", ep.Dir)
		}
		if ok {
			removed++
			logger.Info("removed stale repository lock", zap.String("dir", ep.Dir))
		}
	}
	return removed, nil
}
