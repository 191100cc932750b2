package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/central"
	"github.com/bobg/tokensync/source"
)

func (c maincmd) test(ctx context.Context, root string, _ []string) error {
	conf := c.conf
	if root != "" {
		conf.Root = root
	}
	return c.connectivity(ctx, conf)
}

// connectivity checks the central store, the source tree and the fetcher.
// It writes nothing.
func (c maincmd) connectivity(ctx context.Context, conf tokensync.Config) error {
	d, err := central.Lookup(conf.Store.Driver)
	if err != nil {
		return errors.Wrap(err, "looking up store driver")
	}
	db, err := sql.Open(d.DriverName(), conf.Store.DSN)
	if err != nil {
		return errors.Wrapf(err, "opening %s store", conf.Store.Driver)
	}
	g := central.New(db, d, conf.Store, c.logger, nil)
	defer g.Close()

	if err := g.Ping(ctx); err != nil {
		return errors.Wrap(err, "central store")
	}
	fmt.Printf("Central store (%s): ok\n", conf.Store.Driver)

	layout := source.Layout{Subdir: conf.SourceSubdir, File: conf.SourceFile}
	sources, err := source.Enumerate(ctx, conf.Root, layout, c.logger)
	if err != nil {
		return err
	}
	var (
		r       = source.NewResolver(conf)
		missing int
	)
	for _, src := range sources {
		if _, err := r.Resolve(src.NodeDir); err != nil {
			missing++
			fmt.Printf("  no endpoint: %s\n", src.NodeDir)
		}
	}
	fmt.Printf("Sources under %s: %d found, %d without an endpoint\n", conf.Root, len(sources), missing)

	if _, err := newFetcher(ctx, conf, c.logger); err != nil {
		return err
	}
	fmt.Printf("Fetcher (%s): ok\n", conf.Fetcher.Type)
	return nil
}
