// Command tokensync collects token metadata from node ledgers into a central store.
//
// Usage:
//
//	tokensync [-config FILE] [-v] run [-clear] [-force-refetch] [-essential-only] [-test-only] [-root DIR] [-metrics-addr ADDR]
//	tokensync [-config FILE] [-v] test [-root DIR]
//	tokensync [-config FILE] [-v] audit
//	tokensync [-config FILE] [-v] cleanup-locks [-root DIR]
//
// Setting fetcher.type to "mem" gives a dry run:
// every record is extracted and stored, and no content store is contacted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobg/subcmd"
	"go.uber.org/zap"

	"github.com/bobg/tokensync"
	_ "github.com/bobg/tokensync/central/pg"
	_ "github.com/bobg/tokensync/central/sqlite3"
	_ "github.com/bobg/tokensync/content/logging"
	_ "github.com/bobg/tokensync/content/lru"
	_ "github.com/bobg/tokensync/content/mem"
)

type maincmd struct {
	conf   tokensync.Config
	logger *zap.Logger
}

func main() {
	var (
		config  = flag.String("config", "", "path to config file (default: search for tokensync.yaml)")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	conf, err := loadConfig(*config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Loading config: %s\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Creating logger: %s\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn("got signal, stopping", zap.Stringer("signal", sig))
		cancel()
	}()

	err = subcmd.Run(ctx, maincmd{conf: conf, logger: logger}, flag.Args())
	if err != nil {
		logger.Error("exiting", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func (c maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"run", c.run, subcmd.Params(
			"clear", subcmd.Bool, false, "delete all records and incremental state first",
			"force-refetch", subcmd.Bool, false, "fetch every payload even if already stored",
			"essential-only", subcmd.Bool, false, "skip enrichment, keep stored payloads",
			"test-only", subcmd.Bool, false, "check connectivity and exit without writing",
			"root", subcmd.String, "", "directory to scan (default from config)",
			"metrics-addr", subcmd.String, "", "serve Prometheus metrics on this address during the run",
		),
		"test", c.test, subcmd.Params(
			"root", subcmd.String, "", "directory to scan (default from config)",
		),
		"audit", c.audit, nil,
		"cleanup-locks", c.cleanupLocks, subcmd.Params(
			"root", subcmd.String, "", "directory to scan (default from config)",
		),
	)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
