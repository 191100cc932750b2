package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/tokensync/central"
)

func (c maincmd) audit(ctx context.Context, _ []string) error {
	g, err := central.Open(ctx, c.conf.Store, c.logger, nil)
	if err != nil {
		return errors.Wrap(err, "opening central store")
	}
	defer g.Close()

	mismatches, err := g.Mismatches(ctx)
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		fmt.Printf("%s\n", m.TokenID)
		for _, r := range m.Reports {
			fmt.Printf("  %s/%s: %q\n", r.SourceIdentity, r.Node, r.Payload)
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d tokens with conflicting payloads", len(mismatches))
	}
	fmt.Println("No conflicting payloads")
	return nil
}
