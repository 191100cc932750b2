//go:build mage
// +build mage

package main

import (
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

var Default = Build

func Build() error {
	return sh.Run(mg.GoCmd(), "build", "-o", "tokensync", "./cmd/tokensync")
}

func Test() error {
	args := []string{"test"}
	if mg.Verbose() {
		args = append(args, "-v")
	}
	args = append(args, "./...")
	return sh.Run(mg.GoCmd(), args...)
}

// PGTest runs the central-store tests against the Postgres server named by $TOKENSYNC_PG_TESTING_CONN.
func PGTest() error {
	conn := os.Getenv("TOKENSYNC_PG_TESTING_CONN")
	if conn == "" {
		return errors.New("TOKENSYNC_PG_TESTING_CONN not set")
	}
	env := map[string]string{"TOKENSYNC_PG_TESTING_CONN": conn}
	return sh.RunWith(env, mg.GoCmd(), "test", "-count=1", "./central/...")
}

func Vet() error {
	return sh.Run(mg.GoCmd(), "vet", "./...")
}

func Lint() error {
	mg.Deps(Vet)
	return sh.Run("staticcheck", "./...")
}
