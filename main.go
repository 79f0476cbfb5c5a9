// Package main is the entry point for the protdict command-line tool.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/zjrosen/protdict/cmd"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date))

	err := cmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, cmd.ErrSnapshotsDiffer):
		// Same convention as diff(1): 1 for differences, 2 for trouble.
		os.Exit(1)
	default:
		os.Exit(2)
	}
}
