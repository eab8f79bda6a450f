// Package main provides the entry point for the triage CLI.
package main

import (
	"os"

	"github.com/randalmurphal/triage/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
