// Package main provides the CLI for the suppress provider-directory
// suppression engine.
package main

import (
	"os"

	"github.com/provdir-labs/suppress/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
