// Package main provides the entry point for the flowrun CLI.
package main

import (
	"os"

	"github.com/mpeters8/flowrun/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
