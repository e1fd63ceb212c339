// Package main is the entry point of the leapgraph CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/leapgraph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
