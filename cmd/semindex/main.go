// Package main provides the entry point for the semindex CLI.
package main

import (
	"os"

	"github.com/semindex/semindex/cmd/semindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
