// Package main is the CLI entry point for relay, the multi-agent coding
// orchestration engine.
package main

import (
	"fmt"
	"os"

	"github.com/conductor-forge/relay/internal/cmd"
)

// Version is the current version of the relay application.
const Version = "0.1.0"

func main() {
	rootCmd := cmd.NewRootCommand(Version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
