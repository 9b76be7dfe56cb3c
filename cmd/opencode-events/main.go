// Package main provides the entry point for the opencode-events CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/eventstream/cmd/opencode-events/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
