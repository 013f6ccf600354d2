package main

import (
	"os"

	"github.com/hupe1980/framecache/cmd/framecache/commands"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		commands.PrintErr(os.Stderr, "Error: %v", err)
		os.Exit(1)
	}
}
