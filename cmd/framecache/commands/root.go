// Package commands implements the framecache command line interface.
package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	cfgFile string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "framecache",
		Short: "framecache - two-tier frame cache with background generation",
		Long: `framecache renders, caches and preloads frame thumbnails.

It keeps recently used entries in memory, persists scored entries to a
local directory, badger or object storage, and generates misses on a
priority worker pool.

Environment Variables:
  All configuration options can be overridden using environment variables.
  Format: FRAMECACHE_<SECTION>_<KEY>

  Examples:
    FRAMECACHE_LOGGING_LEVEL=debug
    FRAMECACHE_STORAGE_BACKEND=local
    FRAMECACHE_STORAGE_PATH=/var/cache/framecache

Use "framecache [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file (YAML or TOML)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newGetCmd(g))
	root.AddCommand(newPreloadCmd(g))
	root.AddCommand(newStatsCmd(g))
	root.AddCommand(newWarmCmd(g))
	root.AddCommand(newClearCmd(g))
	root.AddCommand(newServeCmd(g))

	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// PrintErr prints an error message to w.
func PrintErr(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "framecache %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}
