package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPreloadCmd(g *globals) *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "preload <source> <start> <end>",
		Short: "Render a frame range into the cache",
		Long: `Queue frames start..end (inclusive, plus the configured margins) and
wait until every missing frame has been generated.

Examples:
  framecache preload intro.mp4 0 299
  FRAMECACHE_PRELOAD_LEADING_MARGIN=0 framecache preload intro.mp4 100 110`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			end, err := parseIndex(args[2])
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			id, err := s.cache.RequestPreload(args[0], start, end, priority)
			if err != nil {
				return fmt.Errorf("preload: %w", err)
			}
			if err := s.cache.WaitPreloads(cmd.Context()); err != nil {
				return fmt.Errorf("preload %s: %w", id, err)
			}

			st := s.cache.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "preload %s done: %d generated, %d in memory, %d persisted\n",
				id, st.Preload.Submitted, st.Memory.Size, st.Persistent.Size)
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "task priority")
	return cmd
}
