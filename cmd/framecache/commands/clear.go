package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd(g *globals) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached entries",
		Long: `Remove every cached entry, or only those of one source.

Examples:
  framecache clear
  framecache clear --source intro.mp4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if source != "" {
				n := s.cache.DeleteBySource(cmd.Context(), source)
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries of %s\n", n, source)
				return nil
			}
			s.cache.Clear(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "only remove entries of this source")
	return cmd
}
