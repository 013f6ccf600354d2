package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWarmCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Load recently used persisted entries into memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			n, err := s.cache.Warm(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "warmed %d entries\n", n)
			return nil
		},
	}
}
