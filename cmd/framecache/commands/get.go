package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hupe1980/framecache/model"
	"github.com/spf13/cobra"
)

func newGetCmd(g *globals) *cobra.Command {
	var (
		output   string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "get <source> <index>",
		Short: "Fetch a thumbnail, generating it on a miss",
		Long: `Fetch the thumbnail of one frame. A miss in both tiers renders the
frame on the worker pool and stores the result.

Examples:
  # Print entry details
  framecache get intro.mp4 42

  # Write the JPEG payload to a file
  framecache get intro.mp4 42 -o frame42.jpg`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			key := model.NewKey(args[0], index)
			e, err := s.cache.GetOrGenerate(cmd.Context(), key, priority)
			if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}

			if output != "" {
				if err := os.WriteFile(output, e.Payload, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d bytes (source %dx%d)\n",
				key, e.ContentType, e.SizeBytes, e.Original.Width, e.Original.Height)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the payload to this file")
	cmd.Flags().IntVar(&priority, "priority", 0, "generation priority on a miss")
	return cmd
}

func parseIndex(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid frame index %q: %w", s, err)
	}
	return uint32(n), nil
}
