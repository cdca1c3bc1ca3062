package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "refresh <repo id>...",
		Short: "Schedule config repositories for a refresh",
		Long: `Ask the server to fetch config repositories now instead of waiting for
the next poll or webhook.

Examples:
  cruise refresh app
  cruise refresh --all`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("at least one repo id is required, or --all")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return runRefresh(ctx, cmd.OutOrStdout(), newAPIClient(), args, all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Refresh every config repository")
	return cmd
}

func runRefresh(ctx context.Context, out io.Writer, c *apiClient, ids []string, all bool) error {
	if all {
		repos, err := c.configRepos(ctx)
		if err != nil {
			return err
		}
		ids = nil
		for _, r := range repos {
			ids = append(ids, r.ID)
		}
	}
	for _, id := range ids {
		msg, err := c.refresh(ctx, id)
		if err != nil {
			return err
		}
		successColor.Fprint(out, "✓ ")
		fmt.Fprintln(out, msg)
	}
	return nil
}
