package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [repo id]",
		Short: "Show the state of the server's config repositories",
		Long: `Show the last known and last valid revision of every config repository
known to the server, together with the latest fetch or parse error.

When the merged configuration currently falls back to last valid
partials, the entities that failed validation are listed as well.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return runStatus(ctx, cmd.OutOrStdout(), newAPIClient(), args)
		},
	}
}

func runStatus(ctx context.Context, out io.Writer, c *apiClient, args []string) error {
	var repos []repoStatus
	if len(args) == 1 {
		repo, err := c.configRepo(ctx, args[0])
		if err != nil {
			return err
		}
		repos = []repoStatus{*repo}
	} else {
		list, err := c.configRepos(ctx)
		if err != nil {
			return err
		}
		repos = list
	}

	if len(repos) == 0 {
		fmt.Fprintln(out, "No config repositories configured")
	} else {
		rows := make([][]string, 0, len(repos))
		for _, r := range repos {
			status := successColor.Sprint("OK")
			if r.Error != "" {
				status = errorColor.Sprint(truncate(r.Error, 60))
			} else if r.LastKnownRevision != r.LastValidRevision {
				status = hintColor.Sprint("INVALID")
			}
			rows = append(rows, []string{r.ID, r.URL, shortRevision(r.LastKnownRevision), shortRevision(r.LastValidRevision), status})
		}
		if err := renderTable(out, []string{"ID", "URL", "LAST KNOWN", "LAST VALID", "STATUS"}, rows); err != nil {
			return err
		}
	}

	if len(args) == 1 {
		return nil
	}
	cfg, err := c.config(ctx)
	if err != nil {
		// The server answers 503 until the first merge succeeds.
		mutedColor.Fprintf(out, "Configuration: %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "Configuration loaded at %s\n", cfg.LoadedAt.Local().Format(time.RFC3339))
	if cfg.Fallback {
		hintColor.Fprintln(out, "Using last valid partials; the latest revisions failed validation:")
		for _, f := range cfg.Failures {
			fmt.Fprintf(out, "  %s %s\n", errorColor.Sprint(f.Entity), fileColor.Sprintf("(%s)", f.Origin))
		}
	}
	return nil
}

func shortRevision(rev string) string {
	if rev == "" {
		return "-"
	}
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
