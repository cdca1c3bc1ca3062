package cmd

import (
	"fmt"
	"io"

	"github.com/rzbill/cruise/pkg/merge"
	"github.com/spf13/cobra"
)

func newPipelinesCmd() *cobra.Command {
	var mainFile string
	cmd := &cobra.Command{
		Use:   "pipelines [partial directory]...",
		Short: "List the pipelines of the merged configuration",
		Long: `List every pipeline of the main configuration file merged with the
configuration partials in the given directories, with the group it
belongs to and where it is defined.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadLocal(mainFile, args)
			if err != nil {
				return err
			}
			return renderPipelines(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVarP(&mainFile, "main", "m", "", "Main configuration file")
	return cmd
}

func renderPipelines(out io.Writer, cfg *merge.CruiseConfig) error {
	var rows [][]string
	for _, g := range cfg.Groups() {
		for _, p := range g.Pipelines() {
			origin := merge.MainConfigName
			if p.Origin != nil {
				origin = p.Origin.DisplayName()
			}
			rows = append(rows, []string{p.Name, g.Name(), truncate(origin, 40)})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No pipelines found")
		return nil
	}
	return renderTable(out, []string{"PIPELINE", "GROUP", "ORIGIN"}, rows)
}
