package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rzbill/cruise/pkg/configrepo"
	"github.com/rzbill/cruise/pkg/merge"
	"github.com/rzbill/cruise/pkg/partial"
	"github.com/spf13/cobra"
)

// errValidationFailed is returned once the failures have been printed.
var errValidationFailed = errors.New("configuration is invalid")

type validateOptions struct {
	mainFile string
	format   string
	quiet    bool
}

func newValidateCmd() *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate [partial directory]...",
		Short: "Merge and validate configuration locally",
		Long: `Merge the main configuration file with the configuration partials found in
the given directories and validate the result, the way the server does
after a config repository changes.

Each directory is treated as the checkout of one config repository.

Examples:
  # Validate the main file on its own
  cruise validate --main cruise-config.yaml

  # Validate the main file together with two checkouts
  cruise validate --main cruise-config.yaml ./app ./infra

  # Output failures in JSON format for CI/CD integration
  cruise validate --main cruise-config.yaml --format json ./app`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.mainFile, "main", "m", "", "Main configuration file")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Output format (text, json)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print failures")
	return cmd
}

func runValidate(out io.Writer, opts *validateOptions, dirs []string) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unsupported format %q", opts.format)
	}
	cfg, err := loadLocal(opts.mainFile, dirs)
	if err != nil {
		return err
	}
	failures, err := cfg.Validate(merge.ValidationContext{})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(failureReport(failures)); err != nil {
			return err
		}
	} else {
		printFailures(out, failures)
		if len(failures) == 0 && !opts.quiet {
			successColor.Fprintf(out, "✓ Configuration is valid (%d pipelines, %d partials)\n",
				len(cfg.AllPipelines()), len(cfg.Partials()))
		}
	}
	if len(failures) > 0 {
		return errValidationFailed
	}
	return nil
}

type failureJSON struct {
	Entity string              `json:"entity"`
	Origin string              `json:"origin"`
	Errors map[string][]string `json:"errors"`
}

func failureReport(failures []merge.ValidationFailure) []failureJSON {
	report := make([]failureJSON, 0, len(failures))
	for _, f := range failures {
		errs := map[string][]string{}
		for _, field := range f.Errors.Fields() {
			errs[field] = f.Errors.On(field)
		}
		report = append(report, failureJSON{Entity: f.Entity, Origin: f.Origin, Errors: errs})
	}
	return report
}

func printFailures(out io.Writer, failures []merge.ValidationFailure) {
	for _, f := range failures {
		errorColor.Fprintf(out, "✗ %s", f.Entity)
		fileColor.Fprintf(out, " (%s)\n", f.Origin)
		for _, field := range f.Errors.Fields() {
			for _, msg := range f.Errors.On(field) {
				fmt.Fprintf(out, "    %s: ", hintColor.Sprint(field))
				fmt.Fprintln(out, msg)
			}
		}
	}
	if n := len(failures); n > 0 {
		errorColor.Fprintf(out, "\n%d %s failed validation\n", n, plural(n, "entity", "entities"))
	}
}

// loadLocal merges mainFile with one partial per directory. Each directory
// gets a repo origin named after it at the digest of its contents.
func loadLocal(mainFile string, dirs []string) (*merge.CruiseConfig, error) {
	main := &merge.PartialConfig{Origin: merge.FileOrigin{}}
	if mainFile != "" {
		p, err := partial.LoadFile(mainFile, merge.FileOrigin{Path: mainFile})
		if err != nil {
			return nil, err
		}
		main = p
	}

	partials := make([]*merge.PartialConfig, 0, len(dirs))
	for _, dir := range dirs {
		files, err := partial.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		origin := merge.RepoOrigin{
			Repo:     merge.ConfigRepo{ID: filepath.Base(abs), URL: abs},
			Revision: configrepo.Digest(files),
		}
		p, err := partial.Parse(files, origin)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		partials = append(partials, p)
	}
	return merge.Merge(main, partials...)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
