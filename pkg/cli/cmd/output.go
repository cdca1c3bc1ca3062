package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"golang.org/x/term"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	fileColor    = color.New(color.FgCyan, color.Bold)
	hintColor    = color.New(color.FgYellow)
	successColor = color.New(color.FgGreen, color.Bold)
	mutedColor   = color.New(color.FgHiBlack)
)

// renderTable writes rows under headers with the shared header style.
func renderTable(out io.Writer, headers []string, rows [][]string) error {
	table := pterm.DefaultTable.WithHasHeader(true).
		WithHeaderStyle(pterm.NewStyle(pterm.FgCyan, pterm.Bold)).
		WithData(append([][]string{headers}, rows...))
	s, err := table.Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, s)
	return err
}

// truncate shortens s to fit columns that leave room for the rest of a row
// on the current terminal.
func truncate(s string, reserved int) string {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return s
	}
	max := width - reserved
	if max < 20 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
