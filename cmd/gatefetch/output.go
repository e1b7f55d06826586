package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

var (
	warningStyle = color.New(color.FgYellow)
	headerStyle  = color.New(color.Bold, color.FgCyan)
)

func printWarning(w io.Writer, format string, args ...any) {
	_, _ = warningStyle.Fprintf(w, "warning: "+format+"\n", args...)
}

func printHeading(w io.Writer, format string, args ...any) {
	_, _ = headerStyle.Fprintf(w, format+"\n", args...)
}

// printTable prints rows in a left-aligned table.
func printTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewTable(w)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Header.Alignment.Global = tw.AlignLeft
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	table.Header(headers)
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("build table: %w", err)
	}
	return table.Render()
}
