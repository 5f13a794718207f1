package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// printOutput prints rows as a table, or v as JSON when --output=json.
func printOutput(cmd *cobra.Command, v any, header []string, rows [][]string) error {
	out := cmd.OutOrStdout()
	if flagString(cmd, "output") == "json" {
		return printJSON(out, v)
	}
	tw := tablewriter.NewWriter(out)
	tw.SetHeader(header)
	tw.SetAutoWrapText(false)
	tw.AppendBulk(rows)
	tw.Render()
	return nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
