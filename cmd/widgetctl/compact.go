package main

import (
	"github.com/spf13/cobra"

	"github.com/faciam-dev/widgetdeck/internal/compaction"
)

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Renumber widget positions of every context",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			n, err := compaction.Run(cmd.Context(), a.repo)
			cmd.Printf("compacted %d context(s)\n", n)
			return err
		}),
	}
}
