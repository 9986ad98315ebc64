package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/decom/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past decommission runs",
	Example: `  decom history
  decom history --limit 5`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Max runs to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	store, err := history.Open(flagDataDir)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	runs, err := store.List(historyLimit)
	if err != nil {
		fatal(err)
	}
	if len(runs) == 0 {
		cmd.Println("No recorded runs.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tTERMINATED\tFAILED\tAMBIGUOUS\tBLOCKED")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			run.StartTime.Local().Format(time.RFC3339),
			run.Duration.Round(time.Second),
			run.TerminatedCount,
			run.FailedCount,
			run.AmbiguousCount,
			run.BlockedCount,
		)
	}
	return tw.Flush()
}
