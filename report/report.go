// Package report renders a finished run as a human-readable summary.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/yairfalse/decom/pipeline"
	"github.com/yairfalse/decom/types"
)

// Render writes the outcome table and summary line for a run.
// It is a pure formatting step: it never mutates the result.
func Render(w io.Writer, result *pipeline.RunResult) error {
	if result.DryRun {
		fmt.Fprintln(w, "DRY RUN - no AWS mutations were issued")
		fmt.Fprintln(w)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tNAME\tRESULT\tSTAGE\tAMI\tDETAIL")
	for _, o := range result.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.InstanceID,
			valueOr(o.Name, "-"),
			resultWord(o),
			o.Stage,
			valueOr(o.ImageID, "-"),
			valueOr(o.Error, "-"),
		)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flushing report table: %w", err)
	}

	fmt.Fprintf(w, "\n%d terminated, %d failed, %d ambiguous, %d blocked (%s)\n",
		result.TerminatedCount,
		result.FailedCount,
		result.AmbiguousCount,
		result.BlockedCount,
		result.Duration.Round(time.Second),
	)

	if result.AmbiguousCount > 0 {
		fmt.Fprintln(w, "ambiguous instances may still be shutting down; verify their state in the EC2 console")
	}
	return nil
}

func resultWord(o types.OutcomeRecord) string {
	switch {
	case o.Stage == types.StageBlocked:
		return "BLOCKED"
	case o.Ambiguous:
		return "AMBIGUOUS"
	case o.Succeeded():
		return "TERMINATED"
	case o.Failed():
		return "FAILED"
	default:
		return "PLANNED"
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
