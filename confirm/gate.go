// Package confirm is the gate between locating candidates and acting on
// them. Nothing mutating happens until the operator approves; an abort is a
// clean exit with zero provider calls issued.
package confirm

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/huh"

	"github.com/yairfalse/decom/types"
)

// Gate blocks until the operator approves a subset of candidates. An empty
// returned slice means abort.
type Gate interface {
	Confirm(ctx context.Context, candidates []types.Candidate) ([]types.Candidate, error)
}

// ConsoleGate prompts interactively: deselect unwanted candidates, then give
// a final yes/no. No timeout; the run suspends until the operator answers.
type ConsoleGate struct {
	out io.Writer
}

// NewConsoleGate creates a gate rendering to out
func NewConsoleGate(out io.Writer) *ConsoleGate {
	return &ConsoleGate{out: out}
}

// Confirm renders the candidate table and collects the approved subset
func (g *ConsoleGate) Confirm(ctx context.Context, candidates []types.Candidate) ([]types.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	RenderCandidates(g.out, candidates)

	byID := make(map[string]types.Candidate, len(candidates))
	options := make([]huh.Option[string], 0, len(candidates))
	for _, c := range candidates {
		byID[c.InstanceID] = c
		label := c.InstanceID
		if c.Name != "" {
			label = fmt.Sprintf("%s (%s)", c.InstanceID, c.Name)
		}
		options = append(options, huh.NewOption(label, c.InstanceID).Selected(true))
	}

	var selected []string
	var proceed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Instances to decommission").
				Description("Deselect any instance you want to keep").
				Options(options...).
				Value(&selected),
			huh.NewConfirm().
				Title("Back up and terminate the selected instances?").
				Description("Each instance is imaged and verified before termination").
				Affirmative("Proceed").
				Negative("Abort").
				Value(&proceed),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	if !proceed {
		return nil, nil
	}

	// Preserve the original candidate order
	approved := make([]types.Candidate, 0, len(selected))
	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}
	for _, c := range candidates {
		if chosen[c.InstanceID] {
			approved = append(approved, c)
		}
	}
	return approved, nil
}

// AutoGate approves every candidate without prompting (--yes)
type AutoGate struct {
	out io.Writer
}

// NewAutoGate creates a non-interactive gate
func NewAutoGate(out io.Writer) *AutoGate {
	return &AutoGate{out: out}
}

// Confirm renders the table for the record and approves everything
func (g *AutoGate) Confirm(ctx context.Context, candidates []types.Candidate) ([]types.Candidate, error) {
	RenderCandidates(g.out, candidates)
	return candidates, nil
}

// RenderCandidates prints the candidate table
func RenderCandidates(out io.Writer, candidates []types.Candidate) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tNAME\tSTATE\tTERM PROTECT\tSTOP PROTECT\tTAGS")
	for _, c := range candidates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%s\n",
			c.InstanceID, c.Name, c.State,
			c.TerminationProtection, c.StopProtection,
			formatTags(c.Tags))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\nTotal: %d\n\n", len(candidates))
}

func formatTags(tags map[string]string) string {
	// Show the tags operators filter on; the full map is in the WAL
	keys := []string{"Project", "Environment", "Team"}
	out := ""
	for _, k := range keys {
		if v, ok := tags[k]; ok {
			if out != "" {
				out += " "
			}
			out += k + "=" + v
		}
	}
	return out
}
