package pipeline

import (
	"fmt"
	"time"

	"github.com/yairfalse/decom/types"
)

// Options configure a run
type Options struct {
	// Concurrency bounds how many instance pipelines run at once. Each
	// pipeline issues its own provider calls; keep this modest to stay
	// under EC2 rate limits.
	Concurrency int
	DryRun      bool
}

// PipelineError is a failure isolated to one instance's pipeline. It is
// recorded and surfaced via the final report; it never aborts other
// pipelines.
type PipelineError struct {
	InstanceID string
	Stage      types.Stage
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("instance %s failed after %s: %v", e.InstanceID, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// RunResult aggregates one outcome per candidate
type RunResult struct {
	StartTime time.Time             `json:"start_time"`
	EndTime   time.Time             `json:"end_time"`
	Duration  time.Duration         `json:"duration"`
	DryRun    bool                  `json:"dry_run,omitempty"`
	Outcomes  []types.OutcomeRecord `json:"outcomes"`

	TerminatedCount int `json:"terminated_count"`
	FailedCount     int `json:"failed_count"`
	AmbiguousCount  int `json:"ambiguous_count"`
	BlockedCount    int `json:"blocked_count"`
}

// AddBlocked prepends guard-blocked outcomes so the report shows every
// located instance
func (r *RunResult) AddBlocked(blocked []types.OutcomeRecord) {
	r.Outcomes = append(blocked, r.Outcomes...)
	r.BlockedCount += len(blocked)
}

// Tally recomputes the counters from the outcome records
func (r *RunResult) Tally() {
	r.TerminatedCount, r.FailedCount, r.AmbiguousCount, r.BlockedCount = 0, 0, 0, 0
	for _, o := range r.Outcomes {
		switch {
		case o.Stage == types.StageBlocked:
			r.BlockedCount++
		case o.Ambiguous:
			r.AmbiguousCount++
		case o.Failed():
			r.FailedCount++
		case o.Succeeded():
			r.TerminatedCount++
		}
	}
}

// ExitCode maps the run outcome to the process exit code: 0 for success or
// clean abort, 2 when any pipeline failed or needs manual verification.
// Fatal setup errors exit 1 before a RunResult ever exists.
func (r *RunResult) ExitCode() int {
	if r.FailedCount > 0 || r.AmbiguousCount > 0 {
		return 2
	}
	return 0
}
