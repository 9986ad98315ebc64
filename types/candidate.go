package types

import "time"

// Instance states as reported by EC2
const (
	StatePending      = "pending"
	StateRunning      = "running"
	StateStopping     = "stopping"
	StateStopped      = "stopped"
	StateShuttingDown = "shutting-down"
	StateTerminated   = "terminated"
)

// Candidate is a point-in-time snapshot of an instance matched by the tag
// filters. Staleness beyond ObservedAt is tolerated; provider state is
// re-checked at action time.
type Candidate struct {
	InstanceID            string            `json:"instance_id"`
	Name                  string            `json:"name"`
	State                 string            `json:"state"`
	TerminationProtection bool              `json:"termination_protection"`
	StopProtection        bool              `json:"stop_protection"`
	Tags                  map[string]string `json:"tags,omitempty"`
	ObservedAt            time.Time         `json:"observed_at"`
}

// IsTerminal reports whether the state means the instance is already gone
// or on its way out. Re-processing those is a no-op, not an error.
func IsTerminal(state string) bool {
	return state == StateTerminated || state == StateShuttingDown
}

// MatchesFilters checks the candidate's tags against a filter set
func (c Candidate) MatchesFilters(filters []TagFilter) bool {
	return MatchesAll(filters, c.Tags)
}

// ProtectionState holds the two EC2 delete-protection flags for an instance.
// This tool only ever flips them to false, never back on.
type ProtectionState struct {
	InstanceID            string `json:"instance_id"`
	TerminationProtection bool   `json:"termination_protection"`
	StopProtection        bool   `json:"stop_protection"`
}

// Clear reports whether both flags are off
func (p ProtectionState) Clear() bool {
	return !p.TerminationProtection && !p.StopProtection
}
