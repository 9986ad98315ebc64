package types

// Stage marks how far an instance's pipeline got before it finished or failed
type Stage string

const (
	StageLocated           Stage = "located"
	StageBlocked           Stage = "blocked"
	StageConfirmed         Stage = "confirmed"
	StageBackedUp          Stage = "backed_up"
	StageProtectionCleared Stage = "protection_cleared"
	StageTerminated        Stage = "terminated"
)

// OutcomeRecord is the terminal status of one instance's pipeline. Written
// once when the pipeline finishes, consumed only by the run reporter.
type OutcomeRecord struct {
	InstanceID string `json:"instance_id"`
	Name       string `json:"name,omitempty"`
	Stage      Stage  `json:"stage"`
	ImageID    string `json:"image_id,omitempty"`
	ImageName  string `json:"image_name,omitempty"`
	Error      string `json:"error,omitempty"`
	// Ambiguous marks a timeout where the request may have succeeded
	// server-side. Needs manual verification, not the same as a failure.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// Succeeded reports whether the pipeline ran to full completion
func (o OutcomeRecord) Succeeded() bool {
	return o.Stage == StageTerminated && o.Error == "" && !o.Ambiguous
}

// Failed reports whether the pipeline stopped with a hard error
func (o OutcomeRecord) Failed() bool {
	return o.Error != "" && !o.Ambiguous
}
