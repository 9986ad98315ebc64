package types

import (
	"fmt"
	"time"
)

// BackupStatus tracks the lifecycle of an AMI created for a candidate
type BackupStatus string

const (
	BackupPending   BackupStatus = "pending"
	BackupAvailable BackupStatus = "available"
	BackupFailed    BackupStatus = "failed"
)

// BackupRecord is the backup image created for one instance. Records are
// never deleted by this tool; AMI lifecycle is the operator's problem.
type BackupRecord struct {
	InstanceID string       `json:"instance_id"`
	ImageID    string       `json:"image_id,omitempty"`
	ImageName  string       `json:"image_name"`
	Status     BackupStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}

// imageNamePrefix matches the original deletion script so images from old
// and new runs sort together in the console.
const imageNamePrefix = "EC2DeletionScript"

// ImageName builds the unique AMI name for an instance backup. The timestamp
// reflects the creation request time, which keeps names unique across
// repeated runs against the same instance.
func ImageName(instanceID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", imageNamePrefix, instanceID, at.Format("20060102150405"))
}

// ImageDescription builds the AMI description for an instance backup
func ImageDescription(at time.Time) string {
	return fmt.Sprintf("AMI created on %s by EC2 deletion script.", at.Format("2006-01-02 15:04:05"))
}
