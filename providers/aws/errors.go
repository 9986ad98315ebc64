package aws

import (
	"errors"

	"github.com/aws/smithy-go"
)

// Error codes EC2 returns when the caller should back off and retry
var retryableCodes = map[string]bool{
	"RequestLimitExceeded": true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"ServiceUnavailable":   true,
	"Unavailable":          true,
	"InternalError":        true,
}

// IsRetryable reports whether the error is a transient provider failure
// worth retrying with backoff
func IsRetryable(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return retryableCodes[apiErr.ErrorCode()]
}
