// Package backup images an instance and waits for the AMI to become
// usable. Termination is gated on this: no available image, no terminate.
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/decom/poll"
	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/types"
)

// Image states EC2 reports for an AMI
const (
	imageAvailable = "available"
	imageFailed    = "failed"
)

// Imager is the provider capability this package consumes
type Imager interface {
	CreateImage(ctx context.Context, instanceID, name, description string, noReboot bool) (string, error)
	ImageState(ctx context.Context, imageID string) (state, reason string, err error)
}

// ErrBackupTimeout means the AMI never reached a terminal state within the
// poll budget. The image may still complete later; it is never cleaned up
// automatically.
var ErrBackupTimeout = errors.New("backup timeout")

// Orchestrator drives one instance's backup
type Orchestrator struct {
	api          Imager
	waiter       *poll.Waiter
	policy       poll.Policy
	sleep        poll.Sleeper
	retryBackoff time.Duration
	noReboot     bool
	now          func() time.Time
	logger       *telemetry.Logger
}

// Options for the orchestrator
type Options struct {
	Policy       poll.Policy
	Sleeper      poll.Sleeper // nil means wall clock
	RetryBackoff time.Duration
	NoReboot     bool
	Now          func() time.Time // nil means time.Now
	Retryable    func(error) bool
}

// New creates a backup orchestrator
func New(api Imager, logger *telemetry.Logger, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleeper == nil {
		opts.Sleeper = poll.WallClock
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	return &Orchestrator{
		api:          api,
		waiter:       poll.NewWaiter(opts.Sleeper, opts.Retryable),
		policy:       opts.Policy,
		sleep:        opts.Sleeper,
		retryBackoff: opts.RetryBackoff,
		noReboot:     opts.NoReboot,
		now:          opts.Now,
		logger:       logger,
	}
}

// Backup creates an AMI for the instance and polls it to a terminal state.
// The returned record always carries the image name, even on failure, so
// the operator can find any half-made image.
func (o *Orchestrator) Backup(ctx context.Context, instanceID string) (types.BackupRecord, error) {
	requestedAt := o.now()
	record := types.BackupRecord{
		InstanceID: instanceID,
		ImageName:  types.ImageName(instanceID, requestedAt),
		Status:     types.BackupPending,
		CreatedAt:  requestedAt,
	}
	description := types.ImageDescription(requestedAt)

	imageID, err := o.createWithRetry(ctx, instanceID, record.ImageName, description)
	if err != nil {
		record.Status = types.BackupFailed
		return record, fmt.Errorf("image creation failed: %w", err)
	}
	record.ImageID = imageID

	o.logger.WithContext(ctx).Info().
		Str("instance_id", instanceID).
		Str("image_id", imageID).
		Str("image_name", record.ImageName).
		Msg("image creation requested")

	if err := o.awaitAvailable(ctx, &record); err != nil {
		return record, err
	}

	record.Status = types.BackupAvailable
	return record, nil
}

// createWithRetry retries image creation exactly once. More retries risk a
// pile of duplicate images; beyond one attempt the operator decides.
func (o *Orchestrator) createWithRetry(ctx context.Context, instanceID, name, description string) (string, error) {
	imageID, err := o.api.CreateImage(ctx, instanceID, name, description, o.noReboot)
	if err == nil {
		return imageID, nil
	}

	o.logger.WithContext(ctx).Warn().
		Err(err).
		Str("instance_id", instanceID).
		Msg("image creation failed, retrying once")

	if sleepErr := o.sleep(ctx, o.retryBackoff); sleepErr != nil {
		return "", sleepErr
	}
	return o.api.CreateImage(ctx, instanceID, name, description, o.noReboot)
}

func (o *Orchestrator) awaitAvailable(ctx context.Context, record *types.BackupRecord) error {
	err := o.waiter.Wait(ctx, o.policy, func(ctx context.Context) (bool, error) {
		state, reason, err := o.api.ImageState(ctx, record.ImageID)
		if err != nil {
			return false, err
		}
		switch state {
		case imageAvailable:
			return true, nil
		case imageFailed:
			if reason == "" {
				reason = "image entered failed state"
			}
			return false, fmt.Errorf("image %s failed: %s", record.ImageID, reason)
		default:
			return false, nil
		}
	})

	if errors.Is(err, poll.ErrTimeout) {
		record.Status = types.BackupFailed
		return fmt.Errorf("%w: image %s still not available after %s",
			ErrBackupTimeout, record.ImageID, o.policy.Timeout())
	}
	if err != nil {
		record.Status = types.BackupFailed
		return err
	}
	return nil
}
