// Package terminate issues the terminate request and confirms the instance
// actually leaves "running". A confirmed transition is the only success; a
// timeout after an accepted request is ambiguous, not failed, because the
// termination may still complete server-side.
package terminate

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/decom/poll"
	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/types"
)

// TerminateAPI is the provider capability this package consumes
type TerminateAPI interface {
	Terminate(ctx context.Context, instanceID string) (currentState string, err error)
	InstanceState(ctx context.Context, instanceID string) (string, error)
}

// ErrAmbiguous marks an accepted terminate request whose completion could
// not be observed in time. The operator must verify manually.
var ErrAmbiguous = errors.New("termination unconfirmed")

// Executor terminates instances and confirms the state transition
type Executor struct {
	api    TerminateAPI
	waiter *poll.Waiter
	policy poll.Policy
	logger *telemetry.Logger
}

// Options for the executor
type Options struct {
	Policy    poll.Policy
	Sleeper   poll.Sleeper
	Retryable func(error) bool
}

// New creates a termination executor
func New(api TerminateAPI, logger *telemetry.Logger, opts Options) *Executor {
	return &Executor{
		api:    api,
		waiter: poll.NewWaiter(opts.Sleeper, opts.Retryable),
		policy: opts.Policy,
		logger: logger,
	}
}

// Terminate requests termination and polls until the instance is no longer
// running. A rejected request is a hard failure; an unobserved transition
// wraps ErrAmbiguous.
func (e *Executor) Terminate(ctx context.Context, instanceID string) error {
	current, err := e.api.Terminate(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("terminate request rejected: %w", err)
	}

	e.logger.WithContext(ctx).Info().
		Str("instance_id", instanceID).
		Str("current_state", current).
		Msg("terminate request accepted")

	if leftRunning(current) {
		return nil
	}

	err = e.waiter.Wait(ctx, e.policy, func(ctx context.Context) (bool, error) {
		state, err := e.api.InstanceState(ctx, instanceID)
		if err != nil {
			return false, err
		}
		return leftRunning(state), nil
	})

	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("%w: instance %s still running after %s",
			ErrAmbiguous, instanceID, e.policy.Timeout())
	}
	if err != nil {
		return fmt.Errorf("failed to confirm termination of %s: %w", instanceID, err)
	}
	return nil
}

// leftRunning reports whether the observed state confirms the instance is
// on its way out
func leftRunning(state string) bool {
	return state == types.StateShuttingDown || state == types.StateTerminated
}
