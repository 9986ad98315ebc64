// Package protection clears EC2 delete-protection flags before
// termination. It is fail-safe: if the flags cannot be confirmed off, the
// instance is not terminated.
package protection

import (
	"context"
	"fmt"

	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/types"
)

// ProtectionAPI is the provider capability this package consumes
type ProtectionAPI interface {
	ProtectionState(ctx context.Context, instanceID string) (types.ProtectionState, error)
	DisableTerminationProtection(ctx context.Context, instanceID string) error
	DisableStopProtection(ctx context.Context, instanceID string) error
}

// Remover disables protection flags and confirms they are off
type Remover struct {
	api    ProtectionAPI
	logger *telemetry.Logger
}

// New creates a Remover
func New(api ProtectionAPI, logger *telemetry.Logger) *Remover {
	return &Remover{api: api, logger: logger}
}

// Clear reads the instance's protection flags, disables any that are set,
// and re-reads to confirm both are off. The disable+confirm cycle runs at
// most twice; an unconfirmed flag after that is an error and the caller
// must not terminate.
func (r *Remover) Clear(ctx context.Context, instanceID string) (types.ProtectionState, error) {
	state, err := r.api.ProtectionState(ctx, instanceID)
	if err != nil {
		return state, fmt.Errorf("failed to read protection state: %w", err)
	}

	if state.Clear() {
		return state, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := r.disable(ctx, state); err != nil {
			return state, err
		}

		state, err = r.api.ProtectionState(ctx, instanceID)
		if err != nil {
			return state, fmt.Errorf("failed to confirm protection state: %w", err)
		}
		if state.Clear() {
			r.logger.WithContext(ctx).Info().
				Str("instance_id", instanceID).
				Msg("protection flags cleared")
			return state, nil
		}
	}

	return state, fmt.Errorf("protection flags still set after disable: termination=%v stop=%v",
		state.TerminationProtection, state.StopProtection)
}

func (r *Remover) disable(ctx context.Context, state types.ProtectionState) error {
	if state.TerminationProtection {
		if err := r.api.DisableTerminationProtection(ctx, state.InstanceID); err != nil {
			return fmt.Errorf("failed to disable termination protection: %w", err)
		}
	}
	if state.StopProtection {
		if err := r.api.DisableStopProtection(ctx, state.InstanceID); err != nil {
			return fmt.Errorf("failed to disable stop protection: %w", err)
		}
	}
	return nil
}
