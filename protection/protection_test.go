package protection

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/types"
)

type fakeProtectionAPI struct {
	state          types.ProtectionState
	readErr        error
	disableTermErr error
	disableStopErr error
	termCalls      int
	stopCalls      int
	stickyTerm     bool // disable call succeeds but the flag stays on
}

func (f *fakeProtectionAPI) ProtectionState(ctx context.Context, instanceID string) (types.ProtectionState, error) {
	if f.readErr != nil {
		return types.ProtectionState{}, f.readErr
	}
	return f.state, nil
}

func (f *fakeProtectionAPI) DisableTerminationProtection(ctx context.Context, instanceID string) error {
	f.termCalls++
	if f.disableTermErr != nil {
		return f.disableTermErr
	}
	if !f.stickyTerm {
		f.state.TerminationProtection = false
	}
	return nil
}

func (f *fakeProtectionAPI) DisableStopProtection(ctx context.Context, instanceID string) error {
	f.stopCalls++
	if f.disableStopErr != nil {
		return f.disableStopErr
	}
	f.state.StopProtection = false
	return nil
}

func newRemover(api ProtectionAPI) *Remover {
	return New(api, telemetry.NewLogger("protection-test", io.Discard))
}

func TestClearAlreadyUnprotected(t *testing.T) {
	api := &fakeProtectionAPI{state: types.ProtectionState{InstanceID: "i-1"}}

	state, err := newRemover(api).Clear(context.Background(), "i-1")
	require.NoError(t, err)
	assert.True(t, state.Clear())
	assert.Zero(t, api.termCalls)
	assert.Zero(t, api.stopCalls)
}

func TestClearDisablesBothFlags(t *testing.T) {
	api := &fakeProtectionAPI{state: types.ProtectionState{
		InstanceID:            "i-1",
		TerminationProtection: true,
		StopProtection:        true,
	}}

	state, err := newRemover(api).Clear(context.Background(), "i-1")
	require.NoError(t, err)
	assert.True(t, state.Clear())
	assert.Equal(t, 1, api.termCalls)
	assert.Equal(t, 1, api.stopCalls)
}

func TestClearOnlySetFlagsTouched(t *testing.T) {
	api := &fakeProtectionAPI{state: types.ProtectionState{
		InstanceID:            "i-1",
		TerminationProtection: true,
	}}

	_, err := newRemover(api).Clear(context.Background(), "i-1")
	require.NoError(t, err)
	assert.Equal(t, 1, api.termCalls)
	assert.Zero(t, api.stopCalls)
}

func TestClearDisableErrorFailsSafe(t *testing.T) {
	api := &fakeProtectionAPI{
		state:          types.ProtectionState{InstanceID: "i-1", TerminationProtection: true},
		disableTermErr: errors.New("UnauthorizedOperation"),
	}

	_, err := newRemover(api).Clear(context.Background(), "i-1")
	assert.Error(t, err)
}

func TestClearUnconfirmedAfterRetryFails(t *testing.T) {
	api := &fakeProtectionAPI{
		state:      types.ProtectionState{InstanceID: "i-1", TerminationProtection: true},
		stickyTerm: true,
	}

	_, err := newRemover(api).Clear(context.Background(), "i-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still set")
	// One initial cycle plus exactly one retry
	assert.Equal(t, 2, api.termCalls)
}

func TestClearReadErrorPropagates(t *testing.T) {
	api := &fakeProtectionAPI{readErr: errors.New("throttled")}

	_, err := newRemover(api).Clear(context.Background(), "i-1")
	assert.Error(t, err)
}
