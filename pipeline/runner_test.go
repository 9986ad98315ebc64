package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/terminate"
	"github.com/yairfalse/decom/types"
)

type fakeBackup struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeBackup) Backup(ctx context.Context, instanceID string) (types.BackupRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, instanceID)
	f.mu.Unlock()

	record := types.BackupRecord{
		InstanceID: instanceID,
		ImageID:    "ami-" + instanceID,
		ImageName:  "EC2DeletionScript_" + instanceID + "_20240307143005",
		Status:     types.BackupAvailable,
	}
	if err := f.fail[instanceID]; err != nil {
		record.ImageID = ""
		record.Status = types.BackupFailed
		return record, err
	}
	return record, nil
}

type fakeProtection struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeProtection) Clear(ctx context.Context, instanceID string) (types.ProtectionState, error) {
	f.mu.Lock()
	f.calls = append(f.calls, instanceID)
	f.mu.Unlock()

	if err := f.fail[instanceID]; err != nil {
		return types.ProtectionState{InstanceID: instanceID, TerminationProtection: true}, err
	}
	return types.ProtectionState{InstanceID: instanceID}, nil
}

type fakeTerminator struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeTerminator) Terminate(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, instanceID)
	f.mu.Unlock()
	return f.fail[instanceID]
}

func candidates(ids ...string) []types.Candidate {
	out := make([]types.Candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Candidate{InstanceID: id, State: types.StateRunning})
	}
	return out
}

func newRunner(b *fakeBackup, p *fakeProtection, t *fakeTerminator, opts Options) *Runner {
	return NewRunner(b, p, t, nil, telemetry.NewLogger("pipeline-test", io.Discard), opts)
}

func TestRunAllSucceed(t *testing.T) {
	b, p, term := &fakeBackup{}, &fakeProtection{}, &fakeTerminator{}
	runner := newRunner(b, p, term, Options{Concurrency: 2})

	result := runner.Run(context.Background(), candidates("i-1", "i-2", "i-3"))

	require.Len(t, result.Outcomes, 3)
	for i, id := range []string{"i-1", "i-2", "i-3"} {
		assert.Equal(t, id, result.Outcomes[i].InstanceID, "slot order must match candidate order")
		assert.Equal(t, types.StageTerminated, result.Outcomes[i].Stage)
		assert.Equal(t, "ami-"+id, result.Outcomes[i].ImageID)
	}
	assert.Equal(t, 3, result.TerminatedCount)
	assert.Zero(t, result.FailedCount)
	assert.Equal(t, 0, result.ExitCode())
}

func TestBackupFailureSkipsLaterStages(t *testing.T) {
	b := &fakeBackup{fail: map[string]error{"i-1": errors.New("backup timeout")}}
	p, term := &fakeProtection{}, &fakeTerminator{}
	runner := newRunner(b, p, term, Options{})

	result := runner.Run(context.Background(), candidates("i-1"))

	outcome := result.Outcomes[0]
	assert.Equal(t, types.StageConfirmed, outcome.Stage)
	assert.Contains(t, outcome.Error, "backup timeout")
	assert.Empty(t, p.calls, "protection must not run after backup failure")
	assert.Empty(t, term.calls, "terminate must never run without a verified backup")
	assert.Equal(t, 2, result.ExitCode())
}

// unverifiedBackup reports success without the image reaching available
type unverifiedBackup struct{}

func (unverifiedBackup) Backup(ctx context.Context, instanceID string) (types.BackupRecord, error) {
	return types.BackupRecord{
		InstanceID: instanceID,
		ImageID:    "ami-" + instanceID,
		Status:     types.BackupPending,
	}, nil
}

func TestUnverifiedBackupBlocksTermination(t *testing.T) {
	p, term := &fakeProtection{}, &fakeTerminator{}
	runner := NewRunner(unverifiedBackup{}, p, term, nil, telemetry.NewLogger("pipeline-test", io.Discard), Options{})

	result := runner.Run(context.Background(), candidates("i-1"))

	assert.Empty(t, term.calls, "terminate must never run unless the backup is verified available")
	assert.NotEmpty(t, result.Outcomes[0].Error)
	assert.Equal(t, 1, result.FailedCount)
}

func TestProtectionFailureIsolatedToOneInstance(t *testing.T) {
	b := &fakeBackup{}
	p := &fakeProtection{fail: map[string]error{"i-1": errors.New("UnauthorizedOperation")}}
	term := &fakeTerminator{}
	runner := newRunner(b, p, term, Options{Concurrency: 2})

	result := runner.Run(context.Background(), candidates("i-1", "i-2"))

	assert.Equal(t, types.StageBackedUp, result.Outcomes[0].Stage)
	assert.NotEmpty(t, result.Outcomes[0].Error)
	assert.Equal(t, types.StageTerminated, result.Outcomes[1].Stage)

	assert.Equal(t, []string{"i-2"}, term.calls)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, 1, result.TerminatedCount)
	assert.Equal(t, 2, result.ExitCode())
}

func TestAmbiguousTerminationCountedSeparately(t *testing.T) {
	b, p := &fakeBackup{}, &fakeProtection{}
	term := &fakeTerminator{fail: map[string]error{
		"i-1": fmt.Errorf("%w: instance i-1 still running after 2m0s", terminate.ErrAmbiguous),
	}}
	runner := newRunner(b, p, term, Options{})

	result := runner.Run(context.Background(), candidates("i-1"))

	outcome := result.Outcomes[0]
	assert.True(t, outcome.Ambiguous)
	assert.Equal(t, types.StageProtectionCleared, outcome.Stage)
	assert.Equal(t, 1, result.AmbiguousCount)
	assert.Zero(t, result.FailedCount)
	assert.Equal(t, 2, result.ExitCode())
}

func TestTerminateRejectionIsHardFailure(t *testing.T) {
	b, p := &fakeBackup{}, &fakeProtection{}
	term := &fakeTerminator{fail: map[string]error{"i-1": errors.New("terminate request rejected")}}
	runner := newRunner(b, p, term, Options{})

	result := runner.Run(context.Background(), candidates("i-1"))

	assert.False(t, result.Outcomes[0].Ambiguous)
	assert.Equal(t, 1, result.FailedCount)
}

func TestDryRunIssuesNoCalls(t *testing.T) {
	b, p, term := &fakeBackup{}, &fakeProtection{}, &fakeTerminator{}
	runner := newRunner(b, p, term, Options{DryRun: true})

	result := runner.Run(context.Background(), candidates("i-1", "i-2"))

	assert.True(t, result.DryRun)
	assert.Empty(t, b.calls)
	assert.Empty(t, p.calls)
	assert.Empty(t, term.calls)
	assert.Equal(t, 0, result.ExitCode())
}

func TestRunEmitsSpansPerStage(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	b := &fakeBackup{fail: map[string]error{"i-2": errors.New("backup timeout")}}
	p, term := &fakeProtection{}, &fakeTerminator{}
	runner := newRunner(b, p, term, Options{})

	runner.Run(context.Background(), candidates("i-1", "i-2"))

	byName := map[string]int{}
	var failedBackup sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		byName[span.Name()]++
		if span.Name() == "backup" && span.Status().Code == otelcodes.Error {
			failedBackup = span
		}
	}

	assert.Equal(t, 2, byName["decommission"], "one root span per instance")
	assert.Equal(t, 2, byName["backup"])
	assert.Equal(t, 1, byName["protection"], "failed instance never reaches protection")
	assert.Equal(t, 1, byName["terminate"])
	require.NotNil(t, failedBackup, "failed backup stage must mark its span")
	assert.Equal(t, "backup timeout", failedBackup.Status().Description)
}

func TestRunWithOnlyBlockedCandidates(t *testing.T) {
	b, p, term := &fakeBackup{}, &fakeProtection{}, &fakeTerminator{}
	runner := newRunner(b, p, term, Options{})

	// Policy blocked every located instance; nothing was approved.
	result := runner.Run(context.Background(), nil)
	result.AddBlocked([]types.OutcomeRecord{
		{InstanceID: "i-prod-1", Stage: types.StageBlocked, Error: "Environment=prod"},
		{InstanceID: "i-prod-2", Stage: types.StageBlocked, Error: "Environment=prod"},
	})
	result.Tally()

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, 2, result.BlockedCount)
	assert.Empty(t, b.calls)
	assert.Empty(t, p.calls)
	assert.Empty(t, term.calls)
	assert.Equal(t, 0, result.ExitCode())
}

func TestAddBlockedOutcomes(t *testing.T) {
	b, p, term := &fakeBackup{}, &fakeProtection{}, &fakeTerminator{}
	runner := newRunner(b, p, term, Options{})

	result := runner.Run(context.Background(), candidates("i-2"))
	result.AddBlocked([]types.OutcomeRecord{
		{InstanceID: "i-prod", Stage: types.StageBlocked, Error: "Environment=prod"},
	})
	result.Tally()

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "i-prod", result.Outcomes[0].InstanceID)
	assert.Equal(t, 1, result.BlockedCount)
	assert.Equal(t, 1, result.TerminatedCount)
	// Policy blocks are deliberate, not failures
	assert.Equal(t, 0, result.ExitCode())
}
