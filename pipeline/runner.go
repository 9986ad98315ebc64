// Package pipeline sequences backup, protection removal, and termination
// for each approved candidate. Stages within one instance are strictly
// ordered; that ordering is the safety contract, not a performance choice.
// Pipelines for different instances are independent and run concurrently
// under a bounded pool.
package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/terminate"
	"github.com/yairfalse/decom/types"
	"github.com/yairfalse/decom/wal"
)

// Backupper images an instance and verifies the image
type Backupper interface {
	Backup(ctx context.Context, instanceID string) (types.BackupRecord, error)
}

// ProtectionClearer disables and confirms delete-protection flags
type ProtectionClearer interface {
	Clear(ctx context.Context, instanceID string) (types.ProtectionState, error)
}

// Terminator terminates an instance and confirms the transition
type Terminator interface {
	Terminate(ctx context.Context, instanceID string) error
}

// Runner drives the per-instance pipelines for one run
type Runner struct {
	backup     Backupper
	protection ProtectionClearer
	terminator Terminator
	wal        *wal.WAL
	logger     *telemetry.Logger
	opts       Options
}

// NewRunner creates a Runner. audit may be nil when no WAL is wanted.
func NewRunner(b Backupper, p ProtectionClearer, t Terminator, audit *wal.WAL, logger *telemetry.Logger, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Runner{
		backup:     b,
		protection: p,
		terminator: t,
		wal:        audit,
		logger:     logger,
		opts:       opts,
	}
}

// Run executes one pipeline per candidate. Each candidate owns exactly one
// pre-allocated outcome slot, so concurrent pipelines never share state.
// Once started, a pipeline runs to completion or failure; there is no
// mid-pipeline cancellation or rollback.
func (r *Runner) Run(ctx context.Context, candidates []types.Candidate) *RunResult {
	result := &RunResult{
		StartTime: time.Now(),
		DryRun:    r.opts.DryRun,
		Outcomes:  make([]types.OutcomeRecord, len(candidates)),
	}

	if r.opts.DryRun {
		for i, c := range candidates {
			result.Outcomes[i] = types.OutcomeRecord{
				InstanceID: c.InstanceID,
				Name:       c.Name,
				Stage:      types.StageConfirmed,
			}
		}
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for i, candidate := range candidates {
		g.Go(func() error {
			result.Outcomes[i] = r.runOne(ctx, candidate)
			return nil
		})
	}
	// Pipelines never return errors through the group; failures live in
	// the outcome slots.
	_ = g.Wait()

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Tally()
	return result
}

// runOne walks a single candidate through backup, protection removal, and
// termination. The returned record is final for this instance.
func (r *Runner) runOne(ctx context.Context, candidate types.Candidate) types.OutcomeRecord {
	ctx, span := telemetry.StartDecommission(ctx, candidate.InstanceID, candidate.Name)
	outcome := types.OutcomeRecord{
		InstanceID: candidate.InstanceID,
		Name:       candidate.Name,
		Stage:      types.StageConfirmed,
	}
	defer func() {
		telemetry.EndDecommission(span, string(outcome.Stage), outcome.Ambiguous, outcome.Error)
	}()
	r.audit(wal.EntryConfirmed, candidate.InstanceID, candidate, nil)

	record, ok := r.backupStage(ctx, &outcome)
	if !ok {
		return outcome
	}

	if !r.protectionStage(ctx, &outcome) {
		return outcome
	}

	// The backup invariant, enforced where it matters: termination is
	// unreachable without a verified image.
	if record.Status != types.BackupAvailable {
		outcome.Error = "backup not verified available"
		r.audit(wal.EntryFailed, candidate.InstanceID, nil, errors.New(outcome.Error))
		return outcome
	}

	r.terminateStage(ctx, &outcome)
	return outcome
}

func (r *Runner) backupStage(ctx context.Context, outcome *types.OutcomeRecord) (types.BackupRecord, bool) {
	id := outcome.InstanceID
	ctx, span := telemetry.StartStage(ctx, "backup", id)
	r.logger.LogStageStart(ctx, id, "backup")
	r.audit(wal.EntryBackupStarted, id, nil, nil)

	record, err := r.backup.Backup(ctx, id)
	outcome.ImageID = record.ImageID
	outcome.ImageName = record.ImageName
	if err != nil {
		perr := &PipelineError{InstanceID: id, Stage: types.StageConfirmed, Err: err}
		r.logger.LogStageFailed(ctx, id, "backup", err)
		r.audit(wal.EntryFailed, id, record, err)
		outcome.Error = perr.Err.Error()
		telemetry.EndStage(span, err)
		return record, false
	}

	telemetry.EndStage(span, nil)
	r.logger.LogStageDone(ctx, id, "backup")
	r.audit(wal.EntryBackupReady, id, record, nil)
	outcome.Stage = types.StageBackedUp
	return record, true
}

func (r *Runner) protectionStage(ctx context.Context, outcome *types.OutcomeRecord) bool {
	id := outcome.InstanceID
	ctx, span := telemetry.StartStage(ctx, "protection", id)
	r.logger.LogStageStart(ctx, id, "protection")

	state, err := r.protection.Clear(ctx, id)
	if err != nil {
		r.logger.LogStageFailed(ctx, id, "protection", err)
		r.audit(wal.EntryFailed, id, state, err)
		outcome.Error = err.Error()
		telemetry.EndStage(span, err)
		return false
	}

	telemetry.EndStage(span, nil)
	r.logger.LogStageDone(ctx, id, "protection")
	r.audit(wal.EntryProtectionCleared, id, state, nil)
	outcome.Stage = types.StageProtectionCleared
	return true
}

func (r *Runner) terminateStage(ctx context.Context, outcome *types.OutcomeRecord) {
	id := outcome.InstanceID
	ctx, span := telemetry.StartStage(ctx, "terminate", id)
	r.logger.LogStageStart(ctx, id, "terminate")
	r.audit(wal.EntryTerminating, id, nil, nil)

	err := r.terminator.Terminate(ctx, id)
	defer telemetry.EndStage(span, err)
	switch {
	case errors.Is(err, terminate.ErrAmbiguous):
		r.logger.LogAmbiguous(ctx, id, "terminate", err)
		r.audit(wal.EntryAmbiguous, id, nil, err)
		outcome.Error = err.Error()
		outcome.Ambiguous = true
	case err != nil:
		r.logger.LogStageFailed(ctx, id, "terminate", err)
		r.audit(wal.EntryFailed, id, nil, err)
		outcome.Error = err.Error()
	default:
		r.logger.LogStageDone(ctx, id, "terminate")
		r.audit(wal.EntryTerminated, id, nil, nil)
		outcome.Stage = types.StageTerminated
	}
}

// audit appends to the WAL when one is configured. A WAL write failure is
// logged but never fails a pipeline; the provider action already happened.
func (r *Runner) audit(entryType wal.EntryType, instanceID string, data interface{}, cause error) {
	if r.wal == nil {
		return
	}
	var err error
	if cause != nil {
		err = r.wal.AppendError(entryType, instanceID, data, cause)
	} else {
		err = r.wal.Append(entryType, instanceID, data)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("WAL append failed")
	}
}
