package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/decom/backup"
	"github.com/yairfalse/decom/config"
	"github.com/yairfalse/decom/confirm"
	"github.com/yairfalse/decom/guard"
	"github.com/yairfalse/decom/history"
	"github.com/yairfalse/decom/locator"
	"github.com/yairfalse/decom/pipeline"
	"github.com/yairfalse/decom/poll"
	"github.com/yairfalse/decom/protection"
	awsprovider "github.com/yairfalse/decom/providers/aws"
	"github.com/yairfalse/decom/report"
	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/terminate"
	"github.com/yairfalse/decom/types"
	"github.com/yairfalse/decom/wal"
)

var (
	runDryRun           bool
	runAutoYes          bool
	runConcurrency      int
	runTimeoutSeconds   int
	runBackupTimeout    time.Duration
	runTerminateTimeout time.Duration
	runPolicyFile       string
	runOTLPEndpoint     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Locate, confirm, back up, and terminate matching instances",
	Long: `Locate instances matching the tag filters, ask for confirmation,
then run each approved instance through the decommission pipeline.

Each instance gets a backup AMI first. Termination only happens after
the image reports available and both protection flags are cleared.`,
	Example: `  decom run --tags Project=Automation --tags Environment=Test,Dev
  decom run --config decom.yaml --dry-run
  decom run --config decom.yaml --yes --timeout-seconds 1800`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Plan only; issue no AWS mutations")
	runCmd.Flags().BoolVarP(&runAutoYes, "yes", "y", false, "Skip the interactive confirmation gate")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Max instances decommissioned in parallel")
	runCmd.Flags().IntVar(&runTimeoutSeconds, "timeout-seconds", 0, "Wall-clock budget for each poll loop")
	runCmd.Flags().DurationVar(&runBackupTimeout, "backup-timeout", 0, "Max wait for an AMI to become available")
	runCmd.Flags().DurationVar(&runTerminateTimeout, "terminate-timeout", 0, "Max wait for the terminate transition")
	runCmd.Flags().StringVar(&runPolicyFile, "policy", "", "Rego policy file guarding candidates")
	runCmd.Flags().StringVar(&runOTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector for traces")
}

func runRun(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	if flagDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	applyTimeout(cfg, runTimeoutSeconds)
	if attempts := int(runBackupTimeout / cfg.Backup.PollInterval); attempts > 0 {
		cfg.Backup.MaxAttempts = attempts
	}
	if attempts := int(runTerminateTimeout / cfg.Terminate.PollInterval); attempts > 0 {
		cfg.Terminate.MaxAttempts = attempts
	}
	if runConcurrency > 0 {
		cfg.Concurrency = runConcurrency
	}
	if runPolicyFile != "" {
		cfg.Guard.PolicyFile = runPolicyFile
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.InitTracing(ctx, telemetry.Config{
		ServiceName:    "decom",
		ServiceVersion: version,
		OTLPEndpoint:   runOTLPEndpoint,
	})
	if err != nil {
		fatal(err)
	}
	defer shutdown(context.Background())

	logger := telemetry.NewConsoleLogger("decom")

	client, err := awsprovider.New(ctx, cfg.Region)
	if err != nil {
		fatal(err)
	}

	candidates, blocked, err := locateAndGuard(ctx, cfg, client, logger)
	if err != nil {
		fatal(err)
	}
	if len(candidates) == 0 && len(blocked) == 0 {
		cmd.Println("No instances match the given tag filters.")
		return nil
	}

	// When policy blocked everything there is nothing to confirm, but the
	// blocked instances still belong in the report and the run history.
	var approved []types.Candidate
	if len(candidates) > 0 {
		var gate confirm.Gate
		if runAutoYes || runDryRun {
			gate = confirm.NewAutoGate(cmd.OutOrStdout())
		} else {
			gate = confirm.NewConsoleGate(cmd.OutOrStdout())
		}
		approved, err = gate.Confirm(ctx, candidates)
		if err != nil {
			fatal(err)
		}
		if len(approved) == 0 {
			cmd.Println("Aborted. No instances were modified.")
			return nil
		}
	}

	result := executePipelines(ctx, cfg, client, logger, approved, blocked)

	if err := report.Render(cmd.OutOrStdout(), result); err != nil {
		logger.Warn().Err(err).Msg("failed to render report")
	}

	if code := result.ExitCode(); code != 0 {
		// os.Exit skips deferred functions; flush pending spans first
		if err := shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
		os.Exit(code)
	}
	return nil
}

// locateAndGuard finds matching instances and splits off policy-blocked
// ones before anybody is asked to confirm anything.
func locateAndGuard(ctx context.Context, cfg *config.Config, client *awsprovider.Client, logger *telemetry.Logger) ([]types.Candidate, []types.OutcomeRecord, error) {
	loc := locator.New(client, logger)
	candidates, err := loc.Locate(ctx, cfg.TagFilters())
	if err != nil {
		return nil, nil, err
	}

	if cfg.Guard.Disabled {
		return candidates, nil, nil
	}
	g, err := guard.New(ctx, cfg.Guard.PolicyFile, logger)
	if err != nil {
		return nil, nil, err
	}
	allowed, blocked, err := g.Filter(ctx, candidates)
	if err != nil {
		return nil, nil, err
	}
	return allowed, blocked, nil
}

func executePipelines(ctx context.Context, cfg *config.Config, client *awsprovider.Client, logger *telemetry.Logger, approved []types.Candidate, blocked []types.OutcomeRecord) *pipeline.RunResult {
	var audit *wal.WAL
	if !runDryRun {
		w, err := wal.Open(filepath.Join(cfg.DataDir, "wal"))
		if err != nil {
			logger.Warn().Err(err).Msg("audit log unavailable, continuing without it")
		} else {
			audit = w
			defer audit.Close()
		}
	}

	backupper := backup.New(client, logger, backup.Options{
		Policy:    poll.Policy{Interval: cfg.Backup.PollInterval, MaxAttempts: cfg.Backup.MaxAttempts},
		NoReboot:  cfg.Backup.NoRebootValue(),
		Retryable: awsprovider.IsRetryable,
	})
	remover := protection.New(client, logger)
	terminator := terminate.New(client, logger, terminate.Options{
		Policy:    poll.Policy{Interval: cfg.Terminate.PollInterval, MaxAttempts: cfg.Terminate.MaxAttempts},
		Retryable: awsprovider.IsRetryable,
	})

	runner := pipeline.NewRunner(backupper, remover, terminator, audit, logger, pipeline.Options{
		Concurrency: cfg.Concurrency,
		DryRun:      runDryRun,
	})

	result := runner.Run(ctx, approved)
	result.AddBlocked(blocked)
	result.Tally()

	if !runDryRun {
		recordRun(cfg.DataDir, result, logger)
	}
	return result
}

func recordRun(dataDir string, result *pipeline.RunResult, logger *telemetry.Logger) {
	store, err := history.Open(dataDir)
	if err != nil {
		logger.Warn().Err(err).Msg("history store unavailable")
		return
	}
	defer store.Close()
	if err := store.Append(result); err != nil {
		logger.Warn().Err(err).Msg("failed to record run history")
	}
}
