package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/decom/confirm"
	awsprovider "github.com/yairfalse/decom/providers/aws"
	"github.com/yairfalse/decom/telemetry"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which instances would be decommissioned",
	Long: `Locate instances matching the tag filters and print what a run
would do. Issues only read calls; nothing is created or terminated.`,
	Example: `  decom plan --tags Project=Automation --tags Environment=Test,Dev
  decom plan --config decom.yaml`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVar(&runPolicyFile, "policy", "", "Rego policy file guarding candidates")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	if runPolicyFile != "" {
		cfg.Guard.PolicyFile = runPolicyFile
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := telemetry.NewConsoleLogger("decom")

	client, err := awsprovider.New(ctx, cfg.Region)
	if err != nil {
		fatal(err)
	}

	candidates, blocked, err := locateAndGuard(ctx, cfg, client, logger)
	if err != nil {
		fatal(err)
	}

	out := cmd.OutOrStdout()
	if len(candidates) == 0 && len(blocked) == 0 {
		cmd.Println("No instances match the given tag filters.")
		return nil
	}

	if len(candidates) > 0 {
		cmd.Printf("%d instance(s) would be decommissioned:\n\n", len(candidates))
		confirm.RenderCandidates(out, candidates)
	}
	for _, b := range blocked {
		cmd.Printf("blocked by policy: %s (%s)\n", b.InstanceID, b.Error)
	}
	return nil
}
