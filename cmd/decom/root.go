package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "decom",
		Short: "Backup-then-terminate EC2 decommissioning",
		Long: `Decom retires EC2 instances safely.

It locates instances by tag, shows you exactly what it found, and only
after explicit confirmation runs each instance through a strict pipeline:
create a backup AMI, wait until the image is available, strip termination
and stop protection, then terminate and confirm the state transition.

No instance is ever terminated without a verified backup.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`decom {{.Version}}
`)
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to yaml config file")
	rootCmd.PersistentFlags().StringVar(&flagRegion, "region", "", "AWS region (overrides config)")
	rootCmd.PersistentFlags().StringArrayVar(&flagTags, "tags", nil, "Tag filter Key=V1,V2 (repeatable, ANDed)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", defaultDataDir(), "Directory for audit log and run history")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}
