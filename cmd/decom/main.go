// Decom - backup-then-terminate EC2 decommissioning.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yairfalse/decom/config"
	"github.com/yairfalse/decom/types"
)

var (
	flagConfig  string
	flagRegion  string
	flagTags    []string
	flagDataDir string
	flagDebug   bool
)

func main() {
	Execute()
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".decom"
	}
	return filepath.Join(home, ".decom")
}

// loadConfig merges the optional yaml file with command-line overrides.
// Flags win over file values; tag filters from --tags replace the file's
// filter list entirely.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.Config{Version: "1"}
		cfg.ApplyDefaults()
	}

	if flagRegion != "" {
		cfg.Region = flagRegion
	}
	if len(flagTags) > 0 {
		filters, err := types.ParseTagFilters(flagTags)
		if err != nil {
			return nil, err
		}
		cfg.Filters = cfg.Filters[:0]
		for _, f := range filters {
			cfg.Filters = append(cfg.Filters, config.FilterSpec{Key: f.Key, Values: f.Values})
		}
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}

	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_REGION")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyTimeout rescales both poll loops so the whole run fits roughly
// inside the requested wall-clock budget.
func applyTimeout(cfg *config.Config, seconds int) {
	if seconds <= 0 {
		return
	}
	budget := time.Duration(seconds) * time.Second
	if attempts := int(budget / cfg.Backup.PollInterval); attempts > 0 {
		cfg.Backup.MaxAttempts = attempts
	}
	if attempts := int(budget / cfg.Terminate.PollInterval); attempts > 0 {
		cfg.Terminate.MaxAttempts = attempts
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
