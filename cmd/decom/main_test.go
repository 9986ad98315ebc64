package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/decom/config"
)

func TestLoadConfigFromFlags(t *testing.T) {
	flagConfig = ""
	flagRegion = "eu-west-1"
	flagTags = []string{"Project=Automation", "Environment=Test,Dev"}
	flagDataDir = t.TempDir()
	t.Cleanup(func() { flagConfig, flagRegion, flagTags, flagDataDir = "", "", nil, "" })

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Region)
	require.Len(t, cfg.Filters, 2)
	assert.Equal(t, "Project", cfg.Filters[0].Key)
	assert.Equal(t, []string{"Test", "Dev"}, cfg.Filters[1].Values)
	assert.Equal(t, config.DefaultConcurrency, cfg.Concurrency)
}

func TestLoadConfigRequiresFilters(t *testing.T) {
	flagConfig = ""
	flagRegion = "eu-west-1"
	flagTags = nil
	t.Cleanup(func() { flagRegion = "" })

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tag filter")
}

func TestApplyTimeoutRescalesPolling(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	applyTimeout(cfg, 300)

	// 300s budget over 15s and 5s poll intervals
	assert.Equal(t, 20, cfg.Backup.MaxAttempts)
	assert.Equal(t, 60, cfg.Terminate.MaxAttempts)
}

func TestApplyTimeoutZeroKeepsDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	applyTimeout(cfg, 0)

	assert.Equal(t, config.DefaultBackupMaxAttempts, cfg.Backup.MaxAttempts)
	assert.Equal(t, config.DefaultTermMaxAttempts, cfg.Terminate.MaxAttempts)
}
