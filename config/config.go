package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/decom/types"
)

// Defaults for the polling loops. Backup waits are long because AMI
// creation of a large root volume routinely takes 15+ minutes.
const (
	DefaultBackupInterval     = 15 * time.Second
	DefaultBackupMaxAttempts  = 80
	DefaultTermInterval       = 5 * time.Second
	DefaultTermMaxAttempts    = 24
	DefaultConcurrency        = 4
	DefaultCreateRetryBackoff = 5 * time.Second
)

// Config is the main decom configuration
type Config struct {
	Version string       `yaml:"version"`
	Region  string       `yaml:"region"`
	Filters []FilterSpec `yaml:"filters"`

	Concurrency int             `yaml:"concurrency,omitempty"`
	Backup      BackupConfig    `yaml:"backup,omitempty"`
	Terminate   TerminateConfig `yaml:"terminate,omitempty"`
	Guard       GuardConfig     `yaml:"guard,omitempty"`
	DataDir     string          `yaml:"data_dir,omitempty"`
}

// FilterSpec is the yaml form of a tag filter
type FilterSpec struct {
	Key    string   `yaml:"key"`
	Values []string `yaml:"values"`
}

// BackupConfig tunes the AMI creation poll loop
type BackupConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
	NoReboot     *bool         `yaml:"no_reboot,omitempty"`
}

// TerminateConfig tunes the post-terminate state poll loop
type TerminateConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
}

// GuardConfig points at the rego policy gating candidates
type GuardConfig struct {
	PolicyFile string `yaml:"policy_file,omitempty"`
	Disabled   bool   `yaml:"disabled,omitempty"`
}

// Load reads configuration from a yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset tunables
func (c *Config) ApplyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Backup.PollInterval <= 0 {
		c.Backup.PollInterval = DefaultBackupInterval
	}
	if c.Backup.MaxAttempts <= 0 {
		c.Backup.MaxAttempts = DefaultBackupMaxAttempts
	}
	if c.Terminate.PollInterval <= 0 {
		c.Terminate.PollInterval = DefaultTermInterval
	}
	if c.Terminate.MaxAttempts <= 0 {
		c.Terminate.MaxAttempts = DefaultTermMaxAttempts
	}
}

// Validate ensures config has required fields
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if len(c.Filters) == 0 {
		return fmt.Errorf("at least one tag filter is required")
	}
	for _, f := range c.TagFilters() {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TagFilters converts the yaml filter specs to the domain type
func (c *Config) TagFilters() []types.TagFilter {
	filters := make([]types.TagFilter, 0, len(c.Filters))
	for _, spec := range c.Filters {
		filters = append(filters, types.TagFilter{Key: spec.Key, Values: spec.Values})
	}
	return filters
}

// NoReboot reports whether AMI creation should avoid rebooting the instance.
// Defaults to true, matching the original deletion script.
func (b BackupConfig) NoRebootValue() bool {
	if b.NoReboot == nil {
		return true
	}
	return *b.NoReboot
}
