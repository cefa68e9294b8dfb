package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentsConfig configures how the run command builds its agent roster.
type AgentsConfig struct {
	// Dir is the directory scanned for agent definition files
	Dir string `yaml:"dir"`

	// DefaultCommand is the command template used for capabilities no
	// definition file covers. "{capability}" expands to the capability name.
	DefaultCommand string `yaml:"default_command"`
}

// AuditConfig configures run history persistence.
type AuditConfig struct {
	// Enabled turns the audit log on
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the audit database.
	// Relative paths resolve under the guild home.
	DBPath string `yaml:"db_path"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP trace collector endpoint (empty disables tracing)
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the exporter connection
	Insecure bool `yaml:"insecure"`
}

// Config represents guild configuration options
type Config struct {
	// MaxConcurrency is the maximum number of concurrently dispatched tasks
	MaxConcurrency int `yaml:"max_concurrency"`

	// TaskTimeout is the maximum execution time for a single task
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// IterationBudget is the number of scheduling iterations before a run
	// is declared exhausted
	IterationBudget int `yaml:"iteration_budget"`

	// AttemptCeiling is the number of attempts a capability gets on one
	// feature before the feature is rejected
	AttemptCeiling int `yaml:"attempt_ceiling"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs will be written.
	// Relative paths resolve under the guild home.
	LogDir string `yaml:"log_dir"`

	// Agents configures agent discovery
	Agents AgentsConfig `yaml:"agents"`

	// Audit configures run history persistence
	Audit AuditConfig `yaml:"audit"`

	// Telemetry configures trace export
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Installed is the package -> version table the dependency resolver
	// checks requirements against
	Installed map[string]string `yaml:"installed"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency:  4,
		TaskTimeout:     2 * time.Minute,
		IterationBudget: 10,
		AttemptCeiling:  3,
		LogLevel:        "info",
		LogDir:          "logs",
		Agents: AgentsConfig{
			Dir: "agents",
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "audit.db",
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, return defaults (not an error)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Shadow struct so durations can be written as strings ("90s", "5m")
	type yamlConfig struct {
		MaxConcurrency  int               `yaml:"max_concurrency"`
		TaskTimeout     string            `yaml:"task_timeout"`
		IterationBudget int               `yaml:"iteration_budget"`
		AttemptCeiling  int               `yaml:"attempt_ceiling"`
		LogLevel        string            `yaml:"log_level"`
		LogDir          string            `yaml:"log_dir"`
		Agents          AgentsConfig      `yaml:"agents"`
		Audit           AuditConfig       `yaml:"audit"`
		Telemetry       TelemetryConfig   `yaml:"telemetry"`
		Installed       map[string]string `yaml:"installed"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	if yamlCfg.MaxConcurrency != 0 {
		cfg.MaxConcurrency = yamlCfg.MaxConcurrency
	}
	if yamlCfg.TaskTimeout != "" {
		timeout, err := time.ParseDuration(yamlCfg.TaskTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid task_timeout format %q: %w", yamlCfg.TaskTimeout, err)
		}
		cfg.TaskTimeout = timeout
	}
	if yamlCfg.IterationBudget != 0 {
		cfg.IterationBudget = yamlCfg.IterationBudget
	}
	if yamlCfg.AttemptCeiling != 0 {
		cfg.AttemptCeiling = yamlCfg.AttemptCeiling
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.Agents.Dir != "" {
		cfg.Agents.Dir = yamlCfg.Agents.Dir
	}
	if yamlCfg.Agents.DefaultCommand != "" {
		cfg.Agents.DefaultCommand = yamlCfg.Agents.DefaultCommand
	}
	if yamlCfg.Audit.DBPath != "" {
		cfg.Audit.DBPath = yamlCfg.Audit.DBPath
	}
	if yamlCfg.Telemetry.OTLPEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = yamlCfg.Telemetry.OTLPEndpoint
	}
	if yamlCfg.Telemetry.Insecure {
		cfg.Telemetry.Insecure = yamlCfg.Telemetry.Insecure
	}
	if yamlCfg.Installed != nil {
		cfg.Installed = yamlCfg.Installed
	}

	// audit.enabled defaults to true, so "enabled: false" has to be told
	// apart from the key being absent
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err == nil {
		if auditSection, exists := rawMap["audit"]; exists && auditSection != nil {
			if auditMap, ok := auditSection.(map[string]interface{}); ok {
				if _, exists := auditMap["enabled"]; exists {
					cfg.Audit.Enabled = yamlCfg.Audit.Enabled
				}
			}
		}
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .guild/config.yaml in the
// specified directory
// If the directory or file doesn't exist, returns default configuration
// without error
func LoadConfigFromDir(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ".guild", "config.yaml")
	return LoadConfig(configPath)
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(maxConcurrency *int, taskTimeout *time.Duration, iterationBudget *int, attemptCeiling *int, logDir *string, agentsDir *string) {
	if maxConcurrency != nil {
		c.MaxConcurrency = *maxConcurrency
	}
	if taskTimeout != nil {
		c.TaskTimeout = *taskTimeout
	}
	if iterationBudget != nil {
		c.IterationBudget = *iterationBudget
	}
	if attemptCeiling != nil {
		c.AttemptCeiling = *attemptCeiling
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if agentsDir != nil {
		c.Agents.Dir = *agentsDir
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be >= 0, got %d", c.MaxConcurrency)
	}

	// TaskTimeout can be 0 (no timeout) or positive, negative is invalid
	if c.TaskTimeout < 0 {
		return fmt.Errorf("task_timeout must be >= 0, got %v", c.TaskTimeout)
	}

	if c.IterationBudget < 1 {
		return fmt.Errorf("iteration_budget must be >= 1, got %d", c.IterationBudget)
	}
	if c.AttemptCeiling < 1 {
		return fmt.Errorf("attempt_ceiling must be >= 1, got %d", c.AttemptCeiling)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Audit.Enabled && c.Audit.DBPath == "" {
		return fmt.Errorf("audit.db_path cannot be empty when the audit log is enabled")
	}

	return nil
}
