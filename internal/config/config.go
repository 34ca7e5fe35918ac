// Package config loads casewise configuration from .casewise/config.yaml
// with environment variable overrides. Missing file means defaults; a
// malformed file is an error, not a silent fallback.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the config path relative to the workspace root.
const ConfigFileName = ".casewise/config.yaml"

// Config holds all casewise configuration.
type Config struct {
	// LLM provider for the analysis tasks
	LLM LLMConfig `yaml:"llm"`

	// Pipeline orchestration settings
	Pipeline PipelineConfig `yaml:"pipeline"`

	// SQLite result store
	Store StoreConfig `yaml:"store"`

	// Intake directory watcher
	Watch WatchConfig `yaml:"watch"`

	// Debug logging
	Logging LoggingConfig `yaml:"logging"`

	// OTLP trace export
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LLMConfig configures the model client tasks run against.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	// MaxRemediations bounds the grade audit loop's rejection rounds.
	MaxRemediations int `yaml:"max_remediations"`

	// TaskTimeout caps a single task invocation.
	TaskTimeout string `yaml:"task_timeout"`

	// DegradedForcesPartial marks cases partial when a required task
	// finishes degraded instead of success.
	DegradedForcesPartial bool `yaml:"degraded_forces_partial"`

	// GraphOverlayPath points at an optional YAML stage graph overlay.
	GraphOverlayPath string `yaml:"graph_overlay_path"`
}

// StoreConfig configures the result store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	AuditDir     string `yaml:"audit_dir"`
}

// WatchConfig configures the intake watcher.
type WatchConfig struct {
	IntakeDir string `yaml:"intake_dir"`
	// Settle is how long a file must stay quiet before it is ingested.
	Settle string `yaml:"settle"`
}

// LoggingConfig configures the debug file loggers. Categories maps a log
// category to enabled; an empty map means all categories when debug is on.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// TelemetryConfig configures OTLP/HTTP trace export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-20250514",
			Timeout:  "120s",
		},
		Pipeline: PipelineConfig{
			MaxRemediations: 2,
			TaskTimeout:     "120s",
		},
		Store: StoreConfig{
			DatabasePath: ".casewise/casewise.db",
			AuditDir:     ".casewise",
		},
		Watch: WatchConfig{
			IntakeDir: "intake",
			Settle:    "2s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4318",
			Service:  "casewise",
		},
	}
}

// Load loads configuration for a workspace, layering the YAML file over
// defaults and the environment over both.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration back to the workspace.
func (c *Config) Save(workspace string) error {
	path := filepath.Join(workspace, ConfigFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.Provider == "anthropic" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("CASEWISE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("CASEWISE_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("CASEWISE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if dir := os.Getenv("CASEWISE_INTAKE"); dir != "" {
		c.Watch.IntakeDir = dir
	}
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		c.Telemetry.Endpoint = ep
		c.Telemetry.Enabled = true
	}
	if os.Getenv("CASEWISE_DEBUG") == "1" {
		c.Logging.Debug = true
		c.Logging.Level = "debug"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.MaxRemediations < 0 {
		return fmt.Errorf("pipeline.max_remediations must be >= 0, got %d", c.Pipeline.MaxRemediations)
	}
	if _, err := time.ParseDuration(c.Pipeline.TaskTimeout); err != nil {
		return fmt.Errorf("pipeline.task_timeout: %w", err)
	}
	if c.LLM.Timeout != "" {
		if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
			return fmt.Errorf("llm.timeout: %w", err)
		}
	}
	switch c.LLM.Provider {
	case "anthropic", "gemini":
	default:
		return fmt.Errorf("llm.provider must be anthropic or gemini, got %q", c.LLM.Provider)
	}
	return nil
}

// GetTaskTimeout returns the per-task timeout as a duration.
func (c *Config) GetTaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.TaskTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetLLMTimeout returns the model request timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetWatchSettle returns the intake settle window as a duration.
func (c *Config) GetWatchSettle() time.Duration {
	d, err := time.ParseDuration(c.Watch.Settle)
	if err != nil {
		return 2 * time.Second
	}
	return d
}
