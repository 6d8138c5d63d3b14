package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Engine       EngineConfig       `toml:"engine"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Retention    RetentionConfig    `toml:"retention"`
	Logging      LoggingConfig      `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// EngineConfig points at the external execution engine
type EngineConfig struct {
	BaseURL        string `toml:"base_url"`        // Execution engine endpoint, e.g. http://localhost:9090
	RequestTimeout string `toml:"request_timeout"` // e.g. "30s" - per-call HTTP timeout
}

// OrchestratorConfig tunes the batch orchestration core
type OrchestratorConfig struct {
	CancelAckTimeout string  `toml:"cancel_ack_timeout"` // e.g. "30s" - bound on remote cancel acknowledgment
	CancelRetries    int     `toml:"cancel_retries"`     // Cancel request attempts before forcing local state
	DispatchRate     float64 `toml:"dispatch_rate"`      // Max dispatches/sec to the engine (0 = unlimited)
}

// RetentionConfig controls the scheduled cleanup of aged terminal jobs
type RetentionConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
	MaxAge   string `toml:"max_age"`  // e.g. "2160h" (90 days) - terminal jobs older than this are deleted
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns the built-in defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/runbook",
				ResetOnStartup: false,
			},
		},
		Engine: EngineConfig{
			BaseURL:        "http://localhost:9090",
			RequestTimeout: "30s",
		},
		Orchestrator: OrchestratorConfig{
			CancelAckTimeout: "30s",
			CancelRetries:    3,
			DispatchRate:     0,
		},
		Retention: RetentionConfig{
			Enabled:  false,       // Disabled by default - user must explicitly opt-in
			Schedule: "0 3 * * *", // Daily at 03:00
			MaxAge:   "2160h",     // 90 days
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> files -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("RUNBOOK_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("RUNBOOK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("RUNBOOK_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if badgerPath := os.Getenv("RUNBOOK_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if engineURL := os.Getenv("RUNBOOK_ENGINE_URL"); engineURL != "" {
		config.Engine.BaseURL = engineURL
	}
	if level := os.Getenv("RUNBOOK_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// CancelAckTimeout parses the configured cancel acknowledgment bound
func (c *OrchestratorConfig) CancelAckTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.CancelAckTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RequestTimeoutDuration parses the engine call timeout
func (c *EngineConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// MaxAgeDuration parses the retention age bound
func (c *RetentionConfig) MaxAgeDuration() time.Duration {
	d, err := time.ParseDuration(c.MaxAge)
	if err != nil || d <= 0 {
		return 90 * 24 * time.Hour
	}
	return d
}
