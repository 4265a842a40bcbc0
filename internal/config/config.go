// Package config provides the on-disk configuration layer for the
// workflow engine: global and per-project settings merged into one
// Config, plus the env-var overrides named in the external-interfaces
// contract.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// DefaultAgentTimeout is the default engine-invocation timeout
// (CODEMACHINE_AGENT_TIMEOUT, ms, default 1,800,000 = 30 minutes).
const DefaultAgentTimeout = 30 * time.Minute

// PathsConfig holds the `.codemachine/` tree layout.
type PathsConfig struct {
	StateDir string `toml:"state_dir"` // holds template.json
	MemDir   string `toml:"mem_dir"`   // holds memory/directive.json
	LogDir   string `toml:"log_dir"`   // holds logs/workflow-debug.log
}

// EngineConfig holds engine-invocation defaults.
type EngineConfig struct {
	DefaultEngine string        `toml:"default_engine"`
	Timeout       time.Duration `toml:"timeout"`
}

// AuthCacheConfig holds Auth Cache tuning.
type AuthCacheConfig struct {
	TTL time.Duration `toml:"ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the engine's merged configuration.
type Config struct {
	Version   string          `toml:"version"`
	Paths     PathsConfig     `toml:"paths"`
	Engine    EngineConfig    `toml:"engine"`
	AuthCache AuthCacheConfig `toml:"auth_cache"`
	Logging   LoggingConfig   `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			StateDir: ".codemachine",
			MemDir:   ".codemachine/memory",
			LogDir:   ".codemachine/logs",
		},
		Engine: EngineConfig{
			DefaultEngine: "claude",
			Timeout:       DefaultAgentTimeout,
		},
		AuthCache: AuthCacheConfig{
			TTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
			File:   ".codemachine/logs/workflow-debug.log",
		},
	}
}

// Load loads configuration from a single file, merging with defaults,
// then applies env-var overrides. A missing file is not an error: the
// defaults are returned with env-var overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations:
// ~/.codemachine/config.toml, then <dir>/.codemachine/config.toml
// (project overrides global), then applies env-var overrides.
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		globalConfig := filepath.Join(home, ".codemachine", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	projectConfig := filepath.Join(dir, ".codemachine", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies the env vars named in : LOG_LEVEL, DEBUG,
// CODEMACHINE_AGENT_TIMEOUT.
func applyEnvOverrides(cfg *Config) {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = LogLevel(lvl)
	}
	if truthy(os.Getenv("DEBUG")) {
		cfg.Logging.Level = LogLevelDebug
	}
	if ms := os.Getenv("CODEMACHINE_AGENT_TIMEOUT"); ms != "" {
		if v, err := strconv.ParseInt(ms, 10, 64); err == nil && v > 0 {
			cfg.Engine.Timeout = time.Duration(v) * time.Millisecond
		}
	}
}

// truthy mirrors the loose "truthy if set to anything but 0/false"
// convention used for the DEBUG env var.
func truthy(v string) bool {
	switch v {
	case "", "0", "false", "False", "FALSE":
		return false
	default:
		return true
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive")
	}
	if c.AuthCache.TTL <= 0 {
		return fmt.Errorf("auth_cache.ttl must be positive")
	}
	return nil
}

// StateDir returns the absolute `.codemachine` directory path.
func (c *Config) StateDir(baseDir string) string {
	if filepath.IsAbs(c.Paths.StateDir) {
		return c.Paths.StateDir
	}
	return filepath.Join(baseDir, c.Paths.StateDir)
}

// TemplateTrackingPath returns the absolute path to template.json.
func (c *Config) TemplateTrackingPath(baseDir string) string {
	return filepath.Join(c.StateDir(baseDir), "template.json")
}

// MemDir returns the absolute memory directory path (holds
// directive.json).
func (c *Config) MemDir(baseDir string) string {
	if filepath.IsAbs(c.Paths.MemDir) {
		return c.Paths.MemDir
	}
	return filepath.Join(baseDir, c.Paths.MemDir)
}

// DirectivePath returns the absolute path to memory/directive.json.
func (c *Config) DirectivePath(baseDir string) string {
	return filepath.Join(c.MemDir(baseDir), "directive.json")
}

// LogFile returns the absolute debug-log file path.
func (c *Config) LogFile(baseDir string) string {
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(baseDir, c.Logging.File)
}
