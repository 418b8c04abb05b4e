// ABOUTME: Configuration loading and parsing for the genji agent
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agent configuration
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Session  SessionConfig  `yaml:"session"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
	Debug    bool           `yaml:"debug"`
}

// StorageConfig holds on-device database configuration
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig holds session timing configuration
type SessionConfig struct {
	// DurationDays is the persistent-session lifetime preference (1-30).
	DurationDays int `yaml:"duration_days"`

	RegisterTimeout time.Duration `yaml:"-"`
	ProbeTimeout    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RegisterTimeoutRaw string `yaml:"register_timeout"`
	ProbeTimeoutRaw    string `yaml:"probe_timeout"`
}

// RegistryConfig holds on-chain version registry configuration
type RegistryConfig struct {
	RPCURL   string `yaml:"rpc_url"`
	Contract string `yaml:"contract"`
	// Version pins which release the installed build claims to be.
	Version string `yaml:"version"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Path: "genji.db"},
		Session: SessionConfig{
			DurationDays:    7,
			RegisterTimeout: 45 * time.Second,
			ProbeTimeout:    3 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Session.DurationDays != 0 && (c.Session.DurationDays < 1 || c.Session.DurationDays > 30) {
		return fmt.Errorf("session.duration_days must be between 1 and 30")
	}
	if c.Registry.RPCURL != "" && c.Registry.Contract == "" {
		return fmt.Errorf("registry.contract is required when registry.rpc_url is set")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	cfg.Session.RegisterTimeout = 45 * time.Second
	if cfg.Session.RegisterTimeoutRaw != "" {
		cfg.Session.RegisterTimeout, err = time.ParseDuration(cfg.Session.RegisterTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing register_timeout %q: %w", cfg.Session.RegisterTimeoutRaw, err)
		}
	}

	cfg.Session.ProbeTimeout = 3 * time.Second
	if cfg.Session.ProbeTimeoutRaw != "" {
		cfg.Session.ProbeTimeout, err = time.ParseDuration(cfg.Session.ProbeTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing probe_timeout %q: %w", cfg.Session.ProbeTimeoutRaw, err)
		}
	}

	return nil
}
