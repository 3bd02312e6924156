package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"github.com/vburojevic/simpool/internal/domain"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	// Device set and pool settings
	DeviceSetPath   string        `mapstructure:"device_set_path"`
	HistoryDir      string        `mapstructure:"history_dir"`
	DeletionTimeout time.Duration `mapstructure:"deletion_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Startup  StartupConfig  `mapstructure:"startup"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// StartupConfig toggles the pool's startup preconditions
type StartupConfig struct {
	KillSpurious              bool `mapstructure:"kill_spurious"`
	DeleteAll                 bool `mapstructure:"delete_all"`
	KillAll                   bool `mapstructure:"kill_all"`
	KillUntracked             bool `mapstructure:"kill_untracked"`
	IgnoreSpuriousKillFailure bool `mapstructure:"ignore_spurious_kill_failure"`
}

// DefaultsConfig holds the allocation defaults used when flags are omitted
type DefaultsConfig struct {
	DeviceType string `mapstructure:"device_type"`
	Runtime    string `mapstructure:"runtime"`
	Locale     string `mapstructure:"locale"`
	Options    string `mapstructure:"options"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:          "ndjson",
		DeletionTimeout: 30 * time.Second,
		PollInterval:    500 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
		Defaults: DefaultsConfig{
			DeviceType: "iPhone 15",
			Runtime:    "iOS 17.0",
			Options:    "reuse,create,shutdown_on_allocate",
		},
	}
}

// Validate checks values that cannot be fixed up silently
func (c *Config) Validate() error {
	switch c.Format {
	case "ndjson", "text":
	default:
		return fmt.Errorf("invalid format %q: must be ndjson or text", c.Format)
	}
	if c.DeletionTimeout <= 0 {
		return fmt.Errorf("deletion_timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if _, err := c.AllocationOptions(); err != nil {
		return fmt.Errorf("defaults.options: %w", err)
	}
	return nil
}

// AllocationOptions parses the default allocation options
func (c *Config) AllocationOptions() (domain.AllocationOptions, error) {
	return domain.ParseAllocationOptions(c.Defaults.Options)
}

// Configuration returns the default simulator configuration
func (c *Config) Configuration() domain.Configuration {
	return domain.Configuration{
		DeviceType: c.Defaults.DeviceType,
		Runtime:    c.Defaults.Runtime,
		Locale:     c.Defaults.Locale,
	}
}

// Load loads configuration from files and environment
// Config file search order (highest precedence first):
// 1. ./.simpool.yaml or ./.simpool.yml
// 2. ~/.simpool.yaml or ~/.simpool.yml
// 3. $XDG_CONFIG_HOME/simpool/config.yaml (or ~/.config/simpool/config.yaml)
// 4. /etc/simpool/config.yaml
func Load() (*Config, error) {
	cfg := Default()

	configFile := findConfigFile()
	if configFile != "" {
		loaded, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Override with environment variables
	applyEnvOverrides(cfg)

	return cfg, nil
}

// findConfigFile searches for config file in standard locations
func findConfigFile() string {
	names := []string{".simpool.yaml", ".simpool.yml", "simpool.yaml", "simpool.yml"}

	home, homeErr := os.UserHomeDir()
	configDir, configDirErr := os.UserConfigDir()

	var searchPaths []string
	if cwd, err := os.Getwd(); err == nil {
		searchPaths = append(searchPaths, cwd)
	}
	if homeErr == nil {
		searchPaths = append(searchPaths, home)
	}
	if configDirErr == nil {
		searchPaths = append(searchPaths, filepath.Join(configDir, "simpool"))
	}
	searchPaths = append(searchPaths, "/etc/simpool")

	for _, dir := range searchPaths {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		// Only the dedicated config dirs hold a bare config.yaml
		if dir == filepath.Join(configDir, "simpool") || dir == "/etc/simpool" {
			path := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIMPOOL_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("SIMPOOL_QUIET"); v == "true" || v == "1" {
		cfg.Quiet = true
	}
	if v := os.Getenv("SIMPOOL_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("SIMPOOL_DEVICE_SET_PATH"); v != "" {
		cfg.DeviceSetPath = v
	}
	if v := os.Getenv("SIMPOOL_HISTORY_DIR"); v != "" {
		cfg.HistoryDir = v
	}
	if d, ok := envDuration("SIMPOOL_DELETION_TIMEOUT"); ok {
		cfg.DeletionTimeout = d
	}
	if d, ok := envDuration("SIMPOOL_POLL_INTERVAL"); ok {
		cfg.PollInterval = d
	}
	if d, ok := envDuration("SIMPOOL_SHUTDOWN_TIMEOUT"); ok {
		cfg.ShutdownTimeout = d
	}
	if v := os.Getenv("SIMPOOL_DEVICE_TYPE"); v != "" {
		cfg.Defaults.DeviceType = v
	}
	if v := os.Getenv("SIMPOOL_RUNTIME"); v != "" {
		cfg.Defaults.Runtime = v
	}
	if v := os.Getenv("SIMPOOL_LOCALE"); v != "" {
		cfg.Defaults.Locale = v
	}
	if v := os.Getenv("SIMPOOL_OPTIONS"); v != "" {
		cfg.Defaults.Options = v
	}
	if b, ok := envBool("SIMPOOL_KILL_SPURIOUS"); ok {
		cfg.Startup.KillSpurious = b
	}
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFile returns the path to the config file that would be loaded
func ConfigFile() string {
	return findConfigFile()
}
