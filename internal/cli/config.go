package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/simpool/internal/config"
)

// ConfigCmd shows or manages configuration
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"withargs" help:"Show current configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show configuration file path"`
	Generate ConfigGenerateCmd `cmd:"" help:"Generate sample configuration file"`
}

// ConfigShowCmd shows current configuration
type ConfigShowCmd struct{}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.config()

	if globals.Format == "ndjson" {
		output := map[string]interface{}{
			"type":             "config",
			"format":           cfg.Format,
			"quiet":            cfg.Quiet,
			"verbose":          cfg.Verbose,
			"device_set_path":  cfg.DeviceSetPath,
			"history_dir":      globals.historyDir(),
			"deletion_timeout": cfg.DeletionTimeout.String(),
			"poll_interval":    cfg.PollInterval.String(),
			"shutdown_timeout": cfg.ShutdownTimeout.String(),
			"startup":          cfg.Startup,
			"defaults":         cfg.Defaults,
		}
		encoder := json.NewEncoder(globals.Stdout)
		return encoder.Encode(output)
	}

	// Text output
	fmt.Fprintln(globals.Stdout, "Current Configuration:")
	fmt.Fprintln(globals.Stdout, "")
	fmt.Fprintf(globals.Stdout, "  format:           %s\n", cfg.Format)
	fmt.Fprintf(globals.Stdout, "  quiet:            %v\n", cfg.Quiet)
	fmt.Fprintf(globals.Stdout, "  verbose:          %v\n", cfg.Verbose)
	fmt.Fprintf(globals.Stdout, "  device_set_path:  %s\n", cfg.DeviceSetPath)
	fmt.Fprintf(globals.Stdout, "  history_dir:      %s\n", globals.historyDir())
	fmt.Fprintf(globals.Stdout, "  deletion_timeout: %s\n", cfg.DeletionTimeout)
	fmt.Fprintf(globals.Stdout, "  poll_interval:    %s\n", cfg.PollInterval)
	fmt.Fprintf(globals.Stdout, "  shutdown_timeout: %s\n", cfg.ShutdownTimeout)
	fmt.Fprintln(globals.Stdout, "")
	fmt.Fprintln(globals.Stdout, "Startup:")
	fmt.Fprintf(globals.Stdout, "  kill_spurious:                %v\n", cfg.Startup.KillSpurious)
	fmt.Fprintf(globals.Stdout, "  delete_all:                   %v\n", cfg.Startup.DeleteAll)
	fmt.Fprintf(globals.Stdout, "  kill_all:                     %v\n", cfg.Startup.KillAll)
	fmt.Fprintf(globals.Stdout, "  kill_untracked:               %v\n", cfg.Startup.KillUntracked)
	fmt.Fprintf(globals.Stdout, "  ignore_spurious_kill_failure: %v\n", cfg.Startup.IgnoreSpuriousKillFailure)
	fmt.Fprintln(globals.Stdout, "")
	fmt.Fprintln(globals.Stdout, "Defaults:")
	fmt.Fprintf(globals.Stdout, "  device_type: %s\n", cfg.Defaults.DeviceType)
	fmt.Fprintf(globals.Stdout, "  runtime:     %s\n", cfg.Defaults.Runtime)
	if cfg.Defaults.Locale != "" {
		fmt.Fprintf(globals.Stdout, "  locale:      %s\n", cfg.Defaults.Locale)
	}
	fmt.Fprintf(globals.Stdout, "  options:     %s\n", cfg.Defaults.Options)

	if path := config.ConfigFile(); path != "" {
		fmt.Fprintln(globals.Stdout, "")
		fmt.Fprintf(globals.Stdout, "Loaded from: %s\n", path)
	}

	return nil
}

// ConfigPathCmd shows config file path
type ConfigPathCmd struct{}

// Run executes the config path command
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()

	if globals.Format == "ndjson" {
		output := map[string]interface{}{
			"type": "config_path",
			"path": path,
		}
		encoder := json.NewEncoder(globals.Stdout)
		return encoder.Encode(output)
	}

	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found")
		fmt.Fprintln(globals.Stdout, "")
		fmt.Fprintln(globals.Stdout, "Create one at:")
		fmt.Fprintln(globals.Stdout, "  ./.simpool.yaml")
		fmt.Fprintln(globals.Stdout, "  ~/.simpool.yaml")
		fmt.Fprintln(globals.Stdout, "  ~/.config/simpool/config.yaml")
	} else {
		fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	}

	return nil
}

// ConfigGenerateCmd generates a sample configuration file
type ConfigGenerateCmd struct{}

// Run executes the config generate command
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	sampleConfig := `# simpool configuration file
# Place this file at ./.simpool.yaml, ~/.simpool.yaml, or ~/.config/simpool/config.yaml

# Output format: "ndjson" (default when piped) or "text"
format: ndjson

# Only log warnings and errors
quiet: false

# Log device set interactions and history events
verbose: false

# Device set root; empty uses the user's default set
# device_set_path: /tmp/simpool/devices

# Where simulators allocated with persist_history write <UDID>.json
# history_dir: ~/.local/state/simpool/history

# How long a deleted simulator may stay listed before giving up
deletion_timeout: 30s

# How often the device set is polled while waiting
poll_interval: 500ms

# How long to wait for a simulator to shut down
shutdown_timeout: 30s

# Preconditions applied when a pool starts, in this order
startup:
  kill_spurious: false
  delete_all: false
  kill_all: false
  kill_untracked: false
  ignore_spurious_kill_failure: false

# Default allocation for simpool exec
defaults:
  device_type: iPhone 15
  runtime: iOS 17.0
  # locale: fr_FR
  options: reuse,create,shutdown_on_allocate
`

	fmt.Fprint(globals.Stdout, sampleConfig)
	return nil
}
