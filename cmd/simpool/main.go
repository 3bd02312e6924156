package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
	"github.com/vburojevic/simpool/internal/cli"
	"github.com/vburojevic/simpool/internal/config"
	"github.com/vburojevic/simpool/internal/logging"
	"go.uber.org/zap"
)

const quickStart = `simpool - allocate, recycle and free iOS simulators

START HERE:
  simpool exec -o reuse,create -- xcodebuild test -destination "id=$SIMULATOR_UDID" ...

Other useful commands:
  simpool list --summary                 Show the pool
  simpool kill --mode untracked          Shut down simulators nobody allocated
  simpool history <UDID>                 Replay a simulator's recorded history
  simpool doctor                         Check Xcode and configuration
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	// People at a terminal get tables unless they asked for ndjson somewhere
	format := cfg.Format
	if config.ConfigFile() == "" && os.Getenv("SIMPOOL_FORMAT") == "" && isatty.IsTerminal(os.Stdout.Fd()) {
		format = "text"
	}

	var c cli.CLI

	// Apply config defaults before parsing
	// These will be overridden by CLI flags if specified
	vars := kong.Vars{
		"config_format":      format,
		"config_device_set":  cfg.DeviceSetPath,
		"config_device_type": cfg.Defaults.DeviceType,
		"config_runtime":     cfg.Defaults.Runtime,
		"config_locale":      cfg.Defaults.Locale,
		"config_options":     cfg.Defaults.Options,
	}

	ctx := kong.Parse(&c,
		kong.Name("simpool"),
		kong.Description("simpool: a pool of reusable iOS simulators\n\nSTART HERE: simpool exec -- <command using $SIMULATOR_UDID>"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	// Create globals with config fallbacks
	globals := cli.NewGlobalsWithConfig(&c, cfg)
	globals.Logger = logging.New(globals.Verbose, globals.Quiet)

	err = ctx.Run(globals)
	if flushErr := globals.FlushMetrics(); flushErr != nil {
		globals.Logger.Warn("failed to write metrics file", zap.String("path", globals.MetricsFile), zap.Error(flushErr))
	}
	_ = globals.Logger.Sync()

	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
