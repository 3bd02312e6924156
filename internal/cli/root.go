package cli

import (
	"context"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vburojevic/simpool/internal/config"
	"github.com/vburojevic/simpool/internal/pool"
	"github.com/vburojevic/simpool/internal/simulator"
	"github.com/vburojevic/simpool/internal/termination"
	"go.uber.org/zap"
)

// CLI is the root command structure for simpool
type CLI struct {
	// Global flags
	Format      string `short:"f" default:"${config_format}" enum:"ndjson,text" help:"Output format"`
	Quiet       bool   `short:"q" help:"Only log warnings and errors"`
	Verbose     bool   `short:"v" help:"Log device set interactions and history events"`
	DeviceSet   string `name:"device-set" default:"${config_device_set}" help:"Device set root (default: the user's default set)"`
	MetricsFile string `name:"metrics-file" help:"Write pool metrics in Prometheus text format to this file on exit"`

	// Commands
	Version  VersionCmd  `cmd:"" help:"Show version information"`
	List     ListCmd     `cmd:"" help:"List simulators in the device set"`
	Exec     ExecCmd     `cmd:"" help:"Allocate a simulator, run a command against it, then free it"`
	History  HistoryCmd  `cmd:"" help:"Show the persisted history of a simulator"`
	Kill     KillCmd     `cmd:"" help:"Kill unallocated simulators or stray simulator processes"`
	Describe DescribeCmd `cmd:"" help:"Describe the pool"`
	Config   ConfigCmd   `cmd:"" help:"Show or manage configuration"`
	Doctor   DoctorCmd   `cmd:"" help:"Check system requirements and configuration"`
}

// Globals holds shared state for all commands
type Globals struct {
	Format      string
	Quiet       bool
	Verbose     bool
	DeviceSet   string
	MetricsFile string
	Stdout      io.Writer
	Stderr      io.Writer
	Config      *config.Config
	Logger      *zap.Logger

	// Gateway and Processes default to simctl and the host process table
	Gateway   simulator.Gateway
	Processes termination.ProcessLister
	Registry  *prometheus.Registry
}

// NewGlobals creates a new Globals instance from CLI flags
func NewGlobals(cli *CLI) *Globals {
	return NewGlobalsWithConfig(cli, config.Default())
}

// NewGlobalsWithConfig creates a new Globals instance with config fallbacks
func NewGlobalsWithConfig(cli *CLI, cfg *config.Config) *Globals {
	g := &Globals{
		Format:      cli.Format,
		Quiet:       cli.Quiet,
		Verbose:     cli.Verbose,
		DeviceSet:   cli.DeviceSet,
		MetricsFile: cli.MetricsFile,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Config:      cfg,
		Registry:    prometheus.NewRegistry(),
	}

	// Apply config values if CLI flags weren't explicitly set
	if cfg != nil {
		if !cli.Quiet && cfg.Quiet {
			g.Quiet = cfg.Quiet
		}
		if !cli.Verbose && cfg.Verbose {
			g.Verbose = cfg.Verbose
		}
		if g.DeviceSet == "" {
			g.DeviceSet = cfg.DeviceSetPath
		}
	}

	return g
}

func (g *Globals) config() *config.Config {
	if g.Config == nil {
		return config.Default()
	}
	return g.Config
}

func (g *Globals) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *Globals) gateway() simulator.Gateway {
	if g.Gateway == nil {
		g.Gateway = simulator.NewManager(g.DeviceSet)
	}
	return g.Gateway
}

func (g *Globals) historyDir() string {
	if dir := g.config().HistoryDir; dir != "" {
		return dir
	}
	return pool.DefaultHistoryDir()
}

// openPool creates a pool over the configured device set. Startup
// preconditions from the config only run when startup is set.
func (g *Globals) openPool(ctx context.Context, startup bool) (*pool.Pool, error) {
	cfg := g.config()
	pc := pool.Config{
		Gateway:         g.gateway(),
		Processes:       g.Processes,
		Logger:          g.logger(),
		HistoryDir:      g.historyDir(),
		DeletionTimeout: cfg.DeletionTimeout,
		PollInterval:    cfg.PollInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if g.Registry != nil {
		pc.Registerer = g.Registry
	}
	if startup {
		pc.KillSpuriousOnStart = cfg.Startup.KillSpurious
		pc.DeleteAllOnStart = cfg.Startup.DeleteAll
		pc.KillAllOnStart = cfg.Startup.KillAll
		pc.KillUntrackedOnStart = cfg.Startup.KillUntracked
		pc.IgnoreSpuriousKillFailure = cfg.Startup.IgnoreSpuriousKillFailure
	}
	return pool.New(ctx, pc)
}

// FlushMetrics writes the metrics registry to MetricsFile, if one was given
func (g *Globals) FlushMetrics() error {
	if g.MetricsFile == "" || g.Registry == nil {
		return nil
	}
	return prometheus.WriteToTextfile(g.MetricsFile, g.Registry)
}

// VersionCmd shows version information
type VersionCmd struct{}

// Run executes the version command
func (v *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return newEmitter(globals).Metadata(Version, Commit)
	}
	_, err := io.WriteString(globals.Stdout, "simpool version "+Version+" ("+Commit+")\n")
	return err
}

// Version information (set at build time)
var (
	Version = "dev"
	Commit  = "none"
)
