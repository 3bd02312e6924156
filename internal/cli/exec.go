package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vburojevic/simpool/internal/domain"
	"github.com/vburojevic/simpool/internal/output"
	"github.com/vburojevic/simpool/internal/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// freeTimeout bounds freeing after the command finished or was interrupted
const freeTimeout = 2 * time.Minute

// ExecCmd allocates a simulator, runs a command with SIMULATOR_UDID set, and
// frees the simulator when the command exits
type ExecCmd struct {
	DeviceType        string        `short:"d" default:"${config_device_type}" help:"Device type to allocate (e.g., 'iPhone 15')"`
	Runtime           string        `short:"r" default:"${config_runtime}" help:"Runtime to allocate (e.g., 'iOS 17.0')"`
	Locale            string        `default:"${config_locale}" help:"Locale to apply before the command runs (e.g., fr_FR)"`
	Options           string        `short:"o" default:"${config_options}" help:"Allocation options: create, reuse, shutdown_on_allocate, erase_on_allocate, delete_on_free, erase_on_free, persist_history"`
	SkipKeyboardSetup bool          `help:"Leave keyboard preferences untouched"`
	Boot              bool          `short:"b" help:"Boot the simulator before running the command"`
	OpenURL           string        `name:"open-url" help:"Open a URL on the booted simulator (implies --boot)"`
	BootTimeout       time.Duration `default:"2m" help:"How long to wait for the simulator to boot"`
	Command           []string      `arg:"" optional:"" passthrough:"" help:"Command to run against the simulator"`
}

// booter is implemented by device sets that can boot a simulator
type booter interface {
	Boot(ctx context.Context, udid string) error
	WaitForBoot(ctx context.Context, udid string, timeout time.Duration) error
}

// urlOpener is implemented by device sets that can open URLs
type urlOpener interface {
	OpenURL(ctx context.Context, udid, url string) error
}

// Run executes the exec command
func (c *ExecCmd) Run(globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := domain.ParseAllocationOptions(c.Options)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_OPTIONS", err.Error())
	}
	cfg := domain.Configuration{
		DeviceType:        c.DeviceType,
		Runtime:           c.Runtime,
		Locale:            c.Locale,
		SkipKeyboardSetup: c.SkipKeyboardSetup,
	}

	p, err := globals.openPool(ctx, true)
	if err != nil {
		return outputPoolError(globals, err)
	}
	sim, err := p.Allocate(ctx, cfg, opts)
	if err != nil {
		return outputPoolError(globals, err)
	}

	lw := &lineWriter{globals: globals, emitter: newEmitter(globals), udid: sim.UDID()}
	lw.allocation("allocated", sim, cfg, opts)

	code, runErr := c.run(ctx, globals, p, sim, lw)

	// Free with a fresh context so an interrupt still returns the simulator
	freeCtx, cancel := context.WithTimeout(context.Background(), freeTimeout)
	defer cancel()
	if err := p.Free(freeCtx, sim); err != nil {
		return outputPoolError(globals, err)
	}
	lw.allocation("freed", sim, cfg, opts)
	if g := sim.History(); g.Path() != "" && g.PersistFailures() > 0 {
		emitWarning(globals, lw.emitter, fmt.Sprintf("%d history writes to %s failed", g.PersistFailures(), g.Path()))
	}

	if runErr != nil {
		return outputErrorCommon(globals, "EXEC_FAILED", runErr.Error(), hintForTooling(runErr))
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

func (c *ExecCmd) run(ctx context.Context, globals *Globals, p *pool.Pool, sim *pool.Simulator, lw *lineWriter) (int, error) {
	if c.Boot || c.OpenURL != "" {
		if err := c.boot(ctx, globals, p, sim); err != nil {
			return 0, err
		}
	}
	if len(c.Command) == 0 {
		return 0, nil
	}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Env = append(os.Environ(),
		"SIMULATOR_UDID="+sim.UDID(),
		"SIMULATOR_NAME="+sim.Name(),
	)
	if dataPath := sim.Device().DataPath; dataPath != "" {
		cmd.Env = append(cmd.Env, "SIMULATOR_DATA_PATH="+dataPath)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	globals.logger().Debug("running command", zap.Strings("argv", c.Command), zap.String("udid", sim.UDID()))
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start command: %w", err)
	}

	var group errgroup.Group
	group.Go(func() error { return lw.pump("stdout", stdout) })
	group.Go(func() error { return lw.pump("stderr", stderr) })
	pumpErr := group.Wait()

	code := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("command failed: %w", err)
		}
		code = exitErr.ExitCode()
	}
	if pumpErr != nil {
		return code, pumpErr
	}
	lw.exit(code)
	return code, nil
}

// boot boots the simulator, waits for it, and folds the new state into its
// history before opening the optional URL
func (c *ExecCmd) boot(ctx context.Context, globals *Globals, p *pool.Pool, sim *pool.Simulator) error {
	b, ok := globals.gateway().(booter)
	if !ok {
		return fmt.Errorf("device set does not support booting")
	}
	if err := b.Boot(ctx, sim.UDID()); err != nil {
		return err
	}
	if err := b.WaitForBoot(ctx, sim.UDID(), c.BootTimeout); err != nil {
		return err
	}
	if _, err := p.Refresh(ctx); err != nil {
		return err
	}
	if c.OpenURL == "" {
		return nil
	}
	o, ok := globals.gateway().(urlOpener)
	if !ok {
		return fmt.Errorf("device set does not support opening URLs")
	}
	return o.OpenURL(ctx, sim.UDID(), c.OpenURL)
}

// lineWriter serializes output from the stdout and stderr pumps
type lineWriter struct {
	globals *Globals
	emitter *output.Emitter
	udid    string

	mu sync.Mutex
}

func (w *lineWriter) pump(stream string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		w.line(stream, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("%s line too long (>1MiB): %w", stream, err)
		}
		return fmt.Errorf("%s read error: %w", stream, err)
	}
	return nil
}

func (w *lineWriter) line(stream, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.globals.Format == "ndjson" {
		w.emitter.Console(&output.ConsoleOutput{
			Timestamp: time.Now().Format(time.RFC3339Nano),
			Stream:    stream,
			Message:   msg,
			UDID:      w.udid,
		})
		return
	}
	dst := w.globals.Stdout
	if stream == "stderr" {
		dst = w.globals.Stderr
	}
	output.NewTextWriter(dst).WriteConsole(stream, msg)
}

func (w *lineWriter) exit(code int) {
	if w.globals.Format != "ndjson" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emitter.Exit(w.udid, code)
}

func (w *lineWriter) allocation(kind string, sim *pool.Simulator, cfg domain.Configuration, opts domain.AllocationOptions) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.globals.Format == "ndjson" {
		w.emitter.Allocation(&output.AllocationOutput{
			Type:          kind,
			UDID:          sim.UDID(),
			Name:          sim.Name(),
			Configuration: cfg.String(),
			Options:       opts.Names(),
			Timestamp:     time.Now().Format(time.RFC3339Nano),
		})
		return
	}
	if !w.globals.Quiet {
		fmt.Fprintf(w.globals.Stderr, "%s %s (%s)\n", kind, sim.Name(), output.Styles.UDID.Render(sim.UDID()))
	}
}
