package termination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/vburojevic/simpool/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DeviceSet is the part of the device gateway the strategy needs
type DeviceSet interface {
	List(ctx context.Context) ([]domain.Device, error)
	Shutdown(ctx context.Context, udid string) error
}

// KillError identifies the simulator whose termination failed
type KillError struct {
	Simulator string
	UDID      string
	Err       error
}

func (e *KillError) Error() string {
	return fmt.Sprintf("failed to kill simulator %s (%s): %v", e.Simulator, e.UDID, e.Err)
}

func (e *KillError) Unwrap() error { return e.Err }

// ShutdownTimeoutError is returned when a simulator does not reach Shutdown in time
type ShutdownTimeoutError struct {
	UDID    string
	State   domain.State
	Timeout time.Duration
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("simulator %s still %s after %s", e.UDID, e.State, e.Timeout)
}

// Strategy kills simulator processes and drives simulators to Shutdown
type Strategy struct {
	devices         DeviceSet
	processes       ProcessLister
	clock           clock.Clock
	logger          *zap.Logger
	shutdownTimeout time.Duration
	pollInterval    time.Duration
}

// Option configures a Strategy
type Option func(*Strategy)

// WithClock sets the clock used for shutdown waits
func WithClock(c clock.Clock) Option {
	return func(s *Strategy) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Strategy) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithShutdownTimeout bounds how long SafeShutdown waits
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Strategy) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithPollInterval sets the delay between state polls
func WithPollInterval(d time.Duration) Option {
	return func(s *Strategy) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// New creates a termination strategy
func New(devices DeviceSet, processes ProcessLister, opts ...Option) *Strategy {
	s := &Strategy{
		devices:         devices,
		processes:       processes,
		clock:           clock.New(),
		logger:          zap.NewNop(),
		shutdownTimeout: 30 * time.Second,
		pollInterval:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("termination")
	return s
}

// KillAll kills every process attributed to each simulator and shuts it down.
// Simulators are handled concurrently; the first failure cancels the rest and
// is returned as a *KillError. The names of simulators fully killed are returned
// in input order.
func (s *Strategy) KillAll(ctx context.Context, sims []domain.Device) ([]string, error) {
	if len(sims) == 0 {
		return nil, nil
	}
	procs, err := s.processes.Processes(ctx)
	if err != nil {
		return nil, err
	}

	done := make([]bool, len(sims))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range sims {
		g.Go(func() error {
			if err := s.kill(gctx, d, procs); err != nil {
				return &KillError{Simulator: d.Name, UDID: d.UDID, Err: err}
			}
			done[i] = true
			return nil
		})
	}
	err = g.Wait()

	var killed []string
	for i, ok := range done {
		if ok {
			killed = append(killed, sims[i].Name)
		}
	}
	return killed, err
}

func (s *Strategy) kill(ctx context.Context, d domain.Device, procs []Process) error {
	n, err := s.killReferencing(ctx, procs, d.UDID)
	if err != nil {
		return err
	}
	s.logger.Debug("killed simulator processes", zap.String("udid", d.UDID), zap.Int("processes", n))
	return s.SafeShutdown(ctx, d.UDID)
}

func (s *Strategy) killReferencing(ctx context.Context, procs []Process, udid string) (int, error) {
	n := 0
	for _, p := range procs {
		if !p.References(udid) {
			continue
		}
		if err := s.processes.Kill(ctx, p.PID); err != nil {
			return n, fmt.Errorf("%s: %w", p.Name, err)
		}
		n++
	}
	return n, nil
}

// KillSpurious kills simulator helper processes that no listed simulator accounts for
func (s *Strategy) KillSpurious(ctx context.Context) error {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	procs, err := s.processes.Processes(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range procs {
		if !p.IsHelper() || referencesAny(p, devices) {
			continue
		}
		s.logger.Info("killing spurious simulator process", zap.String("name", p.Name), zap.Int32("pid", p.PID))
		if err := s.processes.Kill(ctx, p.PID); err != nil {
			errs = append(errs, fmt.Errorf("%s (%d): %w", p.Name, p.PID, err))
		}
	}
	return errors.Join(errs...)
}

func referencesAny(p Process, devices []domain.Device) bool {
	for _, d := range devices {
		if p.References(d.UDID) {
			return true
		}
	}
	return false
}

// EnsureConsistency kills processes that survived their simulator: any simulator
// the device set now reports as Shutdown must have no attributed processes.
func (s *Strategy) EnsureConsistency(ctx context.Context, sims []domain.Device) error {
	observed, err := s.devices.List(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	states := make(map[string]domain.State, len(observed))
	for _, d := range observed {
		states[d.UDID] = d.State
	}

	procs, err := s.processes.Processes(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, d := range sims {
		state, listed := states[d.UDID]
		if !listed {
			continue
		}
		if state != d.State {
			s.logger.Debug("simulator state drifted",
				zap.String("udid", d.UDID),
				zap.Stringer("recorded", d.State),
				zap.Stringer("observed", state))
		}
		if state != domain.StateShutdown {
			continue
		}
		n, err := s.killReferencing(ctx, procs, d.UDID)
		if err != nil {
			errs = append(errs, &KillError{Simulator: d.Name, UDID: d.UDID, Err: err})
			continue
		}
		if n > 0 {
			s.logger.Info("killed processes surviving a shut down simulator", zap.String("udid", d.UDID), zap.Int("processes", n))
		}
	}
	return errors.Join(errs...)
}

// SafeShutdown drives a simulator in any state to Shutdown and waits for it.
// Simulators that are creating or already shutting down are waited on, not signalled.
func (s *Strategy) SafeShutdown(ctx context.Context, udid string) error {
	d, err := s.find(ctx, udid)
	if err != nil {
		return err
	}

	switch d.State {
	case domain.StateShutdown:
		return nil
	case domain.StateCreating, domain.StateShuttingDown:
	default:
		if err := s.devices.Shutdown(ctx, udid); err != nil {
			return fmt.Errorf("shutting down %s: %w", udid, err)
		}
	}
	return s.waitForShutdown(ctx, udid)
}

func (s *Strategy) waitForShutdown(ctx context.Context, udid string) error {
	deadline := s.clock.Now().Add(s.shutdownTimeout)
	for {
		d, err := s.find(ctx, udid)
		if err != nil {
			return err
		}
		if d.State == domain.StateShutdown {
			return nil
		}
		if !s.clock.Now().Before(deadline) {
			return &ShutdownTimeoutError{UDID: udid, State: d.State, Timeout: s.shutdownTimeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.pollInterval):
		}
	}
}

func (s *Strategy) find(ctx context.Context, udid string) (domain.Device, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return domain.Device{}, fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if d.UDID == udid {
			return d, nil
		}
	}
	return domain.Device{}, fmt.Errorf("device not found: %s", udid)
}
