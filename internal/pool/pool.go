// Package pool hands out simulators from a device set, reusing, creating,
// erasing and deleting them according to per-allocation options.
package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vburojevic/simpool/internal/domain"
	"github.com/vburojevic/simpool/internal/history"
	"github.com/vburojevic/simpool/internal/simulator"
	"github.com/vburojevic/simpool/internal/termination"
	"go.uber.org/zap"
)

const (
	DefaultDeletionTimeout = 30 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultShutdownTimeout = 30 * time.Second
)

// Config configures a Pool
type Config struct {
	Gateway simulator.Gateway
	// Processes defaults to the host process table
	Processes  termination.ProcessLister
	Logger     *zap.Logger
	Clock      clock.Clock
	Registerer prometheus.Registerer

	// HistoryDir holds <UDID>.json for simulators allocated with PersistHistory
	HistoryDir      string
	DeletionTimeout time.Duration
	PollInterval    time.Duration
	ShutdownTimeout time.Duration

	// Startup preconditions, applied in this order
	KillSpuriousOnStart       bool
	DeleteAllOnStart          bool
	KillAllOnStart            bool
	KillUntrackedOnStart      bool
	IgnoreSpuriousKillFailure bool
}

// Pool tracks the simulators of one device set and which of them are allocated
type Pool struct {
	gateway    simulator.Gateway
	terminator *termination.Strategy
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics

	historyDir      string
	deletionTimeout time.Duration
	pollInterval    time.Duration

	mu        sync.Mutex
	cache     map[string]*Simulator
	listing   []string // UDIDs in the order of the last refresh
	allocated []string // allocation order
	options   map[string]domain.AllocationOptions
	// reserved UDIDs are claimed by an allocation still in progress
	reserved map[string]bool
	// pending holds the configuration of created devices not yet inflated
	pending map[string]domain.Configuration
}

// New creates a pool and applies the configured startup preconditions
func New(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("pool requires a device set gateway")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Processes == nil {
		cfg.Processes = termination.SystemLister{}
	}
	if cfg.HistoryDir == "" {
		cfg.HistoryDir = DefaultHistoryDir()
	}
	if cfg.DeletionTimeout <= 0 {
		cfg.DeletionTimeout = DefaultDeletionTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	logger := cfg.Logger.Named("pool")
	gateway := simulator.WithLogging(cfg.Gateway, cfg.Logger)
	p := &Pool{
		gateway: gateway,
		terminator: termination.New(gateway, cfg.Processes,
			termination.WithClock(cfg.Clock),
			termination.WithLogger(cfg.Logger),
			termination.WithShutdownTimeout(cfg.ShutdownTimeout),
			termination.WithPollInterval(cfg.PollInterval)),
		clock:           cfg.Clock,
		logger:          logger,
		metrics:         newMetrics(cfg.Registerer),
		historyDir:      cfg.HistoryDir,
		deletionTimeout: cfg.DeletionTimeout,
		pollInterval:    cfg.PollInterval,
		cache:           make(map[string]*Simulator),
		options:         make(map[string]domain.AllocationOptions),
		reserved:        make(map[string]bool),
		pending:         make(map[string]domain.Configuration),
	}

	if err := p.startup(ctx, cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultHistoryDir is $XDG_STATE_HOME/simpool/history, falling back to
// ~/.local/state/simpool/history
func DefaultHistoryDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, "simpool", "history")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", "simpool", "history")
}

func (p *Pool) startup(ctx context.Context, cfg Config) error {
	if cfg.KillSpuriousOnStart {
		if err := p.KillSpurious(ctx); err != nil {
			if !cfg.IgnoreSpuriousKillFailure {
				return newError(ErrPreconditionFailure, "", fmt.Errorf("killing spurious processes: %w", err))
			}
			p.logger.Warn("ignoring spurious process kill failure", zap.Error(err))
		}
	}
	if cfg.DeleteAllOnStart {
		if err := p.DeleteAll(ctx); err != nil {
			return newError(ErrPreconditionFailure, "", fmt.Errorf("deleting all simulators: %w", err))
		}
	}
	if cfg.KillAllOnStart {
		if _, err := p.KillAll(ctx); err != nil {
			return newError(ErrPreconditionFailure, "", fmt.Errorf("killing all simulators: %w", err))
		}
	}
	if cfg.KillUntrackedOnStart {
		if _, err := p.KillUntracked(ctx); err != nil {
			return newError(ErrPreconditionFailure, "", fmt.Errorf("killing untracked simulators: %w", err))
		}
	}
	return nil
}

// Refresh reconciles the cache with the device set listing and returns the
// simulators in listing order. Newly listed UDIDs are inflated, unlisted ones
// evicted unless they are allocated or being allocated.
func (p *Pool) Refresh(ctx context.Context) ([]*Simulator, error) {
	devices, err := p.gateway.List(ctx)
	if err != nil {
		return nil, newError(ErrListFailure, "", err)
	}

	var changed []*Simulator

	p.mu.Lock()
	listed := make(map[string]bool, len(devices))
	sims := make([]*Simulator, 0, len(devices))
	p.listing = p.listing[:0]
	for _, d := range devices {
		listed[d.UDID] = true
		p.listing = append(p.listing, d.UDID)

		sim, known := p.cache[d.UDID]
		if !known {
			sim = p.inflate(d)
			p.cache[d.UDID] = sim
		} else if prev := sim.update(d); prev != d.State {
			changed = append(changed, sim)
		}
		sims = append(sims, sim)
	}
	for udid := range p.cache {
		if listed[udid] || p.reserved[udid] {
			continue
		}
		if _, allocated := p.options[udid]; allocated {
			p.logger.Warn("allocated simulator no longer listed", zap.String("udid", udid))
			continue
		}
		delete(p.cache, udid)
	}
	p.metrics.known.Set(float64(len(p.cache)))
	p.mu.Unlock()

	// Folds may write history files, so they run outside the lock
	for _, sim := range changed {
		sim.foldState()
	}
	return sims, nil
}

// inflate wraps a newly listed device. Callers hold p.mu.
func (p *Pool) inflate(d domain.Device) *Simulator {
	cfg, ok := p.pending[d.UDID]
	if ok {
		delete(p.pending, d.UDID)
	} else {
		cfg = domain.ConfigurationForDevice(d)
	}

	sim := &Simulator{
		udid:          d.UDID,
		pool:          p,
		configuration: cfg,
		device:        d,
		events:        history.NewLogSink(p.logger, d.UDID),
	}
	sim.setHistory(history.NewGenerator(d.State, p.historyOptions()...))
	return sim
}

func (p *Pool) historyOptions() []history.Option {
	return []history.Option{
		history.WithClock(p.clock),
		history.WithLogger(p.logger),
		history.OnPersistError(func(error) { p.metrics.persistFailures.Inc() }),
	}
}

// HistoryPath is where a simulator's history is written when persisted
func (p *Pool) HistoryPath(udid string) string {
	return HistoryFile(p.historyDir, udid)
}

// HistoryFile names the history file of udid inside dir
func HistoryFile(dir, udid string) string {
	return filepath.Join(dir, udid+".json")
}

// All returns every simulator in the device set
func (p *Pool) All(ctx context.Context) ([]*Simulator, error) {
	return p.Refresh(ctx)
}

// Allocated returns the allocated simulators in allocation order
func (p *Pool) Allocated(ctx context.Context) ([]*Simulator, error) {
	if _, err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Simulator, 0, len(p.allocated))
	for _, udid := range p.allocated {
		out = append(out, p.cache[udid])
	}
	return out, nil
}

// Unallocated returns the simulators free to be reused, in listing order.
// Simulators still being allocated or freed are left out.
func (p *Pool) Unallocated(ctx context.Context) ([]*Simulator, error) {
	sims, err := p.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.DeleteFunc(sims, func(s *Simulator) bool {
		_, allocated := p.options[s.udid]
		return allocated || p.reserved[s.udid]
	}), nil
}

// Launched returns the simulators that are booted or booting
func (p *Pool) Launched(ctx context.Context) ([]*Simulator, error) {
	sims, err := p.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(sims, func(s *Simulator) bool {
		return !s.State().IsLaunched()
	}), nil
}

// Get returns a cached simulator by UDID
func (p *Pool) Get(udid string) (*Simulator, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sim, ok := p.cache[udid]
	return sim, ok
}

func (p *Pool) allocationOptions(udid string) (domain.AllocationOptions, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	opts, ok := p.options[udid]
	return opts, ok
}

// KillSpurious kills simulator helper processes no listed simulator accounts for
func (p *Pool) KillSpurious(ctx context.Context) error {
	if err := p.terminator.KillSpurious(ctx); err != nil {
		return newError(ErrKillFailure, "", err)
	}
	return nil
}

// KillAll kills every unallocated simulator and returns their names
func (p *Pool) KillAll(ctx context.Context) ([]string, error) {
	sims, err := p.Unallocated(ctx)
	if err != nil {
		return nil, err
	}
	killed, err := p.terminator.KillAll(ctx, devices(sims))
	if err != nil {
		return killed, newError(ErrKillFailure, "", err)
	}
	return killed, nil
}

// DeleteAll kills and deletes every unallocated simulator, waiting for each
// to leave the listing
func (p *Pool) DeleteAll(ctx context.Context) error {
	sims, err := p.Unallocated(ctx)
	if err != nil {
		return err
	}
	if _, err := p.terminator.KillAll(ctx, devices(sims)); err != nil {
		return newError(ErrKillFailure, "", err)
	}
	for _, sim := range sims {
		if err := p.delete(ctx, sim.udid); err != nil {
			return err
		}
	}
	return nil
}

// KillUntracked kills launched simulators this pool has not allocated, then
// kills whatever outlived a simulator that is now shut down. It returns the
// names of the simulators it killed.
func (p *Pool) KillUntracked(ctx context.Context) ([]string, error) {
	sims, err := p.Unallocated(ctx)
	if err != nil {
		return nil, err
	}
	launched := slices.DeleteFunc(slices.Clone(sims), func(s *Simulator) bool {
		return !s.State().IsLaunched()
	})
	var killed []string
	if len(launched) > 0 {
		killed, err = p.terminator.KillAll(ctx, devices(launched))
		if err != nil {
			return killed, newError(ErrKillFailure, "", err)
		}
		p.logger.Info("killed untracked simulators", zap.Strings("names", killed))
	}
	if err := p.terminator.EnsureConsistency(ctx, devices(sims)); err != nil {
		return killed, newError(ErrKillFailure, "", err)
	}
	return killed, nil
}

func devices(sims []*Simulator) []domain.Device {
	out := make([]domain.Device, len(sims))
	for i, s := range sims {
		out[i] = s.Device()
	}
	return out
}

// Summary counts the simulators by allocation and state
func (p *Pool) Summary(ctx context.Context) (*domain.PoolSummary, error) {
	sims, err := p.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	summary := domain.NewPoolSummary()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range sims {
		summary.Total++
		state := s.State()
		summary.States[state]++
		if state.IsLaunched() {
			summary.Launched++
		}
		if _, ok := p.options[s.udid]; ok {
			summary.Allocated++
		} else {
			summary.Unallocated++
		}
	}
	return summary, nil
}

// Describe renders the pool as of the last refresh
func (p *Pool) Describe() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Pool: %d simulators, %d allocated\n", len(p.listing), len(p.allocated))
	for _, udid := range p.listing {
		sim, ok := p.cache[udid]
		if !ok {
			continue
		}
		d := sim.Device()
		fmt.Fprintf(&b, "  %s | %s | %s | %s", d.Name, udid, d.State, sim.configuration)
		if opts, allocated := p.options[udid]; allocated {
			fmt.Fprintf(&b, " | allocated (%s)", opts)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
