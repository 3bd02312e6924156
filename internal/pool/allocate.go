package pool

import (
	"context"
	"fmt"
	"slices"

	"github.com/vburojevic/simpool/internal/domain"
	"github.com/vburojevic/simpool/internal/history"
	"github.com/vburojevic/simpool/internal/simulator"
	"go.uber.org/zap"
)

// Allocate hands out a simulator matching cfg. With Reuse the first
// unallocated match in listing order is taken; otherwise, or when there is
// none, Create permits making a new one. The simulator is prepared according
// to opts before it is returned, and opts are kept for Free.
func (p *Pool) Allocate(ctx context.Context, cfg domain.Configuration, opts domain.AllocationOptions) (*Simulator, error) {
	start := p.clock.Now()
	sim, how, err := p.allocate(ctx, cfg, opts)
	if err != nil {
		p.metrics.allocations.WithLabelValues(kindLabel(err)).Inc()
		p.logger.Warn("allocation failed",
			zap.Stringer("configuration", cfg),
			zap.Stringer("options", opts),
			zap.Error(err))
		return nil, err
	}

	p.metrics.allocations.WithLabelValues(how).Inc()
	p.metrics.allocationDuration.Observe(p.clock.Since(start).Seconds())
	p.logger.Info("allocated simulator",
		zap.String("udid", sim.udid),
		zap.String("name", sim.Name()),
		zap.String("how", how),
		zap.Stringer("options", opts))
	return sim, nil
}

func (p *Pool) allocate(ctx context.Context, cfg domain.Configuration, opts domain.AllocationOptions) (*Simulator, string, error) {
	cfg, err := p.checkSupported(ctx, cfg)
	if err != nil {
		return nil, "", err
	}

	sim, reused, err := p.obtain(ctx, cfg, opts)
	if err != nil {
		return nil, "", err
	}
	if err := p.prepare(ctx, sim, cfg, opts, reused); err != nil {
		p.release(sim.udid)
		return nil, "", err
	}
	if opts.Has(domain.PersistHistory) {
		p.persistHistory(sim)
	}
	p.push(sim.udid, opts)

	if reused {
		return sim, "reused", nil
	}
	return sim, "created", nil
}

// checkSupported returns cfg with display names, the form device listings use
func (p *Pool) checkSupported(ctx context.Context, cfg domain.Configuration) (domain.Configuration, error) {
	if err := cfg.Validate(); err != nil {
		return cfg, newError(ErrUnsupportedConfiguration, "", err)
	}
	platform, err := p.gateway.SupportedConfigurations(ctx)
	if err != nil {
		return cfg, newError(ErrUnsupportedConfiguration, "", fmt.Errorf("reading supported configurations: %w", err))
	}
	canonical, err := platform.Canonical(cfg)
	if err != nil {
		return cfg, newError(ErrUnsupportedConfiguration, "", err)
	}
	return canonical, nil
}

// obtain finds or creates a simulator and reserves it for this allocation
func (p *Pool) obtain(ctx context.Context, cfg domain.Configuration, opts domain.AllocationOptions) (*Simulator, bool, error) {
	if opts.Has(domain.Reuse) {
		sims, err := p.Refresh(ctx)
		if err != nil {
			return nil, false, err
		}
		if sim := p.reserveMatch(sims, cfg); sim != nil {
			return sim, true, nil
		}
	}
	if opts.Has(domain.Create) {
		sim, err := p.create(ctx, cfg)
		return sim, false, err
	}
	return nil, false, newError(ErrAllocationExhausted, "", fmt.Errorf("no unallocated %s simulator and creation not permitted (options: %s)", cfg, opts))
}

func (p *Pool) reserveMatch(sims []*Simulator, cfg domain.Configuration) *Simulator {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sim := range sims {
		if !cfg.Matches(sim.Device()) {
			continue
		}
		if _, allocated := p.options[sim.udid]; allocated || p.reserved[sim.udid] {
			continue
		}
		p.reserved[sim.udid] = true
		return sim
	}
	return nil
}

func (p *Pool) create(ctx context.Context, cfg domain.Configuration) (*Simulator, error) {
	udid, err := p.gateway.Create(ctx, cfg.DeviceType, cfg.Runtime, cfg.DeviceName())
	if err != nil {
		return nil, newError(ErrCreateFailure, "", err)
	}

	p.mu.Lock()
	p.pending[udid] = cfg
	p.reserved[udid] = true
	p.mu.Unlock()

	if _, err := p.Refresh(ctx); err != nil {
		p.abandon(udid)
		return nil, newError(ErrInflationMismatch, udid, err)
	}
	sim, ok := p.Get(udid)
	if !ok {
		p.abandon(udid)
		return nil, newError(ErrInflationMismatch, udid, nil)
	}

	// A fresh device may still be settling; nothing else may touch it until it is shut down
	if err := p.terminator.SafeShutdown(ctx, udid); err != nil {
		p.release(udid)
		return nil, newError(ErrKillFailure, udid, err)
	}
	return sim, nil
}

// prepare applies the allocation-time policy to an obtained simulator
func (p *Pool) prepare(ctx context.Context, sim *Simulator, cfg domain.Configuration, opts domain.AllocationOptions, reused bool) error {
	shutdown := opts.Has(domain.ShutdownOnAllocate)
	erase := opts.Has(domain.EraseOnAllocate)
	if !shutdown && !erase {
		return nil
	}

	if err := p.kill(ctx, sim); err != nil {
		return err
	}
	if reused && erase {
		if err := p.gateway.Erase(ctx, sim.udid); err != nil {
			return newError(ErrEraseFailure, sim.udid, err)
		}
	}
	return p.configure(sim, cfg)
}

// configure writes device preferences. The device must be shut down.
func (p *Pool) configure(sim *Simulator, cfg domain.Configuration) error {
	dataPath := sim.Device().DataPath
	if cfg.Locale != "" {
		if err := simulator.ApplyLocale(dataPath, cfg.Locale); err != nil {
			return newError(ErrSetupFailure, sim.udid, err)
		}
	}
	if !cfg.SkipKeyboardSetup {
		if err := simulator.SetupKeyboard(dataPath); err != nil {
			return newError(ErrSetupFailure, sim.udid, err)
		}
	}
	return nil
}

func (p *Pool) kill(ctx context.Context, sim *Simulator) error {
	if _, err := p.terminator.KillAll(ctx, []domain.Device{sim.Device()}); err != nil {
		return newError(ErrKillFailure, sim.udid, err)
	}
	return nil
}

// persistHistory moves a simulator onto a generator backed by its history file.
// An existing file for the UDID is picked up where it left off.
func (p *Pool) persistHistory(sim *Simulator) {
	path := p.HistoryPath(sim.udid)
	if sim.History().Path() == path {
		return
	}
	g := history.NewPersistentGenerator(path, sim.State(), p.historyOptions()...)
	g.OnStateChanged(sim.State())
	sim.setHistory(g)
}

// push records an allocation. A UDID allocated twice is a bug in the pool.
func (p *Pool) push(udid string, opts domain.AllocationOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.options[udid]; ok || slices.Contains(p.allocated, udid) {
		panic(fmt.Sprintf("pool: simulator %s is already allocated", udid))
	}
	p.allocated = append(p.allocated, udid)
	p.options[udid] = opts
	delete(p.reserved, udid)
	p.metrics.allocated.Set(float64(len(p.allocated)))
}

// pop removes an allocation and returns the options it was made with. The
// UDID stays reserved until the caller releases it, so the simulator cannot be
// handed out again while it is still being killed, erased or deleted.
// Freeing a UDID that was never allocated is a bug in the caller.
func (p *Pool) pop(udid string) domain.AllocationOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	opts, ok := p.options[udid]
	i := slices.Index(p.allocated, udid)
	if !ok || i < 0 {
		panic(fmt.Sprintf("pool: simulator %s is not allocated", udid))
	}
	p.allocated = slices.Delete(p.allocated, i, i+1)
	delete(p.options, udid)
	p.reserved[udid] = true
	p.metrics.allocated.Set(float64(len(p.allocated)))
	return opts
}

func (p *Pool) release(udid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, udid)
}

// abandon forgets a created device that could not be resolved
func (p *Pool) abandon(udid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, udid)
	delete(p.pending, udid)
}
