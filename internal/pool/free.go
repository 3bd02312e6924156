package pool

import (
	"context"
	"fmt"
	"slices"

	"github.com/vburojevic/simpool/internal/domain"
	"go.uber.org/zap"
)

// Free returns an allocated simulator to the pool. The options recorded at
// allocation decide what happens: its processes are always killed, then it is
// deleted (DeleteOnFree), erased (EraseOnFree) or left shut down for reuse.
// The simulator counts as returned even when an error is reported.
func (p *Pool) Free(ctx context.Context, sim *Simulator) error {
	opts := p.pop(sim.udid)
	defer p.release(sim.udid)

	result, err := p.free(ctx, sim, opts)
	if err != nil {
		p.metrics.frees.WithLabelValues("error").Inc()
		p.logger.Warn("free failed", zap.String("udid", sim.udid), zap.Stringer("options", opts), zap.Error(err))
		return err
	}
	p.metrics.frees.WithLabelValues(result).Inc()
	p.logger.Info("freed simulator", zap.String("udid", sim.udid), zap.String("result", result))
	return nil
}

func (p *Pool) free(ctx context.Context, sim *Simulator, opts domain.AllocationOptions) (string, error) {
	if err := p.kill(ctx, sim); err != nil {
		return "", err
	}
	if opts.Has(domain.DeleteOnFree) {
		if err := p.delete(ctx, sim.udid); err != nil {
			return "", err
		}
		return "deleted", nil
	}
	if opts.Has(domain.EraseOnFree) {
		if err := p.gateway.Erase(ctx, sim.udid); err != nil {
			return "", newError(ErrEraseFailure, sim.udid, err)
		}
		return "erased", nil
	}
	return "kept", nil
}

func (p *Pool) delete(ctx context.Context, udid string) error {
	if err := p.gateway.Delete(ctx, udid); err != nil {
		return newError(ErrDeleteFailure, udid, err)
	}
	return p.waitForDeletion(ctx, udid)
}

// waitForDeletion polls the listing until udid is gone. The device set may
// keep listing a deleted device for a while after Delete returns.
func (p *Pool) waitForDeletion(ctx context.Context, udid string) error {
	deadline := p.clock.Now().Add(p.deletionTimeout)
	for {
		sims, err := p.Refresh(ctx)
		if err != nil {
			return newError(ErrDeleteFailure, udid, err)
		}
		if !slices.ContainsFunc(sims, func(s *Simulator) bool { return s.udid == udid }) {
			return nil
		}
		if !p.clock.Now().Before(deadline) {
			p.metrics.deletionTimeouts.Inc()
			return newError(ErrDeletionTimeout, udid, fmt.Errorf("still listed after %s", p.deletionTimeout))
		}

		select {
		case <-ctx.Done():
			return newError(ErrDeleteFailure, udid, ctx.Err())
		case <-p.clock.After(p.pollInterval):
		}
	}
}
