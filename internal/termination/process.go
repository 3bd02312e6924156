package termination

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

// Process is a host process that may belong to a simulator
type Process struct {
	PID     int32
	Name    string
	Cmdline string
	Environ []string
}

// References reports whether the process mentions the UDID on its command
// line or in its environment (launchd_sim children carry SIMULATOR_UDID)
func (p Process) References(udid string) bool {
	if udid == "" {
		return false
	}
	if strings.Contains(p.Cmdline, udid) {
		return true
	}
	for _, kv := range p.Environ {
		if strings.Contains(kv, udid) {
			return true
		}
	}
	return false
}

// ProcessLister enumerates and signals host processes
type ProcessLister interface {
	Processes(ctx context.Context) ([]Process, error)
	Kill(ctx context.Context, pid int32) error
}

// helperNames are the host-side processes CoreSimulator spawns per device
var helperNames = map[string]bool{
	"launchd_sim":               true,
	"SimulatorTrampoline":       true,
	"CoreSimulatorBridge":       true,
	"SimStreamProcessorService": true,
	"Simulator":                 true,
}

// IsHelper reports whether the process is a simulator helper
func (p Process) IsHelper() bool {
	return helperNames[filepath.Base(p.Name)]
}

// SystemLister lists processes through gopsutil
type SystemLister struct{}

// Processes returns every process visible to the current user.
// Processes that exit while being inspected are skipped.
func (SystemLister) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, _ := p.CmdlineWithContext(ctx)
		environ, _ := p.EnvironWithContext(ctx)
		out = append(out, Process{
			PID:     p.Pid,
			Name:    name,
			Cmdline: cmdline,
			Environ: environ,
		})
	}
	return out, nil
}

// Kill sends SIGKILL to pid. A process that already exited is not an error.
func (SystemLister) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("looking up pid %d: %w", pid, err)
	}
	if err := p.KillWithContext(ctx); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("killing pid %d: %w", pid, err)
	}
	return nil
}
