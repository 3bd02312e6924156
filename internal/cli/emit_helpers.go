package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/vburojevic/simpool/internal/history"
	"github.com/vburojevic/simpool/internal/output"
	"github.com/vburojevic/simpool/internal/pool"
)

func newEmitter(globals *Globals) *output.Emitter {
	return output.NewEmitter(globals.Stdout)
}

// emitWarning respects format/quiet.
func emitWarning(globals *Globals, emitter *output.Emitter, msg string) {
	if globals.Quiet {
		return
	}
	if globals.Format == "ndjson" && emitter != nil {
		emitter.WriteWarning(msg)
		return
	}
	fmt.Fprintf(globals.Stderr, "Warning: %s\n", msg)
}

func simulatorOutput(sim *pool.Simulator) output.SimulatorOutput {
	d := sim.Device()
	out := output.SimulatorOutput{
		UDID:       sim.UDID(),
		Name:       d.Name,
		State:      d.State.String(),
		DeviceType: d.DeviceType,
		Runtime:    d.Runtime,
		Allocated:  sim.IsAllocated(),
	}
	if opts, ok := sim.AllocationOptions(); ok {
		out.Options = opts.Names()
	}
	return out
}

// snapshotOutputs flattens a history chain oldest first
func snapshotOutputs(udid string, current *history.Snapshot) []output.SnapshotOutput {
	chain := current.Chain()
	out := make([]output.SnapshotOutput, len(chain))
	for i, s := range chain {
		idx := len(chain) - 1 - i
		o := output.SnapshotOutput{
			UDID:     udid,
			Index:    idx,
			State:    s.State().String(),
			Launched: s.LaunchedProcesses(),
		}
		if !s.Timestamp().IsZero() {
			o.Timestamp = s.Timestamp().Format(time.RFC3339Nano)
		}
		for name := range s.SimulatorDiagnostics() {
			o.Diagnostics = append(o.Diagnostics, name)
		}
		slices.Sort(o.Diagnostics)
		out[idx] = o
	}
	return out
}
