package output

import (
	"io"

	"github.com/vburojevic/simpool/internal/domain"
)

// Emitter wraps NDJSONWriter with helpers that reuse one encoder.
type Emitter struct {
	w *NDJSONWriter
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: NewNDJSONWriter(w)}
}

func (e *Emitter) Simulator(s *SimulatorOutput) error       { return e.w.WriteSimulator(s) }
func (e *Emitter) Allocation(a *AllocationOutput) error     { return e.w.WriteAllocation(a) }
func (e *Emitter) Snapshot(s *SnapshotOutput) error         { return e.w.WriteSnapshot(s) }
func (e *Emitter) WriteSummary(s *domain.PoolSummary) error { return e.w.WriteSummary(s) }
func (e *Emitter) Console(c *ConsoleOutput) error           { return e.w.WriteConsole(c) }
func (e *Emitter) Exit(udid string, code int) error         { return e.w.WriteExit(udid, code) }
func (e *Emitter) Kill(mode string, names []string) error   { return e.w.WriteKill(mode, names) }
func (e *Emitter) Error(code, msg string) error             { return e.w.WriteError(code, msg) }
func (e *Emitter) ErrorWithHint(code, msg, hint string) error {
	return e.w.WriteError(code, msg, hint)
}
func (e *Emitter) Info(msg, udid string) error   { return e.w.WriteInfo(msg, udid) }
func (e *Emitter) WriteWarning(msg string) error { return e.w.WriteWarning(msg) }
func (e *Emitter) Metadata(version, commit string) error {
	return e.w.WriteMetadata(version, commit)
}

