// Package history records what happens to a simulator as an immutable chain
// of snapshots. Every accepted event produces a new Snapshot linked to the
// one before it; snapshots are never modified once published.
package history

import (
	"maps"
	"slices"
	"time"

	"github.com/vburojevic/simpool/internal/domain"
)

// Snapshot is one point-in-time record of a simulator.
// Containers are shared between snapshots and copied only when a fold changes them.
type Snapshot struct {
	state     domain.State
	timestamp time.Time
	previous  *Snapshot

	launched             []domain.Process
	launchConfigurations map[domain.Process]domain.LaunchConfiguration
	processDiagnostics   map[domain.Process]map[string]domain.Diagnostic
	simulatorDiagnostics map[string]domain.Diagnostic
}

func newRoot(state domain.State) *Snapshot {
	return &Snapshot{state: state}
}

// State returns the simulator state at this point
func (s *Snapshot) State() domain.State { return s.state }

// Timestamp is when the change was recorded. It is zero on the root snapshot.
func (s *Snapshot) Timestamp() time.Time { return s.timestamp }

// Previous returns the prior snapshot, or nil at the root
func (s *Snapshot) Previous() *Snapshot { return s.previous }

// LaunchedProcesses returns the running processes, most recently launched first
func (s *Snapshot) LaunchedProcesses() []domain.Process {
	return slices.Clone(s.launched)
}

// LaunchConfiguration returns the configuration a process was launched with.
// Entries outlive the process so terminated processes can still be audited.
func (s *Snapshot) LaunchConfiguration(p domain.Process) (domain.LaunchConfiguration, bool) {
	cfg, ok := s.launchConfigurations[p]
	return cfg, ok
}

// ProcessDiagnostics returns the diagnostics captured for a process, keyed by name
func (s *Snapshot) ProcessDiagnostics(p domain.Process) map[string]domain.Diagnostic {
	return maps.Clone(s.processDiagnostics[p])
}

// SimulatorDiagnostics returns the diagnostics captured for the simulator itself
func (s *Snapshot) SimulatorDiagnostics() map[string]domain.Diagnostic {
	return maps.Clone(s.simulatorDiagnostics)
}

// IsLaunched reports whether p is in the running set
func (s *Snapshot) IsLaunched(p domain.Process) bool {
	return slices.Contains(s.launched, p)
}

// Chain returns this snapshot and all of its ancestors, newest first
func (s *Snapshot) Chain() []*Snapshot {
	var out []*Snapshot
	for cur := s; cur != nil; cur = cur.previous {
		out = append(out, cur)
	}
	return out
}

// Len is the number of snapshots in the chain ending at s
func (s *Snapshot) Len() int {
	n := 0
	for cur := s; cur != nil; cur = cur.previous {
		n++
	}
	return n
}

// EverLaunched returns every process launched anywhere in the chain, oldest first
func (s *Snapshot) EverLaunched() []domain.Process {
	chain := s.Chain()
	seen := make(map[domain.Process]bool)
	var out []domain.Process
	for i := len(chain) - 1; i >= 0; i-- {
		launched := chain[i].launched
		for j := len(launched) - 1; j >= 0; j-- {
			p := launched[j]
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Equal compares every field except the timestamp and the link to the previous snapshot
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	return s.state == o.state &&
		slices.Equal(s.launched, o.launched) &&
		maps.EqualFunc(s.launchConfigurations, o.launchConfigurations, domain.LaunchConfiguration.Equal) &&
		maps.EqualFunc(s.processDiagnostics, o.processDiagnostics, func(a, b map[string]domain.Diagnostic) bool {
			return maps.Equal(a, b)
		}) &&
		maps.Equal(s.simulatorDiagnostics, o.simulatorDiagnostics)
}

// The with* helpers mutate a private copy of the current snapshot.
// Only the touched container is cloned; the rest stays shared with the original.

func (s *Snapshot) withState(state domain.State) {
	s.state = state
}

func (s *Snapshot) withLaunched(p domain.Process, cfg domain.LaunchConfiguration) {
	if !slices.Contains(s.launched, p) {
		launched := make([]domain.Process, 0, len(s.launched)+1)
		launched = append(launched, p)
		s.launched = append(launched, s.launched...)
	}
	if existing, ok := s.launchConfigurations[p]; ok && existing.Equal(cfg) {
		return
	}
	configs := maps.Clone(s.launchConfigurations)
	if configs == nil {
		configs = make(map[domain.Process]domain.LaunchConfiguration, 1)
	}
	configs[p] = cfg
	s.launchConfigurations = configs
}

func (s *Snapshot) withTerminated(p domain.Process) {
	i := slices.Index(s.launched, p)
	if i < 0 {
		return
	}
	s.launched = slices.Delete(slices.Clone(s.launched), i, i+1)
}

func (s *Snapshot) withDiagnostic(d domain.Diagnostic, p *domain.Process) {
	if p == nil {
		if existing, ok := s.simulatorDiagnostics[d.Name]; ok && existing == d {
			return
		}
		diags := maps.Clone(s.simulatorDiagnostics)
		if diags == nil {
			diags = make(map[string]domain.Diagnostic, 1)
		}
		diags[d.Name] = d
		s.simulatorDiagnostics = diags
		return
	}

	if existing, ok := s.processDiagnostics[*p][d.Name]; ok && existing == d {
		return
	}
	perProcess := maps.Clone(s.processDiagnostics[*p])
	if perProcess == nil {
		perProcess = make(map[string]domain.Diagnostic, 1)
	}
	perProcess[d.Name] = d

	all := maps.Clone(s.processDiagnostics)
	if all == nil {
		all = make(map[domain.Process]map[string]domain.Diagnostic, 1)
	}
	all[*p] = perProcess
	s.processDiagnostics = all
}
