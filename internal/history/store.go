package history

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/vburojevic/simpool/internal/domain"
)

// fileVersion is bumped when the on-disk shape changes.
// Files with any other version are treated as unreadable.
const fileVersion = 1

// ErrIncompatible is returned by Load for files that parse but cannot be a chain
var ErrIncompatible = errors.New("incompatible history file")

type historyFile struct {
	Version   int            `json:"version"`
	Snapshots []snapshotJSON `json:"snapshots"` // root first
}

type snapshotJSON struct {
	State                domain.State        `json:"state"`
	Timestamp            *time.Time          `json:"timestamp,omitempty"`
	LaunchedProcesses    []domain.Process    `json:"launchedProcesses,omitempty"`
	LaunchConfigurations []launchConfigJSON  `json:"launchConfigurations,omitempty"`
	ProcessDiagnostics   []processDiagJSON   `json:"processDiagnostics,omitempty"`
	SimulatorDiagnostics []domain.Diagnostic `json:"simulatorDiagnostics,omitempty"`
}

type launchConfigJSON struct {
	Process       domain.Process             `json:"process"`
	Configuration domain.LaunchConfiguration `json:"configuration"`
}

type processDiagJSON struct {
	Process     domain.Process      `json:"process"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

func compareProcess(a, b domain.Process) int {
	if c := cmp.Compare(a.PID, b.PID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.LaunchPath, b.LaunchPath)
}

func sortedDiagnostics(m map[string]domain.Diagnostic) []domain.Diagnostic {
	out := make([]domain.Diagnostic, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.Diagnostic) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func encodeSnapshot(s *Snapshot) snapshotJSON {
	out := snapshotJSON{
		State:                s.state,
		LaunchedProcesses:    s.launched,
		SimulatorDiagnostics: sortedDiagnostics(s.simulatorDiagnostics),
	}
	if !s.timestamp.IsZero() {
		ts := s.timestamp
		out.Timestamp = &ts
	}
	for p, cfg := range s.launchConfigurations {
		out.LaunchConfigurations = append(out.LaunchConfigurations, launchConfigJSON{Process: p, Configuration: cfg})
	}
	slices.SortFunc(out.LaunchConfigurations, func(a, b launchConfigJSON) int { return compareProcess(a.Process, b.Process) })
	for p, diags := range s.processDiagnostics {
		out.ProcessDiagnostics = append(out.ProcessDiagnostics, processDiagJSON{Process: p, Diagnostics: sortedDiagnostics(diags)})
	}
	slices.SortFunc(out.ProcessDiagnostics, func(a, b processDiagJSON) int { return compareProcess(a.Process, b.Process) })
	return out
}

func decodeSnapshot(in snapshotJSON, previous *Snapshot) (*Snapshot, error) {
	s := &Snapshot{
		state:    in.State,
		previous: previous,
		launched: in.LaunchedProcesses,
	}
	if in.Timestamp != nil {
		s.timestamp = *in.Timestamp
	}
	if previous == nil && !s.timestamp.IsZero() {
		return nil, fmt.Errorf("%w: root snapshot has a timestamp", ErrIncompatible)
	}
	if previous != nil && s.timestamp.IsZero() {
		return nil, fmt.Errorf("%w: snapshot %d has no timestamp", ErrIncompatible, previous.Len())
	}

	seen := make(map[domain.Process]bool, len(s.launched))
	for _, p := range s.launched {
		if seen[p] {
			return nil, fmt.Errorf("%w: process %s launched twice", ErrIncompatible, p)
		}
		seen[p] = true
	}

	if len(in.LaunchConfigurations) > 0 {
		s.launchConfigurations = make(map[domain.Process]domain.LaunchConfiguration, len(in.LaunchConfigurations))
		for _, e := range in.LaunchConfigurations {
			s.launchConfigurations[e.Process] = e.Configuration
		}
	}
	if len(in.ProcessDiagnostics) > 0 {
		s.processDiagnostics = make(map[domain.Process]map[string]domain.Diagnostic, len(in.ProcessDiagnostics))
		for _, e := range in.ProcessDiagnostics {
			diags := make(map[string]domain.Diagnostic, len(e.Diagnostics))
			for _, d := range e.Diagnostics {
				diags[d.Name] = d
			}
			s.processDiagnostics[e.Process] = diags
		}
	}
	if len(in.SimulatorDiagnostics) > 0 {
		s.simulatorDiagnostics = make(map[string]domain.Diagnostic, len(in.SimulatorDiagnostics))
		for _, d := range in.SimulatorDiagnostics {
			s.simulatorDiagnostics[d.Name] = d
		}
	}
	return s, nil
}

// Marshal serializes the whole chain ending at s, root first
func Marshal(s *Snapshot) ([]byte, error) {
	chain := s.Chain()
	f := historyFile{Version: fileVersion, Snapshots: make([]snapshotJSON, len(chain))}
	for i, snap := range chain {
		f.Snapshots[len(chain)-1-i] = encodeSnapshot(snap)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling history: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal rebuilds a chain and returns its newest snapshot
func Unmarshal(data []byte) (*Snapshot, error) {
	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("%w: version %d", ErrIncompatible, f.Version)
	}
	if len(f.Snapshots) == 0 {
		return nil, fmt.Errorf("%w: no snapshots", ErrIncompatible)
	}

	var current *Snapshot
	for _, in := range f.Snapshots {
		next, err := decodeSnapshot(in, current)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// Save writes the chain ending at s to path using a temp file and rename,
// so readers never observe a partially written file
func Save(path string, s *Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming history file: %w", err)
	}
	committed = true
	return nil
}

// Load reads a chain previously written by Save
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return Unmarshal(data)
}
