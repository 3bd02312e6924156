package pool

import (
	"fmt"
	"sync"

	"github.com/vburojevic/simpool/internal/domain"
	"github.com/vburojevic/simpool/internal/history"
)

// Simulator is a device set entry known to a pool.
// Identity is the UDID; everything else follows the device set listing.
type Simulator struct {
	udid          string
	pool          *Pool
	configuration domain.Configuration

	// foldMu orders state folds from concurrent refreshes
	foldMu sync.Mutex

	mu      sync.Mutex
	device  domain.Device
	history *history.Generator
	events  history.Sink
	sink    history.Sink
}

// UDID returns the simulator's identifier
func (s *Simulator) UDID() string { return s.udid }

// Pool returns the pool that listed this simulator
func (s *Simulator) Pool() *Pool { return s.pool }

// Configuration is the configuration the simulator was created with,
// or one inferred from its device type and runtime
func (s *Simulator) Configuration() domain.Configuration { return s.configuration }

// Name returns the display name
func (s *Simulator) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device.Name
}

// State returns the state observed at the last refresh
func (s *Simulator) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device.State
}

// Device returns the listing row observed at the last refresh
func (s *Simulator) Device() domain.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// History returns the simulator's current history generator
func (s *Simulator) History() *history.Generator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

// Sink returns the event sink drivers report lifecycle events to.
// Events reach the history generator and the pool's event log.
func (s *Simulator) Sink() history.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// IsAllocated reports whether the simulator is currently checked out of its pool
func (s *Simulator) IsAllocated() bool {
	_, ok := s.pool.allocationOptions(s.udid)
	return ok
}

// AllocationOptions returns the options the simulator was allocated with
func (s *Simulator) AllocationOptions() (domain.AllocationOptions, bool) {
	return s.pool.allocationOptions(s.udid)
}

func (s *Simulator) String() string {
	d := s.Device()
	return fmt.Sprintf("%s %s %s", d.Name, s.udid, d.State)
}

// update records a new listing row and returns the state before it
func (s *Simulator) update(d domain.Device) domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.device.State
	s.device = d
	return prev
}

// foldState reports the latest observed state to the sink. Refreshes that
// race each other may fold late, but each fold reads the newest listing row,
// so the history always ends on the state State returns.
func (s *Simulator) foldState() {
	s.foldMu.Lock()
	defer s.foldMu.Unlock()
	s.Sink().OnStateChanged(s.State())
}

// setHistory swaps in a generator and rebuilds the sink around it
func (s *Simulator) setHistory(g *history.Generator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = g
	s.sink = history.Composite{g, s.events}
}
