package history

import (
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/vburojevic/simpool/internal/domain"
	"go.uber.org/zap"
)

// Generator folds lifecycle events into a snapshot chain.
// Folds are serialised; Current never blocks.
type Generator struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]

	path           string
	clock          clock.Clock
	logger         *zap.Logger
	onPersistError func(error)
	failures       atomic.Int64
}

var _ Sink = (*Generator)(nil)

// Option configures a Generator
type Option func(*Generator)

// WithClock sets the clock used to timestamp snapshots
func WithClock(c clock.Clock) Option {
	return func(g *Generator) { g.clock = c }
}

// WithLogger sets the logger persistence failures are reported to
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// OnPersistError registers a callback run after every failed write
func OnPersistError(fn func(error)) Option {
	return func(g *Generator) { g.onPersistError = fn }
}

func newGenerator(opts []Option) *Generator {
	g := &Generator{
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("history")
	return g
}

// NewGenerator starts a chain holding a single root snapshot in the given state
func NewGenerator(state domain.State, opts ...Option) *Generator {
	g := newGenerator(opts)
	g.current.Store(newRoot(state))
	return g
}

// NewPersistentGenerator rehydrates the chain stored at path and writes the
// chain back after every accepted event. When the file is missing or unreadable
// a fresh chain in the given state is started instead.
func NewPersistentGenerator(path string, state domain.State, opts ...Option) *Generator {
	g := newGenerator(opts)
	g.path = path
	g.logger = g.logger.With(zap.String("path", path))

	snap, err := Load(path)
	if err != nil {
		g.logger.Debug("starting fresh history", zap.Error(err))
		snap = newRoot(state)
	}
	g.current.Store(snap)
	return g
}

// Current returns the newest snapshot
func (g *Generator) Current() *Snapshot {
	return g.current.Load()
}

// Len is the number of snapshots in the chain
func (g *Generator) Len() int {
	return g.Current().Len()
}

// Path returns where the chain is persisted, or "" when it is not
func (g *Generator) Path() string {
	return g.path
}

// PersistFailures counts writes that failed since the generator was created
func (g *Generator) PersistFailures() int64 {
	return g.failures.Load()
}

// fold applies mutate to a copy of the current snapshot and publishes the copy
// only when it differs. It reports whether a new snapshot was published.
func (g *Generator) fold(mutate func(*Snapshot)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.current.Load()
	next := *prev
	mutate(&next)
	if next.Equal(prev) {
		return false
	}

	now := g.clock.Now()
	if now.Before(prev.timestamp) {
		now = prev.timestamp
	}
	next.timestamp = now
	next.previous = prev
	g.current.Store(&next)

	if g.path != "" {
		g.persist(&next)
	}
	return true
}

func (g *Generator) persist(s *Snapshot) {
	err := Save(g.path, s)
	if err == nil {
		return
	}
	g.failures.Add(1)
	g.logger.Warn("failed to persist history", zap.Error(err))
	if g.onPersistError != nil {
		g.onPersistError(err)
	}
}

func (g *Generator) OnStateChanged(state domain.State) {
	g.fold(func(s *Snapshot) { s.withState(state) })
}

func (g *Generator) OnProcessLaunched(p domain.Process, cfg domain.LaunchConfiguration) {
	g.fold(func(s *Snapshot) { s.withLaunched(p, cfg) })
}

// OnProcessTerminated removes p from the running set.
// Its launch configuration and diagnostics are kept.
func (g *Generator) OnProcessTerminated(p domain.Process, _ bool) {
	g.fold(func(s *Snapshot) { s.withTerminated(p) })
}

func (g *Generator) OnDiagnostic(d domain.Diagnostic, p *domain.Process) {
	g.fold(func(s *Snapshot) { s.withDiagnostic(d, p) })
}

func (g *Generator) OnStarted(domain.LaunchInfo) {}

func (g *Generator) OnTerminated(bool) {}

func (g *Generator) OnTerminationHandleAvailable(TerminationHandle) {}
