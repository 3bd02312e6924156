package history

import (
	"context"

	"github.com/vburojevic/simpool/internal/domain"
	"go.uber.org/zap"
)

// TerminationHandle stops something a simulator started
type TerminationHandle interface {
	Terminate(ctx context.Context) error
}

// Sink receives simulator lifecycle events
type Sink interface {
	OnStateChanged(state domain.State)
	OnProcessLaunched(p domain.Process, cfg domain.LaunchConfiguration)
	OnProcessTerminated(p domain.Process, expected bool)
	// OnDiagnostic records a diagnostic for the simulator, or for p when it is non-nil
	OnDiagnostic(d domain.Diagnostic, p *domain.Process)
	OnStarted(info domain.LaunchInfo)
	OnTerminated(expected bool)
	OnTerminationHandleAvailable(h TerminationHandle)
}

// Composite forwards every event to each sink in order
type Composite []Sink

var _ Sink = Composite(nil)

func (c Composite) OnStateChanged(state domain.State) {
	for _, s := range c {
		s.OnStateChanged(state)
	}
}

func (c Composite) OnProcessLaunched(p domain.Process, cfg domain.LaunchConfiguration) {
	for _, s := range c {
		s.OnProcessLaunched(p, cfg)
	}
}

func (c Composite) OnProcessTerminated(p domain.Process, expected bool) {
	for _, s := range c {
		s.OnProcessTerminated(p, expected)
	}
}

func (c Composite) OnDiagnostic(d domain.Diagnostic, p *domain.Process) {
	for _, s := range c {
		s.OnDiagnostic(d, p)
	}
}

func (c Composite) OnStarted(info domain.LaunchInfo) {
	for _, s := range c {
		s.OnStarted(info)
	}
}

func (c Composite) OnTerminated(expected bool) {
	for _, s := range c {
		s.OnTerminated(expected)
	}
}

func (c Composite) OnTerminationHandleAvailable(h TerminationHandle) {
	for _, s := range c {
		s.OnTerminationHandleAvailable(h)
	}
}

// LogSink writes every event to a zap logger at debug level
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink logging events for one simulator
func NewLogSink(logger *zap.Logger, udid string) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events").With(zap.String("udid", udid))}
}

func (l *LogSink) OnStateChanged(state domain.State) {
	l.logger.Debug("state changed", zap.Stringer("state", state))
}

func (l *LogSink) OnProcessLaunched(p domain.Process, cfg domain.LaunchConfiguration) {
	l.logger.Debug("process launched", zap.Stringer("process", p), zap.String("bundle_id", cfg.BundleID))
}

func (l *LogSink) OnProcessTerminated(p domain.Process, expected bool) {
	l.logger.Debug("process terminated", zap.Stringer("process", p), zap.Bool("expected", expected))
}

func (l *LogSink) OnDiagnostic(d domain.Diagnostic, p *domain.Process) {
	fields := []zap.Field{zap.String("name", d.Name), zap.Int("bytes", len(d.Contents))}
	if p != nil {
		fields = append(fields, zap.Stringer("process", *p))
	}
	l.logger.Debug("diagnostic", fields...)
}

func (l *LogSink) OnStarted(info domain.LaunchInfo) {
	l.logger.Debug("simulator started", zap.Int("pid", info.PID))
}

func (l *LogSink) OnTerminated(expected bool) {
	l.logger.Debug("simulator terminated", zap.Bool("expected", expected))
}

func (l *LogSink) OnTerminationHandleAvailable(TerminationHandle) {
	l.logger.Debug("termination handle available")
}
