package output

import (
	"encoding/json"
	"io"

	"github.com/vburojevic/simpool/internal/domain"
)

// NDJSONWriter writes pool events as NDJSON
type NDJSONWriter struct {
	w       io.Writer
	encoder *json.Encoder
}

// NewNDJSONWriter creates a new NDJSON writer
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false) // keep command output unescaped
	return &NDJSONWriter{
		w:       w,
		encoder: enc,
	}
}

// SimulatorOutput describes one simulator known to the pool
type SimulatorOutput struct {
	Type          string   `json:"type"` // Always "simulator"
	SchemaVersion int      `json:"schemaVersion"`
	UDID          string   `json:"udid"`
	Name          string   `json:"name"`
	State         string   `json:"state"`
	DeviceType    string   `json:"deviceType"`
	Runtime       string   `json:"runtime"`
	Allocated     bool     `json:"allocated"`
	Options       []string `json:"options,omitempty"`
}

// AllocationOutput is emitted when a simulator is allocated or freed
type AllocationOutput struct {
	Type          string   `json:"type"` // "allocated" or "freed"
	SchemaVersion int      `json:"schemaVersion"`
	UDID          string   `json:"udid"`
	Name          string   `json:"name"`
	Configuration string   `json:"configuration"`
	Options       []string `json:"options,omitempty"`
	Timestamp     string   `json:"timestamp"`
}

// SnapshotOutput is one entry of a simulator's history chain
type SnapshotOutput struct {
	Type          string           `json:"type"` // Always "snapshot"
	SchemaVersion int              `json:"schemaVersion"`
	UDID          string           `json:"udid"`
	Index         int              `json:"index"` // 0 is the root
	Timestamp     string           `json:"timestamp,omitempty"`
	State         string           `json:"state"`
	Launched      []domain.Process `json:"launched,omitempty"`
	Diagnostics   []string         `json:"diagnostics,omitempty"`
}

// ConsoleOutput is a line of output from a command run against a simulator
type ConsoleOutput struct {
	Type          string `json:"type"` // Always "console"
	SchemaVersion int    `json:"schemaVersion"`
	Timestamp     string `json:"timestamp"`
	Stream        string `json:"stream"` // "stdout" or "stderr"
	Message       string `json:"message"`
	UDID          string `json:"udid,omitempty"`
}

// ExitOutput reports how a command run against a simulator finished
type ExitOutput struct {
	Type          string `json:"type"` // Always "exit"
	SchemaVersion int    `json:"schemaVersion"`
	UDID          string `json:"udid"`
	ExitCode      int    `json:"exit_code"`
}

// KillOutput reports the simulators a kill command acted on
type KillOutput struct {
	Type          string   `json:"type"` // Always "killed"
	SchemaVersion int      `json:"schemaVersion"`
	Mode          string   `json:"mode"`
	Simulators    []string `json:"simulators"`
}

// InfoOutput represents an informational message
type InfoOutput struct {
	Type          string `json:"type"` // Always "info"
	SchemaVersion int    `json:"schemaVersion"`
	Message       string `json:"message"`
	UDID          string `json:"udid,omitempty"`
}

// WarningOutput represents a warning message
type WarningOutput struct {
	Type          string `json:"type"` // Always "warning"
	SchemaVersion int    `json:"schemaVersion"`
	Message       string `json:"message"`
}

// MetadataOutput describes tool metadata
type MetadataOutput struct {
	Type          string `json:"type"` // Always "version"
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
}

// WriteSimulator outputs a simulator
func (w *NDJSONWriter) WriteSimulator(s *SimulatorOutput) error {
	s.Type = "simulator"
	s.SchemaVersion = SchemaVersion
	return w.encoder.Encode(s)
}

// WriteAllocation outputs an allocated or freed marker
func (w *NDJSONWriter) WriteAllocation(a *AllocationOutput) error {
	a.SchemaVersion = SchemaVersion
	return w.encoder.Encode(a)
}

// WriteSnapshot outputs a history snapshot
func (w *NDJSONWriter) WriteSnapshot(s *SnapshotOutput) error {
	s.Type = "snapshot"
	s.SchemaVersion = SchemaVersion
	return w.encoder.Encode(s)
}

// WriteSummary outputs a pool summary
func (w *NDJSONWriter) WriteSummary(summary *domain.PoolSummary) error {
	summary.SchemaVersion = SchemaVersion
	return w.encoder.Encode(summary)
}

// WriteConsole outputs a console line
func (w *NDJSONWriter) WriteConsole(c *ConsoleOutput) error {
	c.Type = "console"
	c.SchemaVersion = SchemaVersion
	return w.encoder.Encode(c)
}

// WriteExit outputs a command exit marker
func (w *NDJSONWriter) WriteExit(udid string, code int) error {
	return w.encoder.Encode(&ExitOutput{
		Type:          "exit",
		SchemaVersion: SchemaVersion,
		UDID:          udid,
		ExitCode:      code,
	})
}

// WriteKill outputs the result of a kill command
func (w *NDJSONWriter) WriteKill(mode string, names []string) error {
	if names == nil {
		names = []string{}
	}
	return w.encoder.Encode(&KillOutput{
		Type:          "killed",
		SchemaVersion: SchemaVersion,
		Mode:          mode,
		Simulators:    names,
	})
}

// WriteError outputs an error
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	err := domain.NewErrorOutput(code, message)
	if len(hint) > 0 {
		err.Hint = hint[0]
	}
	err.SchemaVersion = SchemaVersion
	return w.encoder.Encode(err)
}

// WriteRaw outputs raw JSON data
func (w *NDJSONWriter) WriteRaw(v interface{}) error {
	return w.encoder.Encode(v)
}

// WriteInfo outputs an informational message
func (w *NDJSONWriter) WriteInfo(message, udid string) error {
	return w.encoder.Encode(&InfoOutput{
		Type:          "info",
		SchemaVersion: SchemaVersion,
		Message:       message,
		UDID:          udid,
	})
}

// WriteWarning outputs a warning message
func (w *NDJSONWriter) WriteWarning(message string) error {
	return w.encoder.Encode(&WarningOutput{
		Type:          "warning",
		SchemaVersion: SchemaVersion,
		Message:       message,
	})
}

// WriteMetadata outputs version metadata
func (w *NDJSONWriter) WriteMetadata(version, commit string) error {
	return w.encoder.Encode(&MetadataOutput{
		Type:          "version",
		SchemaVersion: SchemaVersion,
		Version:       version,
		Commit:        commit,
	})
}
