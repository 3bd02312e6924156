package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Process identifies a process launched inside a simulator.
// It is comparable and used as a map key in history snapshots.
type Process struct {
	PID        int    `json:"pid"`
	Name       string `json:"name"`
	LaunchPath string `json:"launchPath,omitempty"`
}

func (p Process) String() string {
	return fmt.Sprintf("%s (%d)", p.Name, p.PID)
}

// LaunchConfiguration records how a process was started
type LaunchConfiguration struct {
	BundleID    string            `json:"bundleId,omitempty"`
	Arguments   []string          `json:"arguments,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

// Equal compares two launch configurations field by field
func (c LaunchConfiguration) Equal(o LaunchConfiguration) bool {
	return c.BundleID == o.BundleID &&
		slices.Equal(c.Arguments, o.Arguments) &&
		maps.Equal(c.Environment, o.Environment)
}

// Diagnostic is a named value captured from a simulator or one of its processes
type Diagnostic struct {
	Name     string `json:"name"`
	Contents string `json:"contents"`
}

// LaunchInfo describes a simulator process that has started
type LaunchInfo struct {
	PID        int       `json:"pid"`
	UDID       string    `json:"udid"`
	LaunchedAt time.Time `json:"launchedAt"`
}
