package domain

import (
	"strings"
)

// State represents the current state of a simulator as reported by the device set
type State string

const (
	StateCreating     State = "Creating"
	StateShutdown     State = "Shutdown"
	StateBooting      State = "Booting"
	StateBooted       State = "Booted"
	StateShuttingDown State = "Shutting Down"
	StateUnknown      State = "Unknown"
)

// ParseState maps an external state string onto a State.
// Unrecognised strings map to StateUnknown.
func ParseState(s string) State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "creating":
		return StateCreating
	case "shutdown":
		return StateShutdown
	case "booting":
		return StateBooting
	case "booted":
		return StateBooted
	case "shutting down", "shuttingdown", "shutting-down":
		return StateShuttingDown
	default:
		return StateUnknown
	}
}

// String returns the display form of the state
func (s State) String() string {
	if s == "" {
		return string(StateUnknown)
	}
	return string(s)
}

// IsLaunched returns true when the simulator is running or on its way there
func (s State) IsLaunched() bool {
	return s == StateBooted || s == StateBooting
}

// Device is one row of the device set listing
type Device struct {
	UDID                 string `json:"udid"`
	Name                 string `json:"name"`
	State                State  `json:"state"`
	IsAvailable          bool   `json:"isAvailable"`
	DeviceTypeIdentifier string `json:"deviceTypeIdentifier"`
	DeviceType           string `json:"deviceType"`
	RuntimeIdentifier    string `json:"runtimeIdentifier"`
	Runtime              string `json:"runtime"`
	DataPath             string `json:"dataPath,omitempty"`
	LogPath              string `json:"logPath,omitempty"`
}

// IsBooted returns true if the device is currently booted
func (d *Device) IsBooted() bool {
	return d.State == StateBooted
}

// SimctlDevicesResponse matches `xcrun simctl list devices --json` output
type SimctlDevicesResponse struct {
	Devices map[string][]SimctlDevice `json:"devices"`
}

// SimctlDevice represents a device from simctl JSON output
type SimctlDevice struct {
	UDID                 string `json:"udid"`
	Name                 string `json:"name"`
	State                string `json:"state"`
	IsAvailable          bool   `json:"isAvailable"`
	DeviceTypeIdentifier string `json:"deviceTypeIdentifier"`
	DataPath             string `json:"dataPath"`
	LogPath              string `json:"logPath"`
}
