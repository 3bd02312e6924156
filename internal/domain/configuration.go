package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Configuration describes the kind of simulator a caller wants.
// It is a value type; a pool never mutates a configuration it was given.
type Configuration struct {
	DeviceType string `json:"deviceType" mapstructure:"device_type"` // e.g. "iPhone 15"
	Runtime    string `json:"runtime" mapstructure:"runtime"`        // e.g. "iOS 17.0"
	Locale     string `json:"locale,omitempty" mapstructure:"locale"`
	// SkipKeyboardSetup disables the keyboard preference post-condition
	SkipKeyboardSetup bool `json:"skipKeyboardSetup,omitempty" mapstructure:"skip_keyboard_setup"`
}

// Validate checks the configuration names both a device type and a runtime
func (c Configuration) Validate() error {
	if strings.TrimSpace(c.DeviceType) == "" {
		return fmt.Errorf("configuration has no device type")
	}
	if strings.TrimSpace(c.Runtime) == "" {
		return fmt.Errorf("configuration has no runtime")
	}
	return nil
}

// Matches reports whether a listed device has exactly this device type and runtime
func (c Configuration) Matches(d Device) bool {
	return strings.EqualFold(c.DeviceType, d.DeviceType) && strings.EqualFold(c.Runtime, d.Runtime)
}

// DeviceName is the name given to devices created for this configuration
func (c Configuration) DeviceName() string {
	return fmt.Sprintf("%s (%s)", c.DeviceType, c.Runtime)
}

func (c Configuration) String() string {
	if c.Locale != "" {
		return fmt.Sprintf("%s, %s, %s", c.DeviceType, c.Runtime, c.Locale)
	}
	return fmt.Sprintf("%s, %s", c.DeviceType, c.Runtime)
}

// ConfigurationForDevice infers a configuration from a listed device
func ConfigurationForDevice(d Device) Configuration {
	return Configuration{
		DeviceType: d.DeviceType,
		Runtime:    d.Runtime,
	}
}

// Platform lists what the local device set can create.
// Both maps are keyed by display name and hold the simctl identifier.
type Platform struct {
	DeviceTypes map[string]string
	Runtimes    map[string]string
}

// Supports reports whether both the device type and runtime are available
func (p Platform) Supports(c Configuration) bool {
	_, dt := p.DeviceTypeIdentifier(c.DeviceType)
	_, rt := p.RuntimeIdentifier(c.Runtime)
	return dt && rt
}

// Canonical rewrites the device type and runtime of c to their display names.
// Either may be given as a display name in any case or as a simctl identifier.
func (p Platform) Canonical(c Configuration) (Configuration, error) {
	deviceType, _, ok := lookupFold(p.DeviceTypes, c.DeviceType)
	if !ok {
		return c, fmt.Errorf("device type %q is not available", c.DeviceType)
	}
	runtime, _, ok := lookupFold(p.Runtimes, c.Runtime)
	if !ok {
		return c, fmt.Errorf("runtime %q is not available", c.Runtime)
	}
	c.DeviceType = deviceType
	c.Runtime = runtime
	return c, nil
}

// DeviceTypeIdentifier resolves a device type name (case-insensitive) to its identifier
func (p Platform) DeviceTypeIdentifier(name string) (string, bool) {
	_, id, ok := lookupFold(p.DeviceTypes, name)
	return id, ok
}

// RuntimeIdentifier resolves a runtime name (case-insensitive) to its identifier
func (p Platform) RuntimeIdentifier(name string) (string, bool) {
	_, id, ok := lookupFold(p.Runtimes, name)
	return id, ok
}

// RuntimeNames returns the available runtime names, sorted
func (p Platform) RuntimeNames() []string {
	return sortedKeys(p.Runtimes)
}

// DeviceTypeNames returns the available device type names, sorted
func (p Platform) DeviceTypeNames() []string {
	return sortedKeys(p.DeviceTypes)
}

// lookupFold finds name among the display names, then among the identifiers.
// When several names share an identifier the first in sort order wins.
func lookupFold(m map[string]string, name string) (string, string, bool) {
	if id, ok := m[name]; ok {
		return name, id, true
	}
	keys := sortedKeys(m)
	for _, k := range keys {
		if strings.EqualFold(k, name) {
			return k, m[k], true
		}
	}
	for _, k := range keys {
		if strings.EqualFold(m[k], name) {
			return k, m[k], true
		}
	}
	return "", "", false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
