package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/vburojevic/simpool/internal/domain"
)

// Manager is a Gateway backed by `xcrun simctl`
type Manager struct {
	xcrunPath    string
	setPath      string
	pollInterval time.Duration

	mu       sync.Mutex
	platform *domain.Platform
}

// NewManager creates a manager for the default device set, or for the
// device set rooted at setPath when it is non-empty
func NewManager(setPath string) *Manager {
	return &Manager{
		xcrunPath:    "xcrun",
		setPath:      setPath,
		pollInterval: 2 * time.Second,
	}
}

// SetPath returns the device set root, empty for the default set
func (m *Manager) SetPath() string {
	return m.setPath
}

func (m *Manager) simctl(ctx context.Context, args ...string) *exec.Cmd {
	full := []string{"simctl"}
	if m.setPath != "" {
		full = append(full, "--set", m.setPath)
	}
	full = append(full, args...)
	return exec.CommandContext(ctx, m.xcrunPath, full...)
}

// List returns all available simulators in the device set
func (m *Manager) List(ctx context.Context) ([]domain.Device, error) {
	output, err := m.simctl(ctx, "list", "devices", "--json").Output()
	if err != nil {
		return nil, fmt.Errorf("simctl list failed: %w", err)
	}

	var resp domain.SimctlDevicesResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse simctl output: %w", err)
	}

	typeNames := m.deviceTypeNames(ctx)

	var devices []domain.Device
	for runtime, devs := range resp.Devices {
		// e.g., "com.apple.CoreSimulator.SimRuntime.iOS-17-0" -> "iOS 17.0"
		runtimeName := parseRuntimeName(runtime)

		for _, d := range devs {
			if !d.IsAvailable {
				continue
			}
			devices = append(devices, domain.Device{
				UDID:                 d.UDID,
				Name:                 d.Name,
				State:                domain.ParseState(d.State),
				IsAvailable:          d.IsAvailable,
				DeviceTypeIdentifier: d.DeviceTypeIdentifier,
				DeviceType:           deviceTypeName(typeNames, d.DeviceTypeIdentifier),
				RuntimeIdentifier:    runtime,
				Runtime:              runtimeName,
				DataPath:             d.DataPath,
				LogPath:              d.LogPath,
			})
		}
	}

	// simctl groups by runtime in a JSON object; sort for a stable listing order
	sortDevices(devices)
	return devices, nil
}

// SupportedConfigurations lists the device types and runtimes simctl can create
func (m *Manager) SupportedConfigurations(ctx context.Context) (domain.Platform, error) {
	platform := domain.Platform{
		DeviceTypes: make(map[string]string),
		Runtimes:    make(map[string]string),
	}

	types, err := m.simctl(ctx, "list", "devicetypes", "--json").Output()
	if err != nil {
		return platform, fmt.Errorf("simctl list devicetypes failed: %w", err)
	}
	if !gjson.ValidBytes(types) {
		return platform, fmt.Errorf("failed to parse simctl devicetypes output")
	}
	gjson.GetBytes(types, "devicetypes").ForEach(func(_, v gjson.Result) bool {
		platform.DeviceTypes[v.Get("name").String()] = v.Get("identifier").String()
		return true
	})

	runtimes, err := m.simctl(ctx, "list", "runtimes", "--json").Output()
	if err != nil {
		return platform, fmt.Errorf("simctl list runtimes failed: %w", err)
	}
	if !gjson.ValidBytes(runtimes) {
		return platform, fmt.Errorf("failed to parse simctl runtimes output")
	}
	gjson.GetBytes(runtimes, "runtimes.#(isAvailable==true)#").ForEach(func(_, v gjson.Result) bool {
		platform.Runtimes[v.Get("name").String()] = v.Get("identifier").String()
		return true
	})

	m.mu.Lock()
	m.platform = &platform
	m.mu.Unlock()

	return platform, nil
}

// deviceTypeNames maps device type identifiers to display names, using the
// last platform listing. Errors fall back to names derived from identifiers.
func (m *Manager) deviceTypeNames(ctx context.Context) map[string]string {
	m.mu.Lock()
	platform := m.platform
	m.mu.Unlock()

	if platform == nil {
		p, err := m.SupportedConfigurations(ctx)
		if err != nil {
			return nil
		}
		platform = &p
	}

	names := make(map[string]string, len(platform.DeviceTypes))
	for name, id := range platform.DeviceTypes {
		names[id] = name
	}
	return names
}

func deviceTypeName(names map[string]string, identifier string) string {
	if name, ok := names[identifier]; ok {
		return name
	}
	return parseDeviceTypeName(identifier)
}

// Create creates a device and returns its UDID
func (m *Manager) Create(ctx context.Context, deviceType, runtime, name string) (string, error) {
	platform, err := m.SupportedConfigurations(ctx)
	if err != nil {
		return "", err
	}
	typeID, ok := platform.DeviceTypeIdentifier(deviceType)
	if !ok {
		return "", fmt.Errorf("unknown device type: %s", deviceType)
	}
	runtimeID, ok := platform.RuntimeIdentifier(runtime)
	if !ok {
		return "", fmt.Errorf("unknown runtime: %s", runtime)
	}

	output, err := m.simctl(ctx, "create", name, typeID, runtimeID).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to create device: %s", strings.TrimSpace(string(output)))
	}
	udid := strings.TrimSpace(string(output))
	if udid == "" {
		return "", fmt.Errorf("simctl create returned no UDID")
	}
	return udid, nil
}

// Delete deletes a device by UDID
func (m *Manager) Delete(ctx context.Context, udid string) error {
	output, err := m.simctl(ctx, "delete", udid).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to delete device: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

// Erase erases the contents and settings of a device by UDID
func (m *Manager) Erase(ctx context.Context, udid string) error {
	output, err := m.simctl(ctx, "erase", udid).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to erase device: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

// Shutdown shuts down a simulator by UDID
func (m *Manager) Shutdown(ctx context.Context, udid string) error {
	output, err := m.simctl(ctx, "shutdown", udid).CombinedOutput()
	if err != nil {
		// Check if already shut down
		if strings.Contains(string(output), "current state: Shutdown") {
			return nil
		}
		return fmt.Errorf("failed to shutdown device: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

// Boot boots a simulator by UDID
func (m *Manager) Boot(ctx context.Context, udid string) error {
	output, err := m.simctl(ctx, "boot", udid).CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "current state: Booted") {
			return nil // Already booted, not an error
		}
		return fmt.Errorf("failed to boot device: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

// OpenURL opens a URL on a booted simulator
func (m *Manager) OpenURL(ctx context.Context, udid, url string) error {
	output, err := m.simctl(ctx, "openurl", udid, url).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to open url: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

// WaitForBoot waits for a device to finish booting
func (m *Manager) WaitForBoot(ctx context.Context, udid string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for device to boot")
			}

			device, err := Find(ctx, m, udid)
			if err != nil {
				continue
			}

			if device.IsBooted() {
				return nil
			}
		}
	}
}

// Find returns the listed device with the given UDID
func Find(ctx context.Context, gw Gateway, udid string) (*domain.Device, error) {
	devices, err := gw.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.UDID == udid {
			return &d, nil
		}
	}
	return nil, &DeviceNotFoundError{UDID: udid}
}

// DeviceNotFoundError is returned when a UDID is absent from the listing
type DeviceNotFoundError struct {
	UDID string
}

func (e *DeviceNotFoundError) Error() string {
	return "device not found: " + e.UDID
}

// parseRuntimeName extracts a human-readable runtime name from the identifier
func parseRuntimeName(runtime string) string {
	// Example: "com.apple.CoreSimulator.SimRuntime.iOS-17-0" -> "iOS 17.0"
	// Example: "com.apple.CoreSimulator.SimRuntime.watchOS-10-0" -> "watchOS 10.0"

	parts := strings.Split(runtime, ".")
	if len(parts) == 0 {
		return runtime
	}

	lastPart := parts[len(parts)-1]

	// Replace dashes with dots for version numbers, but keep first part
	// e.g., "iOS-17-0" -> "iOS 17.0"
	segments := strings.Split(lastPart, "-")
	if len(segments) >= 2 {
		os := segments[0]
		version := strings.Join(segments[1:], ".")
		return fmt.Sprintf("%s %s", os, version)
	}

	return lastPart
}

// parseDeviceTypeName turns a device type identifier into its display name
func parseDeviceTypeName(identifier string) string {
	// Example: "com.apple.CoreSimulator.SimDeviceType.iPhone-15-Pro" -> "iPhone 15 Pro"
	const prefix = "com.apple.CoreSimulator.SimDeviceType."
	name := strings.TrimPrefix(identifier, prefix)
	return strings.ReplaceAll(name, "-", " ")
}

func sortDevices(devices []domain.Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].Runtime != devices[j].Runtime {
			return devices[i].Runtime < devices[j].Runtime
		}
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].UDID < devices[j].UDID
	})
}
