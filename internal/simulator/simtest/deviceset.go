// Package simtest provides an in-memory device set for exercising code that
// talks to a simulator.Gateway without Xcode installed.
package simtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vburojevic/simpool/internal/domain"
)

// DeviceSet is a thread-safe fake device set.
// The zero value is not usable; call NewDeviceSet.
type DeviceSet struct {
	mu       sync.Mutex
	root     string
	devices  []domain.Device
	platform domain.Platform
	calls    map[string]int

	// pendingDeletes counts how many more List calls still report a deleted UDID.
	// A negative count keeps the device listed forever.
	pendingDeletes map[string]int

	// DeleteLag is copied into pendingDeletes on each Delete
	DeleteLag int
	// Failure hooks, keyed by operation name ("create", "delete", "erase", "shutdown", "boot", "openurl", "list")
	Errors map[string]error
	// HideCreated keeps created devices out of the listing
	HideCreated bool
}

// NewDeviceSet returns an empty device set supporting iPhone 15 and iPhone 11
// on iOS 13.0 and iOS 17.0. Device data directories are created under root
// when root is non-empty.
func NewDeviceSet(root string) *DeviceSet {
	return &DeviceSet{
		root: root,
		platform: domain.Platform{
			DeviceTypes: map[string]string{
				"iPhone 15": "com.apple.CoreSimulator.SimDeviceType.iPhone-15",
				"iPhone 11": "com.apple.CoreSimulator.SimDeviceType.iPhone-11",
				"iPhone":    "com.apple.CoreSimulator.SimDeviceType.iPhone",
			},
			Runtimes: map[string]string{
				"iOS 13.0": "com.apple.CoreSimulator.SimRuntime.iOS-13-0",
				"iOS 17.0": "com.apple.CoreSimulator.SimRuntime.iOS-17-0",
				"iOS13":    "com.apple.CoreSimulator.SimRuntime.iOS-13-0",
			},
		},
		calls:          make(map[string]int),
		pendingDeletes: make(map[string]int),
		Errors:         make(map[string]error),
	}
}

// Add inserts a device and returns it with a UDID and data path filled in
func (s *DeviceSet) Add(name, deviceType, runtime string, state domain.State) domain.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.newDevice(name, deviceType, runtime, state)
	s.devices = append(s.devices, d)
	return d
}

func (s *DeviceSet) newDevice(name, deviceType, runtime string, state domain.State) domain.Device {
	udid := strings.ToUpper(uuid.NewString())
	d := domain.Device{
		UDID:                 udid,
		Name:                 name,
		State:                state,
		IsAvailable:          true,
		DeviceTypeIdentifier: s.platform.DeviceTypes[deviceType],
		DeviceType:           deviceType,
		RuntimeIdentifier:    s.platform.Runtimes[runtime],
		Runtime:              runtime,
	}
	if s.root != "" {
		d.DataPath = filepath.Join(s.root, udid, "data")
		_ = os.MkdirAll(d.DataPath, 0o755)
	}
	return d
}

// SetState changes a device's state, as the external driver would
func (s *DeviceSet) SetState(udid string, state domain.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.devices {
		if s.devices[i].UDID == udid {
			s.devices[i].State = state
		}
	}
}

// Calls returns how many times an operation was invoked
func (s *DeviceSet) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Erased reports how many times a UDID was erased
func (s *DeviceSet) Erased(udid string) int {
	return s.Calls("erase:" + udid)
}

func (s *DeviceSet) record(op string) error {
	s.calls[op]++
	return s.Errors[op]
}

// List returns the devices in insertion order
func (s *DeviceSet) List(_ context.Context) ([]domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("list"); err != nil {
		return nil, err
	}

	var out []domain.Device
	var keep []domain.Device
	for _, d := range s.devices {
		n, deleting := s.pendingDeletes[d.UDID]
		if deleting && n == 0 {
			delete(s.pendingDeletes, d.UDID)
			continue
		}
		if deleting && n > 0 {
			s.pendingDeletes[d.UDID] = n - 1
		}
		keep = append(keep, d)
		if s.HideCreated && strings.HasPrefix(d.Name, "created:") {
			continue
		}
		out = append(out, d)
	}
	s.devices = keep
	return out, nil
}

// Create adds a Shutdown device
func (s *DeviceSet) Create(_ context.Context, deviceType, runtime, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("create"); err != nil {
		return "", err
	}
	if _, ok := s.platform.DeviceTypeIdentifier(deviceType); !ok {
		return "", fmt.Errorf("unknown device type: %s", deviceType)
	}
	if _, ok := s.platform.RuntimeIdentifier(runtime); !ok {
		return "", fmt.Errorf("unknown runtime: %s", runtime)
	}
	if s.HideCreated {
		name = "created:" + name
	}
	d := s.newDevice(name, deviceType, runtime, domain.StateShutdown)
	s.devices = append(s.devices, d)
	return d.UDID, nil
}

// Delete removes a device, after DeleteLag further List calls
func (s *DeviceSet) Delete(_ context.Context, udid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("delete"); err != nil {
		return err
	}
	if !s.has(udid) {
		return fmt.Errorf("device not found: %s", udid)
	}
	if s.DeleteLag == 0 {
		s.remove(udid)
		return nil
	}
	s.pendingDeletes[udid] = s.DeleteLag
	return nil
}

// Erase records an erase of a shut down device
func (s *DeviceSet) Erase(_ context.Context, udid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("erase"); err != nil {
		return err
	}
	s.calls["erase:"+udid]++
	for _, d := range s.devices {
		if d.UDID == udid && d.State != domain.StateShutdown {
			return fmt.Errorf("unable to erase device in current state: %s", d.State)
		}
	}
	return nil
}

// Shutdown moves a device to Shutdown
func (s *DeviceSet) Shutdown(_ context.Context, udid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("shutdown"); err != nil {
		return err
	}
	for i := range s.devices {
		if s.devices[i].UDID == udid {
			s.devices[i].State = domain.StateShutdown
			return nil
		}
	}
	return fmt.Errorf("device not found: %s", udid)
}

// Boot moves a device to Booted
func (s *DeviceSet) Boot(_ context.Context, udid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("boot"); err != nil {
		return err
	}
	for i := range s.devices {
		if s.devices[i].UDID == udid {
			s.devices[i].State = domain.StateBooted
			return nil
		}
	}
	return fmt.Errorf("device not found: %s", udid)
}

// WaitForBoot succeeds once the device is Booted. Boot is synchronous here,
// so there is nothing to wait for.
func (s *DeviceSet) WaitForBoot(_ context.Context, udid string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.UDID == udid && d.IsBooted() {
			return nil
		}
	}
	return fmt.Errorf("timeout waiting for device to boot")
}

// OpenURL records a URL opened on a device
func (s *DeviceSet) OpenURL(_ context.Context, udid, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("openurl"); err != nil {
		return err
	}
	s.calls["openurl:"+udid+":"+url]++
	return nil
}

// SupportedConfigurations returns the fixed platform
func (s *DeviceSet) SupportedConfigurations(_ context.Context) (domain.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("platform"); err != nil {
		return domain.Platform{}, err
	}
	return s.platform, nil
}

func (s *DeviceSet) has(udid string) bool {
	for _, d := range s.devices {
		if d.UDID == udid {
			return true
		}
	}
	return false
}

func (s *DeviceSet) remove(udid string) {
	out := s.devices[:0]
	for _, d := range s.devices {
		if d.UDID != udid {
			out = append(out, d)
		}
	}
	s.devices = out
}
