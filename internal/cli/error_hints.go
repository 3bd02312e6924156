package cli

import (
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/vburojevic/simpool/internal/pool"
)

func hintForPoolError(err error) string {
	if err == nil {
		return ""
	}
	if h := hintForTooling(err); h != "" {
		return h
	}

	switch pool.Kind(err) {
	case pool.ErrUnsupportedConfiguration:
		return "Check the device type and runtime names; try `xcrun simctl list devicetypes` and `xcrun simctl list runtimes`"
	case pool.ErrAllocationExhausted:
		return "No unallocated simulator matched; allow creation with --options reuse,create"
	case pool.ErrDeletionTimeout:
		return "The device set still lists the simulator; raise deletion_timeout in .simpool.yaml"
	case pool.ErrPreconditionFailure:
		return "A startup precondition failed; set startup.ignore_spurious_kill_failure or disable the precondition (then `simpool doctor`)"
	case pool.ErrKillFailure:
		return "Simulator processes could not be killed; try `simpool kill --mode spurious`"
	}
	return ""
}

func hintForTooling(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()

	// Common xcrun/Xcode-select problems.
	if strings.Contains(msg, "invalid active developer path") {
		return "Xcode CLI tools not configured; run `xcode-select --install` or `sudo xcode-select -s /Applications/Xcode.app/Contents/Developer` (then `simpool doctor`)"
	}
	if strings.Contains(strings.ToLower(msg), "license") && strings.Contains(strings.ToLower(msg), "xcodebuild") {
		return "Xcode license may not be accepted; try `sudo xcodebuild -license accept` (then `simpool doctor`)"
	}

	if isCommandNotFound(err, "xcrun") {
		return "xcrun not found; install Xcode Command Line Tools with `xcode-select --install` (then `simpool doctor`)"
	}

	return ""
}

func isCommandNotFound(err error, name string) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, exec.ErrNotFound) && name == "" {
		return true
	}

	var ee *exec.Error
	if errors.As(err, &ee) && strings.EqualFold(ee.Name, name) && errors.Is(ee.Err, exec.ErrNotFound) {
		return true
	}

	var pe *os.PathError
	if errors.As(err, &pe) && errors.Is(pe.Err, exec.ErrNotFound) {
		if strings.EqualFold(pe.Path, name) || strings.HasSuffix(pe.Path, string(os.PathSeparator)+name) {
			return true
		}
	}

	// Fallback to string matching for wrapped errors.
	msg := err.Error()
	if strings.Contains(msg, "executable file not found") && strings.Contains(msg, name) {
		return true
	}
	if strings.Contains(msg, "No such file or directory") && strings.Contains(msg, name) {
		return true
	}

	return false
}
