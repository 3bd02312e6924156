package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vburojevic/simpool/internal/config"
	"github.com/vburojevic/simpool/internal/termination"
)

// DoctorCmd checks system requirements and configuration
type DoctorCmd struct{}

// checkResult represents a single diagnostic check
type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// doctorReport is the complete diagnostic report
type doctorReport struct {
	Type       string        `json:"type"`
	Timestamp  string        `json:"timestamp"`
	Checks     []checkResult `json:"checks"`
	AllPassed  bool          `json:"all_passed"`
	ErrorCount int           `json:"error_count"`
	WarnCount  int           `json:"warn_count"`
}

// Run executes the doctor command
func (c *DoctorCmd) Run(globals *Globals) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var checks []checkResult

	checks = append(checks, c.checkXcrun(ctx))
	checks = append(checks, c.checkConfig(globals))
	checks = append(checks, c.checkDeviceSet(ctx, globals))
	checks = append(checks, c.checkDefaults(ctx, globals))
	checks = append(checks, c.checkHistoryDir(globals))
	checks = append(checks, c.checkSpurious(ctx, globals))

	// Count errors and warnings
	errorCount := 0
	warnCount := 0
	for _, check := range checks {
		if check.Status == "error" {
			errorCount++
		} else if check.Status == "warning" {
			warnCount++
		}
	}

	report := doctorReport{
		Type:       "doctor",
		Timestamp:  time.Now().Format(time.RFC3339),
		Checks:     checks,
		AllPassed:  errorCount == 0,
		ErrorCount: errorCount,
		WarnCount:  warnCount,
	}

	if globals.Format == "ndjson" {
		encoder := json.NewEncoder(globals.Stdout)
		return encoder.Encode(report)
	}

	// Text output
	fmt.Fprintln(globals.Stdout, "simpool Doctor")
	fmt.Fprintln(globals.Stdout, "==============")
	fmt.Fprintln(globals.Stdout)

	for _, check := range checks {
		var icon string
		switch check.Status {
		case "ok":
			icon = "✓"
		case "warning":
			icon = "⚠"
		case "error":
			icon = "✗"
		}

		fmt.Fprintf(globals.Stdout, "%s %s\n", icon, check.Name)
		if check.Message != "" {
			fmt.Fprintf(globals.Stdout, "  %s\n", check.Message)
		}
		if check.Details != "" {
			fmt.Fprintf(globals.Stdout, "  %s\n", check.Details)
		}
	}

	fmt.Fprintln(globals.Stdout)
	if errorCount == 0 && warnCount == 0 {
		fmt.Fprintln(globals.Stdout, "All checks passed!")
	} else {
		fmt.Fprintf(globals.Stdout, "Errors: %d, Warnings: %d\n", errorCount, warnCount)
	}

	return nil
}

func (c *DoctorCmd) checkXcrun(ctx context.Context) checkResult {
	cmd := exec.CommandContext(ctx, "xcrun", "--version")
	output, err := cmd.Output()
	if err != nil {
		return checkResult{
			Name:    "xcrun",
			Status:  "error",
			Message: "xcrun not found or not working",
			Details: "Install Xcode Command Line Tools: xcode-select --install",
		}
	}

	version := strings.TrimSpace(string(output))
	return checkResult{
		Name:    "xcrun",
		Status:  "ok",
		Message: version,
	}
}

func (c *DoctorCmd) checkConfig(globals *Globals) checkResult {
	configPath := config.ConfigFile()
	if configPath == "" {
		return checkResult{
			Name:    "Config",
			Status:  "ok",
			Message: "Using defaults (no config file)",
			Details: "Create with: simpool config generate > ~/.simpool.yaml",
		}
	}

	cfg, err := config.LoadFromFile(configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return checkResult{
			Name:    "Config",
			Status:  "error",
			Message: "Config file has errors",
			Details: err.Error(),
		}
	}

	absPath, _ := filepath.Abs(configPath)
	return checkResult{
		Name:    "Config",
		Status:  "ok",
		Message: fmt.Sprintf("Loaded from: %s", absPath),
		Details: fmt.Sprintf("Format: %s, Options: %s", cfg.Format, cfg.Defaults.Options),
	}
}

func (c *DoctorCmd) checkDeviceSet(ctx context.Context, globals *Globals) checkResult {
	devices, err := globals.gateway().List(ctx)
	if err != nil {
		return checkResult{
			Name:    "Device set",
			Status:  "error",
			Message: "Failed to list simulators",
			Details: err.Error(),
		}
	}

	booted := 0
	runtimes := make(map[string]int)
	for _, d := range devices {
		if d.IsBooted() {
			booted++
		}
		runtimes[d.Runtime]++
	}

	var runtimeList []string
	for rt, count := range runtimes {
		runtimeList = append(runtimeList, fmt.Sprintf("%s (%d)", rt, count))
	}
	sort.Strings(runtimeList)

	where := globals.DeviceSet
	if where == "" {
		where = "default device set"
	}
	return checkResult{
		Name:    "Device set",
		Status:  "ok",
		Message: fmt.Sprintf("%d simulators, %d booted in %s", len(devices), booted, where),
		Details: strings.Join(runtimeList, ", "),
	}
}

func (c *DoctorCmd) checkDefaults(ctx context.Context, globals *Globals) checkResult {
	cfg := globals.config().Configuration()
	platform, err := globals.gateway().SupportedConfigurations(ctx)
	if err != nil {
		return checkResult{
			Name:    "Default configuration",
			Status:  "error",
			Message: "Failed to read supported device types and runtimes",
			Details: err.Error(),
		}
	}
	if !platform.Supports(cfg) {
		return checkResult{
			Name:    "Default configuration",
			Status:  "warning",
			Message: fmt.Sprintf("%s is not supported by the installed runtimes", cfg),
			Details: "Available runtimes: " + strings.Join(platform.RuntimeNames(), ", "),
		}
	}
	return checkResult{
		Name:    "Default configuration",
		Status:  "ok",
		Message: cfg.String(),
	}
}

func (c *DoctorCmd) checkHistoryDir(globals *Globals) checkResult {
	dir := globals.historyDir()
	if err := os.MkdirAll(dir, 0o755); err != nil || !c.checkWritePermission(dir) {
		return checkResult{
			Name:    "History directory",
			Status:  "warning",
			Message: "Not writable: " + dir,
			Details: "persist_history allocations will fail to record; set history_dir",
		}
	}
	return checkResult{
		Name:    "History directory",
		Status:  "ok",
		Message: dir,
	}
}

func (c *DoctorCmd) checkSpurious(ctx context.Context, globals *Globals) checkResult {
	lister := globals.Processes
	if lister == nil {
		lister = termination.SystemLister{}
	}
	procs, err := lister.Processes(ctx)
	if err != nil {
		return checkResult{
			Name:    "Simulator processes",
			Status:  "warning",
			Message: "Could not inspect host processes",
			Details: err.Error(),
		}
	}
	helpers := 0
	for _, p := range procs {
		if p.IsHelper() {
			helpers++
		}
	}
	return checkResult{
		Name:    "Simulator processes",
		Status:  "ok",
		Message: fmt.Sprintf("%d simulator helper processes running", helpers),
		Details: "Stray helpers can be killed with: simpool kill --mode spurious",
	}
}

// checkWritePermission checks if we can write to a directory
func (c *DoctorCmd) checkWritePermission(path string) bool {
	testFile := filepath.Join(path, ".simpool_test_"+fmt.Sprint(os.Getpid()))
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(testFile)
	return true
}
