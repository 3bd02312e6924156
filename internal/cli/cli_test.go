package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vburojevic/simpool/internal/config"
	"github.com/vburojevic/simpool/internal/domain"
	"github.com/vburojevic/simpool/internal/history"
	"github.com/vburojevic/simpool/internal/pool"
	"github.com/vburojevic/simpool/internal/simulator/simtest"
	"github.com/vburojevic/simpool/internal/termination"
)

// noProcesses is a host with no simulator processes
type noProcesses struct{}

func (noProcesses) Processes(context.Context) ([]termination.Process, error) { return nil, nil }
func (noProcesses) Kill(context.Context, int32) error                       { return nil }

// testGlobals creates a Globals struct with captured stdout/stderr over an
// in-memory device set
func testGlobals(t *testing.T, format string) (*Globals, *simtest.DeviceSet, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cfg := config.Default()
	cfg.HistoryDir = t.TempDir()
	set := simtest.NewDeviceSet(t.TempDir())
	return &Globals{
		Format:    format,
		Stdout:    stdout,
		Stderr:    stderr,
		Config:    cfg,
		Gateway:   set,
		Processes: noProcesses{},
		Registry:  prometheus.NewRegistry(),
	}, set, stdout, stderr
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func byType(items []map[string]interface{}, typ string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range items {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// --- Version Command Tests ---

func TestVersionCmd_Run(t *testing.T) {
	t.Run("ndjson", func(t *testing.T) {
		globals, _, stdout, _ := testGlobals(t, "ndjson")
		require.NoError(t, (&VersionCmd{}).Run(globals))

		items := decodeLines(t, stdout)
		require.Len(t, items, 1)
		assert.Equal(t, "version", items[0]["type"])
		assert.Equal(t, Version, items[0]["version"])
	})

	t.Run("text", func(t *testing.T) {
		globals, _, stdout, _ := testGlobals(t, "text")
		require.NoError(t, (&VersionCmd{}).Run(globals))
		assert.Equal(t, "simpool version dev (none)\n", stdout.String())
	})
}

// --- Config Command Tests ---

func TestConfigShowCmd_Run(t *testing.T) {
	t.Run("outputs config in text format", func(t *testing.T) {
		globals, _, stdout, _ := testGlobals(t, "text")
		require.NoError(t, (&ConfigShowCmd{}).Run(globals))

		output := stdout.String()
		assert.Contains(t, output, "Current Configuration:")
		assert.Contains(t, output, "deletion_timeout: 30s")
		assert.Contains(t, output, "Startup:")
		assert.Contains(t, output, "device_type: iPhone 15")
	})

	t.Run("outputs config in NDJSON format", func(t *testing.T) {
		globals, _, stdout, _ := testGlobals(t, "ndjson")
		require.NoError(t, (&ConfigShowCmd{}).Run(globals))

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, "config", result["type"])
		assert.Equal(t, "30s", result["deletion_timeout"])
		assert.Equal(t, globals.Config.HistoryDir, result["history_dir"])
		assert.Contains(t, result, "startup")
		assert.Contains(t, result, "defaults")
	})
}

func TestConfigPathCmd_Run(t *testing.T) {
	globals, _, stdout, _ := testGlobals(t, "ndjson")
	require.NoError(t, (&ConfigPathCmd{}).Run(globals))

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, "config_path", result["type"])
	assert.Contains(t, result, "path")
}

func TestConfigGenerateCmd_Run(t *testing.T) {
	globals, _, stdout, _ := testGlobals(t, "text")
	require.NoError(t, (&ConfigGenerateCmd{}).Run(globals))

	// The sample must load and validate as-is
	path := filepath.Join(t.TempDir(), "simpool.yaml")
	require.NoError(t, os.WriteFile(path, stdout.Bytes(), 0644))
	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, *config.Default(), *cfg)
}

// --- List Command Tests ---

func TestListCmd_Run(t *testing.T) {
	t.Run("emits one line per simulator", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "ndjson")
		booted := set.Add("iPhone 15 (iOS 17.0)", "iPhone 15", "iOS 17.0", domain.StateBooted)
		set.Add("iPhone 11 (iOS 13.0)", "iPhone 11", "iOS 13.0", domain.StateShutdown)

		require.NoError(t, (&ListCmd{}).Run(globals))
		sims := byType(decodeLines(t, stdout), "simulator")
		require.Len(t, sims, 2)
		assert.Equal(t, booted.UDID, sims[0]["udid"])
		assert.Equal(t, "Booted", sims[0]["state"])
		assert.Equal(t, false, sims[0]["allocated"])
	})

	t.Run("filters launched and runtime", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "ndjson")
		set.Add("a", "iPhone 15", "iOS 17.0", domain.StateBooted)
		set.Add("b", "iPhone 11", "iOS 13.0", domain.StateBooting)
		set.Add("c", "iPhone 11", "iOS 13.0", domain.StateShutdown)

		require.NoError(t, (&ListCmd{Launched: true, Runtime: "13"}).Run(globals))
		sims := byType(decodeLines(t, stdout), "simulator")
		require.Len(t, sims, 1)
		assert.Equal(t, "b", sims[0]["name"])
	})

	t.Run("where expressions", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "ndjson")
		set.Add("a", "iPhone 15", "iOS 17.0", domain.StateBooted)
		set.Add("b", "iPhone 11", "iOS 13.0", domain.StateShutdown)
		set.Add("c", "iPhone 11", "iOS 17.0", domain.StateShutdown)

		require.NoError(t, (&ListCmd{Where: []string{"state=Shutdown", "runtime$17.0"}}).Run(globals))
		sims := byType(decodeLines(t, stdout), "simulator")
		require.Len(t, sims, 1)
		assert.Equal(t, "c", sims[0]["name"])
	})

	t.Run("invalid where expression", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "ndjson")

		err := (&ListCmd{Where: []string{"level=error"}}).Run(globals)
		var cliErr *CLIError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, "INVALID_FILTER", cliErr.Code)
		assert.Contains(t, cliErr.Hint, "device_type")
		assert.Len(t, byType(decodeLines(t, stdout), "error"), 1)
		assert.Zero(t, set.Calls("list"))
	})

	t.Run("appends a summary", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "ndjson")
		set.Add("a", "iPhone 15", "iOS 17.0", domain.StateBooted)
		set.Add("b", "iPhone 15", "iOS 17.0", domain.StateShutdown)

		require.NoError(t, (&ListCmd{Summary: true}).Run(globals))
		summaries := byType(decodeLines(t, stdout), "pool_summary")
		require.Len(t, summaries, 1)
		assert.EqualValues(t, 2, summaries[0]["total"])
		assert.EqualValues(t, 1, summaries[0]["launched"])
	})

	t.Run("text table", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "text")
		d := set.Add("iPhone 15 (iOS 17.0)", "iPhone 15", "iOS 17.0", domain.StateShutdown)

		require.NoError(t, (&ListCmd{}).Run(globals))
		assert.Contains(t, stdout.String(), d.UDID)
		assert.Contains(t, stdout.String(), "Shutdown")
	})

	t.Run("list failure", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "ndjson")
		set.Errors["list"] = errors.New("simctl list failed")

		err := (&ListCmd{}).Run(globals)
		var cliErr *CLIError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, "LIST_FAILED", cliErr.Code)
		assert.Len(t, byType(decodeLines(t, stdout), "error"), 1)
	})
}

// --- Exec Command Tests ---

func TestExecCmd_Run(t *testing.T) {
	t.Run("runs the command with the simulator in its environment", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "ndjson")
		cmd := &ExecCmd{
			DeviceType: "iPhone 15",
			Runtime:    "iOS 17.0",
			Options:    "create",
			Command:    []string{"sh", "-c", "echo $SIMULATOR_UDID; echo oops >&2; exit 3"},
		}

		err := cmd.Run(globals)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 3, exitErr.Code)

		items := decodeLines(t, stdout)
		allocated := byType(items, "allocated")
		require.Len(t, allocated, 1)
		udid := allocated[0]["udid"].(string)
		assert.Equal(t, 1, set.Calls("create"))

		var lines []string
		for _, c := range byType(items, "console") {
			lines = append(lines, c["stream"].(string)+":"+c["message"].(string))
		}
		assert.ElementsMatch(t, []string{"stdout:" + udid, "stderr:oops"}, lines)

		exits := byType(items, "exit")
		require.Len(t, exits, 1)
		assert.EqualValues(t, 3, exits[0]["exit_code"])
		assert.Len(t, byType(items, "freed"), 1)
		assert.Equal(t, "freed", items[len(items)-1]["type"])
	})

	t.Run("boots, opens a URL and records history", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "ndjson")
		d := set.Add("iPhone 15 (iOS 17.0)", "iPhone 15", "iOS 17.0", domain.StateShutdown)
		cmd := &ExecCmd{
			DeviceType: "iPhone 15",
			Runtime:    "iOS 17.0",
			Options:    "reuse,persist_history",
			OpenURL:    "https://example.com",
		}

		require.NoError(t, cmd.Run(globals))
		assert.Equal(t, 1, set.Calls("boot"))
		assert.Equal(t, 1, set.Calls("openurl:"+d.UDID+":https://example.com"))
		assert.Zero(t, set.Calls("create"))
		assert.Len(t, byType(decodeLines(t, stdout), "freed"), 1)

		current, err := history.Load(pool.HistoryFile(globals.Config.HistoryDir, d.UDID))
		require.NoError(t, err)
		chain := current.Chain()
		assert.Equal(t, domain.StateShutdown, chain[len(chain)-1].State())
		assert.Equal(t, domain.StateBooted, current.State())
	})

	t.Run("text output goes to stdout and stderr", func(t *testing.T) {
		globals, _, stdout, stderr := testGlobals(t, "text")
		cmd := &ExecCmd{
			DeviceType: "iPhone 15",
			Runtime:    "iOS 17.0",
			Options:    "create,delete_on_free",
			Command:    []string{"sh", "-c", "echo out; echo err >&2"},
		}

		require.NoError(t, cmd.Run(globals))
		assert.Equal(t, "out\n", stdout.String())
		assert.Contains(t, stderr.String(), "err\n")
		assert.Contains(t, stderr.String(), "allocated")
		assert.Contains(t, stderr.String(), "freed")
	})

	tests := []struct {
		name string
		cmd  ExecCmd
		code string
	}{
		{"invalid options", ExecCmd{DeviceType: "iPhone 15", Runtime: "iOS 17.0", Options: "teleport"}, "INVALID_OPTIONS"},
		{"unsupported configuration", ExecCmd{DeviceType: "iPad", Runtime: "iOS 17.0", Options: "create"}, "UNSUPPORTED_CONFIGURATION"},
		{"exhausted", ExecCmd{DeviceType: "iPhone 15", Runtime: "iOS 17.0", Options: "reuse"}, "ALLOCATION_EXHAUSTED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			globals, set, stdout, _ := testGlobals(t, "ndjson")

			err := tt.cmd.Run(globals)
			var cliErr *CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, tt.code, cliErr.Code)

			errs := byType(decodeLines(t, stdout), "error")
			require.Len(t, errs, 1)
			assert.Equal(t, tt.code, errs[0]["code"])
			assert.Zero(t, set.Calls("create"))
		})
	}
}

func TestMetricsFile(t *testing.T) {
	globals, _, _, _ := testGlobals(t, "ndjson")
	globals.MetricsFile = filepath.Join(t.TempDir(), "simpool.prom")

	cmd := &ExecCmd{DeviceType: "iPhone 15", Runtime: "iOS 17.0", Options: "create"}
	require.NoError(t, cmd.Run(globals))
	require.NoError(t, globals.FlushMetrics())

	data, err := os.ReadFile(globals.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `simpool_allocations_total{result="created"} 1`)
	assert.Contains(t, string(data), `simpool_frees_total{result="kept"} 1`)
}

// --- History Command Tests ---

func TestHistoryCmd_Run(t *testing.T) {
	writeHistory := func(t *testing.T, dir, udid string) {
		t.Helper()
		g := history.NewPersistentGenerator(pool.HistoryFile(dir, udid), domain.StateShutdown)
		g.OnStateChanged(domain.StateBooted)
		g.OnProcessLaunched(domain.Process{PID: 42, Name: "SpringBoard"}, domain.LaunchConfiguration{})
		require.Zero(t, g.PersistFailures())
	}

	t.Run("emits the chain oldest first", func(t *testing.T) {
		globals, _, stdout, _ := testGlobals(t, "ndjson")
		writeHistory(t, globals.Config.HistoryDir, "ABC")

		require.NoError(t, (&HistoryCmd{UDID: "ABC"}).Run(globals))
		snaps := byType(decodeLines(t, stdout), "snapshot")
		require.Len(t, snaps, 3)
		for i, s := range snaps {
			assert.EqualValues(t, i, s["index"])
		}
		assert.Equal(t, "Shutdown", snaps[0]["state"])
		assert.NotContains(t, snaps[0], "timestamp")
		assert.Equal(t, "Booted", snaps[2]["state"])
		assert.Len(t, snaps[2]["launched"], 1)
	})

	t.Run("latest only", func(t *testing.T) {
		globals, _, stdout, _ := testGlobals(t, "ndjson")
		writeHistory(t, globals.Config.HistoryDir, "ABC")

		require.NoError(t, (&HistoryCmd{UDID: "ABC", Latest: true}).Run(globals))
		snaps := byType(decodeLines(t, stdout), "snapshot")
		require.Len(t, snaps, 1)
		assert.EqualValues(t, 2, snaps[0]["index"])
	})

	t.Run("text lists ever launched processes", func(t *testing.T) {
		globals, _, stdout, _ := testGlobals(t, "text")
		writeHistory(t, globals.Config.HistoryDir, "ABC")

		require.NoError(t, (&HistoryCmd{UDID: "ABC"}).Run(globals))
		assert.Contains(t, stdout.String(), "Ever launched: SpringBoard (42)")
	})

	t.Run("missing history", func(t *testing.T) {
		globals, _, _, _ := testGlobals(t, "ndjson")

		err := (&HistoryCmd{UDID: "NOPE"}).Run(globals)
		var cliErr *CLIError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, "HISTORY_NOT_FOUND", cliErr.Code)
		assert.NotEmpty(t, cliErr.Hint)
	})

	t.Run("incompatible history", func(t *testing.T) {
		globals, _, _, _ := testGlobals(t, "ndjson")
		path := filepath.Join(t.TempDir(), "old.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"snapshots":[]}`), 0644))

		err := (&HistoryCmd{UDID: "ABC", File: path}).Run(globals)
		var cliErr *CLIError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, "HISTORY_INCOMPATIBLE", cliErr.Code)
	})
}

// --- Kill / Describe / Doctor Tests ---

func TestKillCmd_Run(t *testing.T) {
	t.Run("all kills unallocated simulators", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "ndjson")
		set.Add("booted", "iPhone 15", "iOS 17.0", domain.StateBooted)

		require.NoError(t, (&KillCmd{Mode: "all"}).Run(globals))
		killed := byType(decodeLines(t, stdout), "killed")
		require.Len(t, killed, 1)
		assert.Equal(t, []interface{}{"booted"}, killed[0]["simulators"])
		assert.Equal(t, 1, set.Calls("shutdown"))
	})

	t.Run("untracked leaves shut down simulators alone", func(t *testing.T) {
		globals, set, stdout, _ := testGlobals(t, "text")
		set.Add("idle", "iPhone 15", "iOS 17.0", domain.StateShutdown)

		require.NoError(t, (&KillCmd{Mode: "untracked"}).Run(globals))
		assert.Equal(t, "Nothing to kill\n", stdout.String())
		assert.Zero(t, set.Calls("shutdown"))
	})

	t.Run("spurious", func(t *testing.T) {
		globals, _, stdout, _ := testGlobals(t, "ndjson")

		require.NoError(t, (&KillCmd{Mode: "spurious"}).Run(globals))
		assert.Contains(t, stdout.String(), `"simulators":[]`)
	})
}

func TestDescribeCmd_Run(t *testing.T) {
	globals, set, stdout, _ := testGlobals(t, "text")
	d := set.Add("iPhone 15 (iOS 17.0)", "iPhone 15", "iOS 17.0", domain.StateShutdown)

	require.NoError(t, (&DescribeCmd{}).Run(globals))
	assert.Contains(t, stdout.String(), "Pool: 1 simulators, 0 allocated")
	assert.Contains(t, stdout.String(), d.UDID)
}

func TestDoctorCmd_Run(t *testing.T) {
	globals, set, stdout, _ := testGlobals(t, "ndjson")
	set.Add("a", "iPhone 15", "iOS 17.0", domain.StateBooted)

	require.NoError(t, (&DoctorCmd{}).Run(globals))

	var report doctorReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Equal(t, "doctor", report.Type)

	statuses := map[string]string{}
	for _, c := range report.Checks {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, "ok", statuses["Device set"])
	assert.Equal(t, "ok", statuses["Default configuration"])
	assert.Equal(t, "ok", statuses["History directory"])
	assert.Equal(t, "ok", statuses["Simulator processes"])
}

// --- Error mapping ---

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&pool.PoolError{Kind: pool.ErrAllocationExhausted}, "ALLOCATION_EXHAUSTED"},
		{&pool.PoolError{Kind: pool.ErrDeletionTimeout, UDID: "A"}, "DELETION_TIMEOUT"},
		{&pool.PoolError{Kind: pool.ErrPreconditionFailure}, "PRECONDITION_FAILED"},
		{&pool.PoolError{Kind: pool.ErrListFailure, Err: errors.New("service down")}, "LIST_FAILED"},
		{history.ErrIncompatible, "HISTORY_INCOMPATIBLE"},
		{errors.New("boom"), "POOL_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, errorCode(tt.err))
		})
	}
}

func TestOutputErrorCommon_Text(t *testing.T) {
	globals, _, stdout, stderr := testGlobals(t, "text")

	err := outputErrorCommon(globals, "E_CODE", "went wrong", "try again")
	assert.EqualError(t, err, "went wrong")
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "Error [E_CODE]: went wrong")
	assert.Contains(t, stderr.String(), "Hint: try again")
}
