package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/vburojevic/simpool/internal/history"
	"github.com/vburojevic/simpool/internal/output"
	"github.com/vburojevic/simpool/internal/pool"
)

// HistoryCmd shows the history persisted for a simulator allocated with
// persist_history
type HistoryCmd struct {
	UDID   string `arg:"" help:"Simulator UDID"`
	File   string `type:"path" help:"Read this history file instead of the one in the history directory"`
	Latest bool   `help:"Only show the newest snapshot"`
}

// Run executes the history command
func (c *HistoryCmd) Run(globals *Globals) error {
	path := c.File
	if path == "" {
		path = pool.HistoryFile(globals.historyDir(), c.UDID)
	}

	current, err := history.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return outputErrorCommon(globals, "HISTORY_NOT_FOUND",
				fmt.Sprintf("no history for %s at %s", c.UDID, path),
				"Allocate with --options persist_history to record history")
		}
		return outputErrorCommon(globals, errorCode(err), err.Error())
	}

	snaps := snapshotOutputs(c.UDID, current)
	if c.Latest {
		snaps = snaps[len(snaps)-1:]
	}

	if globals.Format == "ndjson" {
		emitter := newEmitter(globals)
		for i := range snaps {
			if err := emitter.Snapshot(&snaps[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if err := output.NewTextWriter(globals.Stdout).WriteSnapshots(snaps); err != nil {
		return err
	}
	var launched []string
	for _, p := range current.EverLaunched() {
		launched = append(launched, p.String())
	}
	if len(launched) > 0 {
		fmt.Fprintf(globals.Stdout, "\nEver launched: %s\n", strings.Join(launched, ", "))
	}
	return nil
}
