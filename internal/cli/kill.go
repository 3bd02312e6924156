package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// KillCmd kills simulators the pool does not hold, or stray helper processes
type KillCmd struct {
	Mode string `short:"m" default:"untracked" enum:"spurious,all,untracked" help:"spurious: helper processes of no listed simulator; all: every unallocated simulator; untracked: launched unallocated simulators and their leftovers"`
}

// Run executes the kill command
func (c *KillCmd) Run(globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := globals.openPool(ctx, false)
	if err != nil {
		return outputPoolError(globals, err)
	}

	var killed []string
	switch c.Mode {
	case "spurious":
		err = p.KillSpurious(ctx)
	case "all":
		killed, err = p.KillAll(ctx)
	default:
		killed, err = p.KillUntracked(ctx)
	}
	if err != nil {
		return outputErrorCommon(globals, "KILL_FAILED", err.Error(), hintForTooling(err))
	}

	if globals.Format == "ndjson" {
		return newEmitter(globals).Kill(c.Mode, killed)
	}
	if c.Mode == "spurious" {
		fmt.Fprintln(globals.Stdout, "Killed spurious simulator processes")
		return nil
	}
	if len(killed) == 0 {
		fmt.Fprintln(globals.Stdout, "Nothing to kill")
		return nil
	}
	for _, name := range killed {
		fmt.Fprintf(globals.Stdout, "Killed %s\n", name)
	}
	return nil
}
