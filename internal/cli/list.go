package cli

import (
	"context"
	"strings"

	"github.com/vburojevic/simpool/internal/filter"
	"github.com/vburojevic/simpool/internal/output"
	"github.com/vburojevic/simpool/internal/pool"
)

// ListCmd lists the simulators in the device set
type ListCmd struct {
	Launched bool     `short:"l" help:"Show only booted or booting simulators"`
	Runtime  string   `help:"Filter by runtime (e.g., '17', 'iOS 17')"`
	Where    []string `short:"w" help:"Filter expression, repeatable (e.g., 'state=Booted && name~\"iPhone 1[45]\"')"`
	Summary  bool     `short:"s" help:"Append a pool summary"`
}

// Run executes the list command
func (c *ListCmd) Run(globals *Globals) error {
	ctx := context.Background()
	chain, err := c.filters()
	if err != nil {
		return outputErrorCommon(globals, "INVALID_FILTER", err.Error(), "Fields: "+strings.Join(filter.Fields, ", "))
	}

	p, err := globals.openPool(ctx, false)
	if err != nil {
		return outputPoolError(globals, err)
	}

	var sims []*pool.Simulator
	if c.Launched {
		sims, err = p.Launched(ctx)
	} else {
		sims, err = p.All(ctx)
	}
	if err != nil {
		return outputErrorCommon(globals, "LIST_FAILED", err.Error(), hintForTooling(err))
	}

	rows := make([]output.SimulatorOutput, 0, len(sims))
	for _, sim := range sims {
		_, allocated := sim.AllocationOptions()
		if !chain.Match(&filter.Simulator{Device: sim.Device(), Allocated: allocated}) {
			continue
		}
		rows = append(rows, simulatorOutput(sim))
	}

	if globals.Format == "ndjson" {
		emitter := newEmitter(globals)
		for i := range rows {
			if err := emitter.Simulator(&rows[i]); err != nil {
				return err
			}
		}
	} else if err := output.NewTextWriter(globals.Stdout).WriteSimulators(rows); err != nil {
		return err
	}

	if !c.Summary {
		return nil
	}
	summary, err := p.Summary(ctx)
	if err != nil {
		return outputErrorCommon(globals, "LIST_FAILED", err.Error())
	}
	if globals.Format == "ndjson" {
		return newEmitter(globals).WriteSummary(summary)
	}
	return output.NewTextWriter(globals.Stdout).WriteSummary(summary)
}

func (c *ListCmd) filters() (*filter.Chain, error) {
	chain := filter.NewChain()
	if c.Runtime != "" {
		chain.Add(filter.NewRuntimeFilter(c.Runtime))
	}
	where, err := filter.NewWhereFilter(c.Where)
	if err != nil {
		return nil, err
	}
	if where != nil {
		chain.Add(where)
	}
	return chain, nil
}
