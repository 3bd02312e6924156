package cli

import (
	"context"
	"io"
)

// DescribeCmd prints the pool's own description of itself
type DescribeCmd struct{}

// Run executes the describe command
func (c *DescribeCmd) Run(globals *Globals) error {
	ctx := context.Background()
	p, err := globals.openPool(ctx, false)
	if err != nil {
		return outputPoolError(globals, err)
	}
	summary, err := p.Summary(ctx)
	if err != nil {
		return outputErrorCommon(globals, "DESCRIBE_FAILED", err.Error(), hintForTooling(err))
	}

	if globals.Format == "ndjson" {
		emitter := newEmitter(globals)
		if err := emitter.WriteSummary(summary); err != nil {
			return err
		}
		return emitter.Info(p.Describe(), "")
	}
	_, err = io.WriteString(globals.Stdout, p.Describe())
	return err
}
