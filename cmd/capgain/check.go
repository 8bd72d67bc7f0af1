package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/atmx/capgain/internal/batch"
	"github.com/atmx/capgain/internal/config"
	"github.com/atmx/capgain/internal/model"
	"github.com/atmx/capgain/internal/operation"
	"github.com/atmx/capgain/internal/validation"
)

// checkCmd holds the flags for the 'check' subcommand.
type checkCmd struct {
	cfg           config.Config
	io            streams
	input         string
	allowOverSell bool
}

func (*checkCmd) Name() string     { return "check" }
func (*checkCmd) Synopsis() string { return "validate simulations without computing taxes" }
func (*checkCmd) Usage() string {
	return `capgain check [-i <file>] [-allow-oversell]

  Reads simulations like 'run' and reports every line that would be rejected
  in strict mode: malformed JSON, negative quantities or prices, and sells of
  more shares than held. Exits non-zero if any line is rejected.

`
}

func (c *checkCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.input, "i", "", "Read simulations from this file instead of stdin")
	f.BoolVar(&c.allowOverSell, "allow-oversell", false, "Accept sells that leave negative shares")
}

func (c *checkCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	log := loggerFrom(args)

	in, closeIn, err := openInput(c.input, c.io.in)
	if err != nil {
		fmt.Fprintf(c.io.err, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer closeIn()

	lines, err := batch.ReadLines(in)
	if err != nil {
		fmt.Fprintf(c.io.err, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	v := &validation.Validator{AllowOverSell: c.allowOverSell}
	rejected := 0
	for i, line := range lines {
		ops, err := operation.ParseLine(line)
		if err == nil {
			err = v.CheckAll(model.WalletState{}, ops)
		}
		if err != nil {
			rejected++
			fmt.Fprintf(c.io.out, "%v\n", &batch.LineError{Line: i + 1, Err: err})
		}
	}

	log.Info("check complete", "simulations", len(lines), "rejected", rejected)
	if rejected > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
