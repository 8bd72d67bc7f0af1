package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/subcommands"

	"github.com/atmx/capgain/internal/batch"
	"github.com/atmx/capgain/internal/config"
	"github.com/atmx/capgain/internal/validation"
)

// runCmd holds the flags for the 'run' subcommand.
type runCmd struct {
	cfg         config.Config
	io          streams
	input       string
	strict      bool
	concurrency int
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "replay simulations and print the tax owed per operation" }
func (*runCmd) Usage() string {
	return `capgain run [-i <file>] [-strict] [-concurrency <n>]

  Reads one JSON array of operations per line until a blank line or end of
  input, then prints one JSON array of tax results per line, in input order.

Usage Examples:
$ echo '[{"operation":"buy","unit-cost":10.00,"quantity":10000},{"operation":"sell","unit-cost":20.00,"quantity":5000}]' | capgain run
[{"tax":0},{"tax":10000}]

`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.input, "i", "", "Read simulations from this file instead of stdin")
	f.BoolVar(&c.strict, "strict", c.cfg.StrictValidation, "Reject negative quantities, negative prices and over-sells")
	f.IntVar(&c.concurrency, "concurrency", c.cfg.BatchConcurrency, "Simulations evaluated in parallel (0: GOMAXPROCS)")
}

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	log := loggerFrom(args)

	in, closeIn, err := openInput(c.input, c.io.in)
	if err != nil {
		fmt.Fprintf(c.io.err, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer closeIn()

	var v *validation.Validator
	if c.strict {
		v = validation.New()
	}

	proc := batch.NewProcessor(c.concurrency, v, log)
	if _, err := proc.Run(ctx, in, c.io.out); err != nil {
		log.Error("batch failed", "err", err)
		fmt.Fprintf(c.io.err, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// openInput returns stdin when path is empty.
func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func loggerFrom(args []interface{}) *slog.Logger {
	for _, a := range args {
		if l, ok := a.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
