// Command capgain replays capital-gains simulations from a line-oriented
// stream: one JSON array of operations per line in, one JSON array of tax
// results per line out.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/google/subcommands"

	"github.com/atmx/capgain/internal/config"
	"github.com/atmx/capgain/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	status := execute(ctx, path.Base(os.Args[0]), os.Args[1:], streams{os.Stdin, os.Stdout, os.Stderr})
	stop()
	os.Exit(int(status))
}

// streams carries the process I/O so commands can run against buffers.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func execute(ctx context.Context, name string, args []string, std streams) subcommands.ExitStatus {
	cfg := config.Load()

	top := flag.NewFlagSet(name, flag.ContinueOnError)
	top.SetOutput(std.err)

	commander := subcommands.NewCommander(top, name)
	commander.Output = std.out
	commander.Error = std.err
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&runCmd{cfg: cfg, io: std}, "simulations")
	commander.Register(&checkCmd{cfg: cfg, io: std}, "simulations")

	// Without a subcommand, behave as a plain stdin/stdout filter:
	// "capgain" and "capgain -strict" both mean "capgain run ...".
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		args = append([]string{"run"}, args...)
	}
	if err := top.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}

	// Results go to stdout; logs go to stderr.
	log := logger.New(cfg.Environment, std.err)

	return commander.Execute(ctx, log)
}
