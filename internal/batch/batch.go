// Package batch drives the simulation engine over a line-oriented stream.
//
// Each input line holds one simulation. Lines are buffered until the end of
// the stream (a blank line or EOF) and only then evaluated and flushed, so no
// trailing simulation is ever dropped. Simulations are independent and are
// evaluated concurrently; output order always matches input order.
package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/capgain/internal/metrics"
	"github.com/atmx/capgain/internal/model"
	"github.com/atmx/capgain/internal/operation"
	"github.com/atmx/capgain/internal/validation"
	"github.com/atmx/capgain/internal/wallet"
)

// maxLineSize bounds a single simulation line.
const maxLineSize = 16 * 1024 * 1024

// LineError reports the 1-based input line a simulation failed on.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Processor evaluates batches of simulations.
type Processor struct {
	concurrency int
	validator   *validation.Validator // nil: permissive replay
	logger      *slog.Logger
}

// NewProcessor creates a batch processor. concurrency <= 0 uses GOMAXPROCS.
// Pass a nil validator to replay every line permissively.
func NewProcessor(concurrency int, v *validation.Validator, logger *slog.Logger) *Processor {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		concurrency: concurrency,
		validator:   v,
		logger:      logger,
	}
}

// ReadLines buffers trimmed lines from r until the first blank line or EOF.
func ReadLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}

// Process evaluates one simulation per line and returns the results in
// input order. The first failing line cancels the rest of the batch.
func (p *Processor) Process(ctx context.Context, lines []string) ([][]model.TaxResult, error) {
	out := make([][]model.TaxResult, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, line := range lines {
		if gctx.Err() != nil {
			break
		}
		i, line := i, line
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results, err := p.simulate(line)
			if err != nil {
				return &LineError{Line: i + 1, Err: err}
			}
			out[i] = results
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Run reads every simulation from r, evaluates them, and writes one JSON
// result line per simulation to w. Nothing is written if any line fails.
// Returns the number of simulations written.
func (p *Processor) Run(ctx context.Context, r io.Reader, w io.Writer) (int, error) {
	lines, err := ReadLines(r)
	if err != nil {
		return 0, err
	}
	p.logger.Debug("input buffered", "simulations", len(lines))

	start := time.Now()
	batch, err := p.Process(ctx, lines)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	for _, results := range batch {
		data, err := operation.EncodeResults(results)
		if err != nil {
			return 0, err
		}
		bw.Write(data)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("write output: %w", err)
	}

	p.logger.Info("batch processed",
		"simulations", len(batch),
		"concurrency", p.concurrency,
		"strict", p.validator != nil,
		"elapsed", time.Since(start).String(),
	)
	return len(batch), nil
}

func (p *Processor) simulate(line string) ([]model.TaxResult, error) {
	ops, err := operation.ParseLine(line)
	if err != nil {
		return nil, err
	}

	if p.validator != nil {
		if err := p.validator.CheckAll(model.WalletState{}, ops); err != nil {
			metrics.ValidationRejections.Inc()
			return nil, err
		}
	}

	start := time.Now()
	results := wallet.Run(ops)
	metrics.ObserveSimulation(metrics.SourceBatch, ops, results, time.Since(start))
	return results, nil
}
