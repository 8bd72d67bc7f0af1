// Package operation handles the line-oriented wire format: one JSON array of
// trade operations per input line, and one JSON array of tax results per
// output line.
package operation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/atmx/capgain/internal/model"
)

var (
	ErrInvalidLine = errors.New("operation: invalid operation line")
	ErrEmptyLine   = errors.New("operation: empty line")
)

// ParseLine decodes one input line into its operations.
// Format: [{"operation":"buy","unit-cost":10.00,"quantity":10000}, ...]
//
// Operation kinds are matched case-sensitively. Unknown kinds are accepted
// and carried verbatim; the engine replays them as zero-tax no-ops.
func ParseLine(line string) ([]model.Operation, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, ErrEmptyLine
	}

	// Unmarshal rejects anything after the array, including stray closers.
	var ops []model.Operation
	if err := json.Unmarshal([]byte(line), &ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLine, err)
	}
	if ops == nil {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrInvalidLine)
	}
	return ops, nil
}

// EncodeResults renders results as a single JSON array with no trailing
// newline, e.g. [{"tax":0},{"tax":10000}].
func EncodeResults(results []model.TaxResult) ([]byte, error) {
	if results == nil {
		results = []model.TaxResult{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(results); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
