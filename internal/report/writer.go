package report

import (
	"io"

	"github.com/strikepipe/strikepipe/internal/model"
)

// Writer defines the interface for run-record output.
// Implementations render a progress projection in various formats.
//
// Design decision: We use an interface to allow different output formats
// and destinations. This enables writing to files, stdout, or HTTP
// responses with the same API.
type Writer interface {
	// Write renders the progress record to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(progress *model.PipelineProgress) (int, error)
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write renders the record to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(progress *model.PipelineProgress) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(progress)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
