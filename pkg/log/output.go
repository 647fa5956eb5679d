package log

import (
	"io"
	"os"
	"sync"
)

// WriterOutput writes formatted entries to an io.Writer.
type WriterOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterOutput wraps w. Writes are serialized.
func NewWriterOutput(w io.Writer) *WriterOutput {
	return &WriterOutput{w: w}
}

func (o *WriterOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.w.Write(formatted)
	return err
}

func (o *WriterOutput) Close() error {
	if c, ok := o.w.(io.Closer); ok && o.w != os.Stdout && o.w != os.Stderr {
		return c.Close()
	}
	return nil
}

// ConsoleOutput writes to stderr, or stdout when UseStdout is set.
type ConsoleOutput struct {
	WriterOutput
}

// NewConsoleOutput returns a stderr console output.
func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{WriterOutput{w: os.Stderr}}
}

// NewStdoutOutput returns a console output writing to stdout.
func NewStdoutOutput() *ConsoleOutput {
	return &ConsoleOutput{WriterOutput{w: os.Stdout}}
}

// NullOutput discards everything.
type NullOutput struct{}

func (NullOutput) Write(*Entry, []byte) error { return nil }
func (NullOutput) Close() error               { return nil }

// NewNopLogger returns a logger that discards all entries.
func NewNopLogger() Logger {
	return NewLogger(WithOutput(NullOutput{}))
}
