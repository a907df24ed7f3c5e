package log

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// traceBufferSize sizes the write buffer. Targeting emits events in bursts,
// one per routed pulse; buffering keeps the hot path off the disk.
const traceBufferSize = 32 * 1024

// FileLogger appends compile events to a CBOR trace file. It is safe for
// concurrent use from multiple goroutines.
type FileLogger struct {
	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	encoder  *cbor.Encoder
	writeErr error
	closed   bool
}

// NewFileLogger opens (or creates, mode 0644) the trace file at path.
// Events are appended, so consecutive compile runs accumulate in one trace.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	buf := bufio.NewWriterSize(f, traceBufferSize)
	return &FileLogger{
		file:    f,
		buf:     buf,
		encoder: NewEncoder(buf),
	}, nil
}

// Log appends one event. Logging never disrupts a compile: write failures
// are remembered and reported by Err and Close instead of propagating.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err := l.encoder.Encode(event); err != nil && l.writeErr == nil {
		l.writeErr = err
	}
}

// Err returns the first write error encountered since the logger opened.
func (l *FileLogger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeErr
}

// Close flushes buffered events and closes the trace file. Close is
// idempotent; events logged afterwards are silently dropped.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return errors.Join(l.writeErr, l.buf.Flush(), l.file.Close())
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
