package joblog

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// Writer appends records as newline-delimited JSON.
//
// Writer is safe for concurrent use; each record is written as one
// complete line while holding a mutex, so concurrent appenders never
// interleave output.
type Writer struct {
	w      io.Writer
	mu     sync.Mutex
	closed bool
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write emits one record.
func (jw *Writer) Write(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return &WriteError{Op: "marshal", Err: err}
	}
	data = append(data, '\n')

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeAll(jw.w, data); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// WriteAll emits records in order, stopping at the first error.
func (jw *Writer) WriteAll(ctx context.Context, records []Record) error {
	for i := range records {
		if err := jw.Write(ctx, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the writer closed. The underlying writer is not closed.
func (jw *Writer) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeAll writes p in full; io.Writer may report a short write without an
// error.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
