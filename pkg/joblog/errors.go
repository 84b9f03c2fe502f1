package joblog

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord is the sentinel wrapped by MalformedRecordError.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrWriterClosed is returned when writing to a closed Writer.
	ErrWriterClosed = errors.New("writer closed")

	// ErrLineTooLong is returned for a JSONL line over the decoder limit.
	ErrLineTooLong = errors.New("jsonl line exceeds max bytes")
)

// MalformedRecordError reports a value that is present but cannot be read
// as its field's type, or a line that is not a JSON object.
type MalformedRecordError struct {
	// Line is the 1-based line number in the source.
	Line int
	// Field is the offending JSON key, empty when the whole line is bad.
	Field string
	// Value is the raw offending text.
	Value string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: malformed record: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: malformed %s value %s: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *MalformedRecordError) Unwrap() []error {
	return []error{ErrMalformedRecord, e.Err}
}

// WriteError wraps a failure to emit a record.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("joblog %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err was caused by a malformed record.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedRecord)
}
