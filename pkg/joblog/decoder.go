package joblog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// DefaultMaxLineBytes bounds a single JSONL line.
const DefaultMaxLineBytes = 1 << 20

// Decoder reads records from newline-delimited JSON.
//
// Each non-blank line holds one JSON object keyed by field name. A missing
// key or a null value leaves the field absent. Unknown keys are ignored.
// A present value that cannot be read as the field's type yields a
// *MalformedRecordError naming the line and field.
type Decoder struct {
	r            *bufio.Reader
	maxLineBytes int
	line         int
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), maxLineBytes: DefaultMaxLineBytes}
}

// SetMaxLineBytes changes the line limit. n <= 0 restores the default.
func (d *Decoder) SetMaxLineBytes(n int) {
	if n <= 0 {
		d.maxLineBytes = DefaultMaxLineBytes
		return
	}
	d.maxLineBytes = n
}

// Line returns the number of the last line read.
func (d *Decoder) Line() int {
	return d.line
}

// Next returns the next record, or io.EOF when the input is exhausted.
//
// After a *MalformedRecordError the decoder is positioned on the following
// line, so callers may continue.
func (d *Decoder) Next() (Record, error) {
	for {
		line, err := readLineLimited(d.r, d.maxLineBytes)
		if err != nil {
			if errors.Is(err, ErrLineTooLong) {
				d.line++
				return Record{}, &MalformedRecordError{Line: d.line, Err: err}
			}
			return Record{}, err
		}
		d.line++
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return decodeRecord(d.line, line)
	}
}

func decodeRecord(lineNo int, line []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, &MalformedRecordError{Line: lineNo, Err: err}
	}

	var rec Record
	for _, f := range Fields() {
		value, ok := raw[f.Name()]
		if !ok || isNull(value) {
			continue
		}
		if err := decodeField(&rec, f, value); err != nil {
			return Record{}, &MalformedRecordError{
				Line:  lineNo,
				Field: f.Name(),
				Value: string(value),
				Err:   err,
			}
		}
	}
	return rec, nil
}

func decodeField(rec *Record, f Field, value json.RawMessage) error {
	if f == FieldDependencyIDs {
		return decodeDependencies(rec, value)
	}

	switch value[0] {
	case '"':
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return err
		}
		return rec.Set(f, s, "")
	case '{', '[':
		return fmt.Errorf("expected a scalar")
	default:
		// Numbers and booleans are read from their literal text.
		return rec.Set(f, string(value), "")
	}
}

// decodeDependencies accepts an array of ids (strings or numbers) or a
// single separator-joined string.
func decodeDependencies(rec *Record, value json.RawMessage) error {
	if value[0] == '"' {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return err
		}
		rec.DependencyIDs = splitDependencies(s)
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		return err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if len(item) == 0 || item[0] == '{' || item[0] == '[' || isNull(item) {
			return fmt.Errorf("invalid dependency id %s", item)
		}
		if item[0] == '"' {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return err
			}
			ids = append(ids, s)
			continue
		}
		ids = append(ids, string(item))
	}
	rec.DependencyIDs = ids
	return nil
}

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func readLineLimited(r *bufio.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLineBytes
	}

	var out []byte
	for {
		frag, err := r.ReadSlice('\n')
		out = append(out, frag...)
		if len(out) > maxBytes {
			// Drain the rest of the line so decoding can resume.
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = r.ReadSlice('\n')
			}
			return nil, ErrLineTooLong
		}
		if err == nil {
			return bytes.TrimSuffix(out, []byte("\n")), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		return nil, err
	}
}

// LoadOptions controls Load.
type LoadOptions struct {
	// SkipMalformed drops malformed lines with a warning instead of failing.
	SkipMalformed bool
	// MaxLineBytes overrides DefaultMaxLineBytes when positive.
	MaxLineBytes int
	// Logger receives warnings for skipped lines. Nil disables logging.
	Logger *zap.Logger
}

// Load reads every record in the JSONL file at path, in file order.
func Load(path string, opts LoadOptions) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ReadAll(f, opts)
}

// ReadAll reads every record from r, in input order.
func ReadAll(r io.Reader, opts LoadOptions) ([]Record, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dec := NewDecoder(r)
	dec.SetMaxLineBytes(opts.MaxLineBytes)

	var records []Record
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			var malformed *MalformedRecordError
			if opts.SkipMalformed && errors.As(err, &malformed) {
				logger.Warn("Skipping malformed record",
					zap.Int("line", malformed.Line),
					zap.String("field", malformed.Field),
					zap.Error(malformed.Err))
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
}
