package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/jobgraph/pkg/joblog"
)

// ParseTable reads the rows of a rendered report back into records.
//
// Blank lines and '#'-prefixed lines are skipped up to and including the
// header row; every later line is a row. Indentation of the first column
// is trimmed, joblog.Undefined reads as absent and escaped cell values are
// restored. A row with the wrong number of columns, a bad escape or an
// unreadable value yields a *joblog.MalformedRecordError.
func ParseTable(r io.Reader, dateFormat string) ([]joblog.Record, error) {
	if dateFormat == "" {
		dateFormat = joblog.DefaultDateFormat
	}
	fields := joblog.Fields()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), joblog.DefaultMaxLineBytes)

	header := Header()
	var records []joblog.Record
	inTable := false
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !inTable && strings.HasPrefix(line, "#") {
			inTable = line == header
			continue
		}
		inTable = true

		cols := strings.Split(line, "\t")
		if len(cols) != len(fields) {
			return nil, &joblog.MalformedRecordError{
				Line: lineNo,
				Err:  fmt.Errorf("expected %d columns, got %d", len(fields), len(cols)),
			}
		}
		cols[0] = strings.TrimLeft(cols[0], " ")

		var rec joblog.Record
		for i, f := range fields {
			if cols[i] == joblog.Undefined {
				continue
			}
			v, err := unescapeCell(cols[i])
			if err == nil {
				err = rec.Set(f, v, dateFormat)
			}
			if err != nil {
				return nil, &joblog.MalformedRecordError{Line: lineNo, Field: f.Name(), Value: cols[i], Err: err}
			}
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func unescapeCell(v string) (string, error) {
	if v == `\`+joblog.Undefined {
		return joblog.Undefined, nil
	}
	if !strings.Contains(v, `\`) {
		return v, nil
	}

	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' {
			b.WriteByte(v[i])
			continue
		}
		if i+1 == len(v) {
			return "", errors.New("trailing backslash")
		}
		i++
		switch v[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 's':
			b.WriteByte(' ')
		default:
			return "", fmt.Errorf("invalid escape \\%c", v[i])
		}
	}
	return b.String(), nil
}

// WriteFile renders into path atomically: output goes to a temporary file
// in the same directory which replaces path only once render succeeds.
func WriteFile(path string, render func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := render(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod report file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename report file: %w", err)
	}
	return nil
}
