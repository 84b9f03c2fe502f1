package archive

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/jobgraph/pkg/joblog"
)

// importedAtLayout is fixed width so imported_at sorts as text.
const importedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when a run id or name matches no archived run.
var ErrRunNotFound = errors.New("run not found")

// Run is one imported batch of execution records.
type Run struct {
	RunID       string    `json:"run_id"`
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	ImportedAt  time.Time `json:"imported_at"`
	RecordCount int       `json:"record_count"`
}

// StatusCount is the number of records of a run with one effective status.
type StatusCount struct {
	Status joblog.Status `json:"status"`
	Count  int           `json:"count"`
}

// Import stores records as a new run in one transaction. Record order is
// preserved. An empty name defaults to the run id.
func Import(ctx context.Context, db *sql.DB, name, source string, records []joblog.Record) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	run := &Run{
		RunID:       uuid.NewString(),
		Name:        name,
		Source:      source,
		ImportedAt:  time.Now().UTC(),
		RecordCount: len(records),
	}
	if run.Name == "" {
		run.Name = run.RunID
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, name, source, imported_at, record_count)
		 VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Name, run.Source, run.ImportedAt.Format(importedAtLayout), run.RecordCount)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (run_id, position, job_id, job_name, status, body)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare record insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var body bytes.Buffer
	w := joblog.NewWriter(&body)
	for i := range records {
		body.Reset()
		if err := w.Write(ctx, &records[i]); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
		rec := &records[i]
		_, err := stmt.ExecContext(ctx,
			run.RunID, i, rec.JobID, rec.JobName, string(rec.EffectiveStatus()), string(bytes.TrimRight(body.Bytes(), "\n")))
		if err != nil {
			return nil, fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return run, nil
}

// GetRun resolves ref as a run id first, then as the most recent run with
// that name.
func GetRun(ctx context.Context, db *sql.DB, ref string) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	row := db.QueryRowContext(ctx,
		`SELECT run_id, name, source, imported_at, record_count
		 FROM runs
		 WHERE run_id = ? OR name = ?
		 ORDER BY (run_id = ?) DESC, imported_at DESC, rowid DESC
		 LIMIT 1`,
		ref, ref, ref)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns every run, most recently imported first.
func ListRuns(ctx context.Context, db *sql.DB) ([]Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx,
		`SELECT run_id, name, source, imported_at, record_count
		 FROM runs
		 ORDER BY imported_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Records returns the records of a run in import order.
func Records(ctx context.Context, db *sql.DB, runID string) ([]joblog.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx,
		`SELECT body FROM records WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines bytes.Buffer
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		lines.WriteString(body)
		lines.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	records, err := joblog.ReadAll(&lines, joblog.LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// StatusCounts tallies the records of a run by effective status.
func StatusCounts(ctx context.Context, db *sql.DB, runID string) ([]StatusCount, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM records
		 WHERE run_id = ?
		 GROUP BY status
		 ORDER BY status ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		var status string
		if err := rows.Scan(&status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		c.Status = joblog.Status(status)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DeleteRun removes a run and its records.
func DeleteRun(ctx context.Context, db *sql.DB, runID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var run Run
	var importedAt string
	if err := s.Scan(&run.RunID, &run.Name, &run.Source, &importedAt, &run.RecordCount); err != nil {
		return nil, err
	}
	t, err := time.Parse(importedAtLayout, importedAt)
	if err != nil {
		return nil, fmt.Errorf("parse imported_at: %w", err)
	}
	run.ImportedAt = t
	return &run, nil
}
