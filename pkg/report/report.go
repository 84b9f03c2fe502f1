// Package report renders execution records as a tab-delimited text report.
//
// A full report starts with a summary block of '#'-prefixed lines followed
// by a blank line, then a '#'-prefixed header row and one row per record.
// Absent fields print as joblog.Undefined. Rows can follow the dependency
// graph of the records, in which case the first column is indented by two
// spaces per depth level.
//
// Cell values are escaped so every row reads back unchanged: backslash,
// tab, newline and carriage return print as \\, \t, \n and \r, leading
// spaces as \s, and a literal N/A value as \N/A.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/jobgraph/pkg/dag"
	"github.com/3leaps/jobgraph/pkg/joblog"
	"github.com/3leaps/jobgraph/pkg/summary"
)

// Filter selects records by status.
type Filter int

const (
	FilterAll Filter = iota
	// FilterSuccess keeps SUCCESS records only.
	FilterSuccess
	// FilterNoSuccess keeps every other record: failed, blocked or not
	// yet completed.
	FilterNoSuccess
)

// Detail selects how much is printed.
type Detail int

const (
	// DetailFull prints the summary block before the table.
	DetailFull Detail = iota
	// DetailMinimal prints the table only.
	DetailMinimal
)

// Order selects the row order.
type Order int

const (
	// OrderDeclared keeps input order.
	OrderDeclared Order = iota
	// OrderTopDown walks from first-run jobs to their dependents.
	OrderTopDown
	// OrderBottomUp walks from last-run jobs back to their dependencies.
	OrderBottomUp
)

// ParseFilter parses "all", "success" or "nosuccess".
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return FilterAll, nil
	case "success":
		return FilterSuccess, nil
	case "nosuccess", "no-success":
		return FilterNoSuccess, nil
	}
	return FilterAll, fmt.Errorf("unknown filter %q", s)
}

// ParseOrder parses "declared", "top-down" or "bottom-up".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "declared":
		return OrderDeclared, nil
	case "top-down", "topdown":
		return OrderTopDown, nil
	case "bottom-up", "bottomup":
		return OrderBottomUp, nil
	}
	return OrderDeclared, fmt.Errorf("unknown order %q", s)
}

// ParseDetail parses "full" or "minimal".
func ParseDetail(s string) (Detail, error) {
	switch strings.ToLower(s) {
	case "", "full":
		return DetailFull, nil
	case "minimal":
		return DetailMinimal, nil
	}
	return DetailFull, fmt.Errorf("unknown detail %q", s)
}

// Options controls Render.
type Options struct {
	Filter Filter
	// NamePattern is a doublestar glob matched against job names.
	// Records without a name are matched on their id.
	NamePattern string
	Detail      Detail
	Order       Order
	// DateFormat defaults to joblog.DefaultDateFormat.
	DateFormat string
	EndMode    summary.EndMode
}

func (o Options) dateFormat() string {
	if o.DateFormat == "" {
		return joblog.DefaultDateFormat
	}
	return o.DateFormat
}

const indentUnit = "  "

// Header returns the header row, without a trailing newline.
func Header() string {
	fields := joblog.Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Header()
	}
	return "#" + strings.Join(cols, "\t")
}

// Select returns the records kept by the filter and name pattern, in input
// order.
func Select(records []joblog.Record, opts Options) ([]joblog.Record, error) {
	if opts.NamePattern != "" && !doublestar.ValidatePattern(opts.NamePattern) {
		return nil, fmt.Errorf("invalid name pattern %q", opts.NamePattern)
	}

	out := make([]joblog.Record, 0, len(records))
	for _, r := range records {
		st := r.EffectiveStatus()
		switch opts.Filter {
		case FilterSuccess:
			if st != joblog.StatusSuccess {
				continue
			}
		case FilterNoSuccess:
			if st == joblog.StatusSuccess {
				continue
			}
		}
		if opts.NamePattern != "" {
			name := r.ID()
			if r.JobName != nil {
				name = *r.JobName
			}
			ok, err := doublestar.Match(opts.NamePattern, name)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// Render writes the report of records to w.
func Render(w io.Writer, records []joblog.Record, opts Options) error {
	selected, err := Select(records, opts)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if opts.Detail == DetailFull {
		writeSummary(bw, summarize(records, selected, opts), opts.dateFormat())
	}

	if _, err := fmt.Fprintln(bw, Header()); err != nil {
		return err
	}
	for _, row := range arrange(selected, opts.Order) {
		if _, err := fmt.Fprintln(bw, formatRow(&selected[row.index], row.depth, opts.dateFormat())); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Summarize computes the summary statistics of the records kept by opts.
// Blocked jobs are derived from the whole collection.
func Summarize(records []joblog.Record, opts Options) (summary.Summary, error) {
	selected, err := Select(records, opts)
	if err != nil {
		return summary.Summary{}, err
	}
	return summarize(records, selected, opts), nil
}

func summarize(all, selected []joblog.Record, opts Options) summary.Summary {
	return summary.Summarize(selected, summary.Options{
		DateFormat: opts.dateFormat(),
		EndMode:    opts.EndMode,
		All:        all,
	})
}

func writeSummary(w io.Writer, s summary.Summary, dateFormat string) {
	count := func(n int) string {
		if !s.Statuses.Defined {
			return joblog.Undefined
		}
		return fmt.Sprint(n)
	}

	fmt.Fprintf(w, "# Number of jobs: %d\n", s.Jobs)
	fmt.Fprintf(w, "# Number of successful jobs: %s\n", count(s.Statuses.Success))
	fmt.Fprintf(w, "# Number of active jobs: %s\n", count(s.Statuses.Active))
	fmt.Fprintf(w, "# Number of inactive jobs: %s\n", count(s.Statuses.Inactive))
	fmt.Fprintf(w, "# Number of failed jobs: %s\n", count(s.Statuses.Failed))
	fmt.Fprintf(w, "# Number of blocked jobs: %d\n", s.Blocked)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# Execution time: %s - %s (%s)\n",
		formatDate(s.Span.Start, dateFormat),
		formatDate(s.End(), dateFormat),
		formatElapsed(s.Span.Start, s.End()))
	fmt.Fprintln(w)

	name := cellEscaper.Replace
	fmt.Fprintf(w, "# Shortest job: %s (%s)\n", name(s.WallTime.MinName), s.WallTime.MinValue)
	fmt.Fprintf(w, "# Longest job: %s (%s)\n", name(s.WallTime.MaxName), s.WallTime.MaxValue)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# Lowest memory job: %s (%s)\n", name(s.Memory.MinName), s.Memory.MinValue)
	fmt.Fprintf(w, "# Highest memory job: %s (%s)\n", name(s.Memory.MaxName), s.Memory.MaxValue)
	fmt.Fprintln(w)
}

func formatDate(t *time.Time, layout string) string {
	if t == nil {
		return joblog.Undefined
	}
	return t.UTC().Format(layout)
}

// formatElapsed prints the span as H:MM:SS, prefixed with whole days.
func formatElapsed(start, end *time.Time) string {
	if start == nil || end == nil {
		return joblog.Undefined
	}
	d := end.Sub(*start)
	sign := ""
	if d < 0 {
		sign, d = "-", -d
	}
	secs := int64(d / time.Second)
	days, secs := secs/86400, secs%86400
	clock := fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	switch {
	case days == 1:
		return fmt.Sprintf("%s1 day, %s", sign, clock)
	case days > 1:
		return fmt.Sprintf("%s%d days, %s", sign, days, clock)
	}
	return sign + clock
}

func formatRow(r *joblog.Record, depth int, dateFormat string) string {
	fields := joblog.Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		v, ok := r.Format(f, dateFormat)
		if !ok {
			cols[i] = joblog.Undefined
			continue
		}
		cols[i] = escapeCell(v)
	}
	cols[0] = strings.Repeat(indentUnit, depth) + cols[0]
	return strings.Join(cols, "\t")
}

var cellEscaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

func escapeCell(v string) string {
	if v == joblog.Undefined {
		return `\` + joblog.Undefined
	}
	trimmed := strings.TrimLeft(v, " ")
	lead := len(v) - len(trimmed)
	return strings.Repeat(`\s`, lead) + cellEscaper.Replace(trimmed)
}

type row struct {
	index int
	depth int
}

// arrange returns row positions in the requested order.
//
// Dependency orders walk the graph built from job ids. Records sharing an
// id are printed together, records without an id come last, and records
// the walk cannot reach because of a cycle follow in input order.
func arrange(records []joblog.Record, order Order) []row {
	rows := make([]row, 0, len(records))
	if order == OrderDeclared {
		for i := range records {
			rows = append(rows, row{index: i})
		}
		return rows
	}

	dir := dag.TopDown
	if order == OrderBottomUp {
		dir = dag.BottomUp
	}

	byID := make(map[string][]int)
	for i := range records {
		if id := records[i].ID(); id != "" {
			byID[id] = append(byID[id], i)
		}
	}

	// On a cycle the visits made so far are still valid.
	visits, _ := joblog.Graph(records).Walk(dir)

	placed := make([]bool, len(records))
	for _, v := range visits {
		for _, i := range byID[v.ID] {
			rows = append(rows, row{index: i, depth: v.Depth})
			placed[i] = true
		}
	}
	for i := range records {
		if !placed[i] {
			rows = append(rows, row{index: i})
		}
	}
	return rows
}
