// Package summary aggregates execution records into report statistics.
//
// Aggregation never fails: absent fields are skipped and a statistic with
// no contributing record is reported as undefined.
package summary

import (
	"time"

	"github.com/3leaps/jobgraph/pkg/joblog"
)

// StatusCounts is the per-status breakdown of a collection.
//
// When Defined is false no record carries a status and the counts are
// meaningless. Otherwise records without a status count as INACTIVE.
type StatusCounts struct {
	Defined  bool `json:"defined"`
	Success  int  `json:"success"`
	Active   int  `json:"active"`
	Inactive int  `json:"inactive"`
	Failed   int  `json:"failed"`
}

// StatusBreakdown counts records per status.
func StatusBreakdown(records []joblog.Record) StatusCounts {
	var c StatusCounts
	for i := range records {
		if records[i].Status != nil {
			c.Defined = true
			break
		}
	}
	if !c.Defined {
		return c
	}

	for i := range records {
		switch records[i].EffectiveStatus() {
		case joblog.StatusSuccess:
			c.Success++
		case joblog.StatusActive:
			c.Active++
		case joblog.StatusInactive:
			c.Inactive++
		case joblog.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Extremes holds the records with the smallest and largest value of a
// field. Names and values are joblog.Undefined when Defined is false.
type Extremes struct {
	Defined  bool   `json:"defined"`
	MinName  string `json:"min_name"`
	MinValue string `json:"min_value"`
	MaxName  string `json:"max_name"`
	MaxValue string `json:"max_value"`
}

// undefinedExtremes is the result when no record defines the field.
func undefinedExtremes() Extremes {
	return Extremes{
		MinName:  joblog.Undefined,
		MinValue: joblog.Undefined,
		MaxName:  joblog.Undefined,
		MaxValue: joblog.Undefined,
	}
}

// MinMax finds the records with the smallest and largest value of field.
// Ties resolve to the earliest record in input order. Dates are printed
// in joblog.DefaultDateFormat.
func MinMax(records []joblog.Record, field joblog.Field) Extremes {
	return minMax(records, field, joblog.DefaultDateFormat)
}

func minMax(records []joblog.Record, field joblog.Field, dateFormat string) Extremes {
	minIdx, maxIdx := -1, -1
	for i := range records {
		if !records[i].Has(field) {
			continue
		}
		if minIdx < 0 {
			minIdx, maxIdx = i, i
			continue
		}
		if less(&records[i], &records[minIdx], field) {
			minIdx = i
		}
		if less(&records[maxIdx], &records[i], field) {
			maxIdx = i
		}
	}
	if minIdx < 0 {
		return undefinedExtremes()
	}

	minValue, _ := records[minIdx].Format(field, dateFormat)
	maxValue, _ := records[maxIdx].Format(field, dateFormat)
	return Extremes{
		Defined:  true,
		MinName:  records[minIdx].DisplayName(),
		MinValue: minValue,
		MaxName:  records[maxIdx].DisplayName(),
		MaxValue: maxValue,
	}
}

// less orders two records on field. Numeric fields compare by value,
// dates chronologically and anything else lexically.
func less(a, b *joblog.Record, field joblog.Field) bool {
	if av, ok := a.Numeric(field); ok {
		bv, _ := b.Numeric(field)
		return av < bv
	}
	if at, ok := a.Time(field); ok {
		bt, _ := b.Time(field)
		return at.Before(bt)
	}
	as, _ := a.Format(field, joblog.DefaultDateFormat)
	bs, _ := b.Format(field, joblog.DefaultDateFormat)
	return as < bs
}

// EndMode selects which end date closes the execution span.
type EndMode int

const (
	// EndLatest uses the last end date, so the span covers every job.
	EndLatest EndMode = iota
	// EndEarliest uses the first end date.
	EndEarliest
)

// ParseEndMode parses "latest" or "earliest". Empty means EndLatest.
func ParseEndMode(s string) (EndMode, bool) {
	switch s {
	case "", "latest":
		return EndLatest, true
	case "earliest":
		return EndEarliest, true
	}
	return EndLatest, false
}

func (m EndMode) String() string {
	if m == EndEarliest {
		return "earliest"
	}
	return "latest"
}

// Span is the execution window of a collection. Nil fields are undefined.
type Span struct {
	Start       *time.Time `json:"start,omitempty"`
	EarliestEnd *time.Time `json:"earliest_end,omitempty"`
	LatestEnd   *time.Time `json:"latest_end,omitempty"`
}

// TimeSpan returns the earliest start date and the earliest and latest end
// dates across records.
func TimeSpan(records []joblog.Record) Span {
	var s Span
	for i := range records {
		r := &records[i]
		if r.StartDate != nil && (s.Start == nil || r.StartDate.Before(*s.Start)) {
			s.Start = r.StartDate
		}
		if r.EndDate != nil {
			if s.EarliestEnd == nil || r.EndDate.Before(*s.EarliestEnd) {
				s.EarliestEnd = r.EndDate
			}
			if s.LatestEnd == nil || r.EndDate.After(*s.LatestEnd) {
				s.LatestEnd = r.EndDate
			}
		}
	}
	return s
}

// End returns the end date selected by mode.
func (s Span) End(mode EndMode) *time.Time {
	if mode == EndEarliest {
		return s.EarliestEnd
	}
	return s.LatestEnd
}

// Duration returns the time between start and the selected end, and false
// when either is undefined.
func (s Span) Duration(mode EndMode) (time.Duration, bool) {
	end := s.End(mode)
	if s.Start == nil || end == nil {
		return 0, false
	}
	return end.Sub(*s.Start), true
}

// Options controls Summarize.
type Options struct {
	// DateFormat prints date extremes; defaults to joblog.DefaultDateFormat.
	DateFormat string
	EndMode    EndMode
	// All is the unfiltered collection the summarized records were
	// selected from. When set, blocked jobs are derived from it so a
	// failed ancestor left out of the selection still blocks.
	All []joblog.Record
}

// Summary is the aggregate view of a collection.
type Summary struct {
	Jobs     int          `json:"jobs"`
	Statuses StatusCounts `json:"statuses"`
	// Blocked counts jobs that cannot run because an ancestor failed.
	Blocked  int      `json:"blocked"`
	Span     Span     `json:"span"`
	EndMode  string   `json:"end_mode"`
	WallTime Extremes `json:"wall_time"`
	Memory   Extremes `json:"memory"`
}

// Summarize computes every statistic of the report summary block.
func Summarize(records []joblog.Record, opts Options) Summary {
	dateFormat := opts.DateFormat
	if dateFormat == "" {
		dateFormat = joblog.DefaultDateFormat
	}
	return Summary{
		Jobs:     len(records),
		Statuses: StatusBreakdown(records),
		Blocked:  countBlocked(records, opts.All),
		Span:     TimeSpan(records),
		EndMode:  opts.EndMode.String(),
		WallTime: minMax(records, joblog.FieldWallTime, dateFormat),
		Memory:   minMax(records, joblog.FieldPhysicalMem, dateFormat),
	}
}

func countBlocked(records, all []joblog.Record) int {
	if all == nil {
		return len(joblog.Blocked(records))
	}
	blocked := joblog.Blocked(all)
	if len(blocked) == 0 {
		return 0
	}
	ids := make(map[string]bool, len(blocked))
	for _, id := range blocked {
		ids[id] = true
	}
	n := 0
	for i := range records {
		id := records[i].ID()
		if ids[id] {
			n++
			delete(ids, id)
		}
	}
	return n
}

// End returns the span end selected when the summary was computed.
func (s Summary) End() *time.Time {
	mode, _ := ParseEndMode(s.EndMode)
	return s.Span.End(mode)
}
