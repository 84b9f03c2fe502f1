// Package joblog models persisted execution records of past job runs.
//
// A Record describes one run: identifiers, dependency ids, status, exit
// codes, timing, resource usage and scheduler metadata. Every field is
// optional; a nil pointer (or nil DependencyIDs) means the field was not
// recorded. Records are exchanged as JSON lines, one record per line.
package joblog

import (
	"strconv"
	"strings"
	"time"
)

// Undefined is the textual form of an absent field.
const Undefined = "N/A"

// DefaultDateFormat is the layout used when printing dates. Dates are
// always printed in UTC.
const DefaultDateFormat = "2006-01-02T15:04:05"

// Record is one execution log entry.
//
// Wall and CPU time are in seconds, memory in kilobytes.
type Record struct {
	JobID              *string    `json:"job_id,omitempty"`
	JobFullID          *string    `json:"job_full_id,omitempty"`
	JobName            *string    `json:"job_name,omitempty"`
	DependencyIDs      []string   `json:"dependency_ids"`
	Status             *Status    `json:"status,omitempty"`
	JobExitCode        *int       `json:"job_exit_code,omitempty"`
	CmdExitCode        *int       `json:"cmd_exit_code,omitempty"`
	WallTime           *int64     `json:"wall_time,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	CPUTime            *int64     `json:"cpu_time,omitempty"`
	CPUToWallRatio     *float64   `json:"cpu_to_wall_ratio,omitempty"`
	PhysicalMem        *int64     `json:"physical_mem,omitempty"`
	VirtualMem         *int64     `json:"virtual_mem,omitempty"`
	ExtraVirtualMemPct *float64   `json:"extra_virtual_mem_pct,omitempty"`
	ResourceLimits     *string    `json:"resource_limits,omitempty"`
	Queue              *string    `json:"queue,omitempty"`
	Username           *string    `json:"username,omitempty"`
	Group              *string    `json:"group,omitempty"`
	Session            *string    `json:"session,omitempty"`
	Account            *string    `json:"account,omitempty"`
	Nodes              *string    `json:"nodes,omitempty"`
	Path               *string    `json:"path,omitempty"`
}

// EffectiveStatus returns the recorded status, or INACTIVE when absent.
func (r *Record) EffectiveStatus() Status {
	if r.Status == nil {
		return StatusInactive
	}
	return *r.Status
}

// ID returns the job id, or "" when absent.
func (r *Record) ID() string {
	return deref(r.JobID)
}

// DisplayName returns the job name, falling back to the job id, then to
// Undefined.
func (r *Record) DisplayName() string {
	if r.JobName != nil {
		return *r.JobName
	}
	if r.JobID != nil {
		return *r.JobID
	}
	return Undefined
}

// Has reports whether f is recorded.
func (r *Record) Has(f Field) bool {
	_, ok := r.Format(f, DefaultDateFormat)
	return ok
}

// Format returns the textual form of f, and false when it is absent.
// Dates are printed with dateFormat.
func (r *Record) Format(f Field, dateFormat string) (string, bool) {
	switch f {
	case FieldJobID:
		return formatString(r.JobID)
	case FieldJobFullID:
		return formatString(r.JobFullID)
	case FieldJobName:
		return formatString(r.JobName)
	case FieldDependencyIDs:
		if r.DependencyIDs == nil {
			return "", false
		}
		return strings.Join(r.DependencyIDs, DependencySeparator), true
	case FieldStatus:
		if r.Status == nil {
			return "", false
		}
		return string(*r.Status), true
	case FieldJobExitCode:
		return formatInt(r.JobExitCode)
	case FieldCmdExitCode:
		return formatInt(r.CmdExitCode)
	case FieldWallTime:
		return formatInt64(r.WallTime)
	case FieldStartDate:
		return formatTime(r.StartDate, dateFormat)
	case FieldEndDate:
		return formatTime(r.EndDate, dateFormat)
	case FieldCPUTime:
		return formatInt64(r.CPUTime)
	case FieldCPUToWallRatio:
		return formatFloat(r.CPUToWallRatio)
	case FieldPhysicalMem:
		return formatInt64(r.PhysicalMem)
	case FieldVirtualMem:
		return formatInt64(r.VirtualMem)
	case FieldExtraVirtualMemPct:
		return formatFloat(r.ExtraVirtualMemPct)
	case FieldResourceLimits:
		return formatString(r.ResourceLimits)
	case FieldQueue:
		return formatString(r.Queue)
	case FieldUsername:
		return formatString(r.Username)
	case FieldGroup:
		return formatString(r.Group)
	case FieldSession:
		return formatString(r.Session)
	case FieldAccount:
		return formatString(r.Account)
	case FieldNodes:
		return formatString(r.Nodes)
	case FieldPath:
		return formatString(r.Path)
	}
	return "", false
}

// Numeric returns f as a float64 for ordering. Returns false for absent or
// non-numeric fields; dates are read with Time.
func (r *Record) Numeric(f Field) (float64, bool) {
	switch f {
	case FieldJobExitCode:
		return intValue(r.JobExitCode)
	case FieldCmdExitCode:
		return intValue(r.CmdExitCode)
	case FieldWallTime:
		return int64Value(r.WallTime)
	case FieldCPUTime:
		return int64Value(r.CPUTime)
	case FieldPhysicalMem:
		return int64Value(r.PhysicalMem)
	case FieldVirtualMem:
		return int64Value(r.VirtualMem)
	case FieldCPUToWallRatio:
		return floatValue(r.CPUToWallRatio)
	case FieldExtraVirtualMemPct:
		return floatValue(r.ExtraVirtualMemPct)
	}
	return 0, false
}

// Time returns the date held by f, and false for absent or non-date fields.
func (r *Record) Time(f Field) (time.Time, bool) {
	var t *time.Time
	switch f {
	case FieldStartDate:
		t = r.StartDate
	case FieldEndDate:
		t = r.EndDate
	}
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatString(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

func formatInt(v *int) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.Itoa(*v), true
}

func formatInt64(v *int64) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.FormatInt(*v, 10), true
}

func formatFloat(v *float64) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.FormatFloat(*v, 'f', -1, 64), true
}

func formatTime(t *time.Time, layout string) (string, bool) {
	if t == nil {
		return "", false
	}
	if layout == "" {
		layout = DefaultDateFormat
	}
	return t.UTC().Format(layout), true
}

func intValue(v *int) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return float64(*v), true
}

func int64Value(v *int64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return float64(*v), true
}

func floatValue(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
