package joblog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field identifies one column of a Record.
type Field int

// Fields in report column order.
const (
	FieldJobID Field = iota
	FieldJobFullID
	FieldJobName
	FieldDependencyIDs
	FieldStatus
	FieldJobExitCode
	FieldCmdExitCode
	FieldWallTime
	FieldStartDate
	FieldEndDate
	FieldCPUTime
	FieldCPUToWallRatio
	FieldPhysicalMem
	FieldVirtualMem
	FieldExtraVirtualMemPct
	FieldResourceLimits
	FieldQueue
	FieldUsername
	FieldGroup
	FieldSession
	FieldAccount
	FieldNodes
	FieldPath
	numFields
)

// DependencySeparator joins dependency ids in textual form.
const DependencySeparator = ":"

var fieldNames = [numFields]string{
	"job_id", "job_full_id", "job_name", "dependency_ids", "status",
	"job_exit_code", "cmd_exit_code", "wall_time", "start_date", "end_date",
	"cpu_time", "cpu_to_wall_ratio", "physical_mem", "virtual_mem",
	"extra_virtual_mem_pct", "resource_limits", "queue", "username", "group",
	"session", "account", "nodes", "path",
}

var fieldHeaders = [numFields]string{
	"JOB_ID", "JOB_FULL_ID", "JOB_NAME", "JOB_DEPENDENCIES", "STATUS",
	"JOB_EXIT_CODE", "CMD_EXIT_CODE", "REAL_TIME", "START_DATE", "END_DATE",
	"CPU_TIME", "CPU_REAL_TIME_RATIO", "PHYSICAL_MEM", "VIRTUAL_MEM",
	"EXTRA_VIRTUAL_MEM_PCT", "LIMITS", "QUEUE", "USERNAME", "GROUP",
	"SESSION", "ACCOUNT", "NODES", "PATH",
}

// dateLayouts are tried in order when a date is read from text.
var dateLayouts = []string{
	time.RFC3339Nano,
	DefaultDateFormat,
	"2006-01-02 15:04:05",
	"2006-01-02T15-04-05",
}

// Fields returns every field in report column order.
func Fields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// ParseField returns the field with the given JSON name.
func ParseField(name string) (Field, error) {
	for i, n := range fieldNames {
		if n == name {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", name)
}

// Name returns the JSON key of f.
func (f Field) Name() string {
	if f < 0 || f >= numFields {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// Header returns the report column title of f.
func (f Field) Header() string {
	if f < 0 || f >= numFields {
		return fmt.Sprintf("FIELD_%d", int(f))
	}
	return fieldHeaders[f]
}

func (f Field) String() string {
	return f.Name()
}

// Set parses s as the textual form of f and stores it.
//
// Dates are tried against dateFormat first, then RFC 3339 and a few common
// layouts. Wall and CPU time accept seconds or [[D:]H:]M:S. Memory accepts
// kilobytes with an optional kb, mb or gb suffix.
func (r *Record) Set(f Field, s string, dateFormat string) error {
	switch f {
	case FieldJobID:
		r.JobID = &s
	case FieldJobFullID:
		r.JobFullID = &s
	case FieldJobName:
		r.JobName = &s
	case FieldDependencyIDs:
		r.DependencyIDs = splitDependencies(s)
	case FieldStatus:
		st, err := ParseStatus(s)
		if err != nil {
			return err
		}
		r.Status = &st
	case FieldJobExitCode:
		return setInt(&r.JobExitCode, s)
	case FieldCmdExitCode:
		return setInt(&r.CmdExitCode, s)
	case FieldWallTime:
		return setDuration(&r.WallTime, s)
	case FieldStartDate:
		return setTime(&r.StartDate, s, dateFormat)
	case FieldEndDate:
		return setTime(&r.EndDate, s, dateFormat)
	case FieldCPUTime:
		return setDuration(&r.CPUTime, s)
	case FieldCPUToWallRatio:
		return setFloat(&r.CPUToWallRatio, s)
	case FieldPhysicalMem:
		return setMemory(&r.PhysicalMem, s)
	case FieldVirtualMem:
		return setMemory(&r.VirtualMem, s)
	case FieldExtraVirtualMemPct:
		return setFloat(&r.ExtraVirtualMemPct, s)
	case FieldResourceLimits:
		r.ResourceLimits = &s
	case FieldQueue:
		r.Queue = &s
	case FieldUsername:
		r.Username = &s
	case FieldGroup:
		r.Group = &s
	case FieldSession:
		r.Session = &s
	case FieldAccount:
		r.Account = &s
	case FieldNodes:
		r.Nodes = &s
	case FieldPath:
		r.Path = &s
	default:
		return fmt.Errorf("unknown field %d", int(f))
	}
	return nil
}

func splitDependencies(s string) []string {
	out := []string{}
	for _, id := range strings.Split(s, DependencySeparator) {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func setInt(dst **int, s string) error {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}

func setFloat(dst **float64, s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}

func setTime(dst **time.Time, s string, dateFormat string) error {
	s = strings.TrimSpace(s)
	layouts := dateLayouts
	if dateFormat != "" {
		layouts = append([]string{dateFormat}, dateLayouts...)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			*dst = &t
			return nil
		}
	}
	return fmt.Errorf("unrecognized date %q", s)
}

// setDuration reads seconds, or a colon separated clock value as printed by
// batch schedulers (for example 01:02:03 or 2:01:02:03).
func setDuration(dst **int64, s string) error {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 4 {
		return fmt.Errorf("invalid duration %q", s)
	}
	multipliers := []int64{1, 60, 3600, 86400}
	var total int64
	for i := range parts {
		part := parts[len(parts)-1-i]
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("invalid duration %q", s)
		}
		total += v * multipliers[i]
	}
	*dst = &total
	return nil
}

func setMemory(dst **int64, s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "gb"):
		mult, s = 1024*1024, strings.TrimSuffix(s, "gb")
	case strings.HasSuffix(s, "mb"):
		mult, s = 1024, strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "kb"):
		s = strings.TrimSuffix(s, "kb")
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return err
	}
	v *= mult
	*dst = &v
	return nil
}
