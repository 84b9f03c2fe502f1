package report

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobgraph/pkg/joblog"
	"github.com/3leaps/jobgraph/pkg/summary"
)

func ptr[T any](v T) *T { return &v }

var (
	t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	t1 = t0.Add(30 * time.Minute)
	t2 = t0.Add(2 * time.Hour)
)

// sampleRecords is a small alignment run: a -> b, a -> c, b and c -> d,
// plus an unrelated job e.
func sampleRecords() []joblog.Record {
	return []joblog.Record{
		{
			JobID: ptr("1"), JobFullID: ptr("1.cluster"), JobName: ptr("trim.s1"),
			DependencyIDs: []string{}, Status: ptr(joblog.StatusSuccess),
			JobExitCode: ptr(0), CmdExitCode: ptr(0), WallTime: ptr(int64(10)),
			StartDate: &t0, EndDate: &t1, CPUTime: ptr(int64(8)), CPUToWallRatio: ptr(0.8),
			PhysicalMem: ptr(int64(2048)), VirtualMem: ptr(int64(4096)), ExtraVirtualMemPct: ptr(100.0),
			ResourceLimits: ptr("walltime=24:00:00"), Queue: ptr("sw"), Username: ptr("alice"),
			Group: ptr("lab"), Session: ptr("1234"), Account: ptr("rrg"), Nodes: ptr("n1"),
			Path: ptr("/scratch/run/job_output/trim.s1.o"),
		},
		{JobID: ptr("2"), JobName: ptr("align.s1"), DependencyIDs: []string{"1"}, Status: ptr(joblog.StatusFailed), WallTime: ptr(int64(5)), StartDate: &t1, EndDate: &t2},
		{JobID: ptr("3"), JobName: ptr("qc.s1"), DependencyIDs: []string{"1"}, Status: ptr(joblog.StatusSuccess), WallTime: ptr(int64(20))},
		{JobID: ptr("4"), JobName: ptr("merge.s1"), DependencyIDs: []string{"2", "3"}},
		{JobID: ptr("5"), JobName: ptr("report")},
	}
}

func TestHeader(t *testing.T) {
	want := "#JOB_ID\tJOB_FULL_ID\tJOB_NAME\tJOB_DEPENDENCIES\tSTATUS\tJOB_EXIT_CODE\tCMD_EXIT_CODE\t" +
		"REAL_TIME\tSTART_DATE\tEND_DATE\tCPU_TIME\tCPU_REAL_TIME_RATIO\tPHYSICAL_MEM\tVIRTUAL_MEM\t" +
		"EXTRA_VIRTUAL_MEM_PCT\tLIMITS\tQUEUE\tUSERNAME\tGROUP\tSESSION\tACCOUNT\tNODES\tPATH"
	assert.Equal(t, want, Header())
}

func TestRender_FullSummaryBlock(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleRecords(), Options{}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# Number of jobs: 5\n"))
	assert.Contains(t, out, "# Number of successful jobs: 2\n")
	assert.Contains(t, out, "# Number of inactive jobs: 2\n")
	assert.Contains(t, out, "# Number of failed jobs: 1\n")
	assert.Contains(t, out, "# Number of blocked jobs: 1\n")
	assert.Contains(t, out, "# Execution time: 2024-05-01T08:00:00 - 2024-05-01T10:00:00 (2:00:00)\n")
	assert.Contains(t, out, "# Shortest job: align.s1 (5)\n")
	assert.Contains(t, out, "# Longest job: qc.s1 (20)\n")
	assert.Contains(t, out, "# Lowest memory job: trim.s1 (2048)\n")

	// Summary block ends with a blank line before the header.
	assert.Contains(t, out, "\n\n"+Header()+"\n")
}

func TestRender_MinimalAndUndefined(t *testing.T) {
	var buf bytes.Buffer
	records := []joblog.Record{{JobName: ptr("lonely")}}
	require.NoError(t, Render(&buf, records, Options{Detail: DetailMinimal}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, Header(), lines[0])

	cols := strings.Split(lines[1], "\t")
	require.Len(t, cols, 23)
	assert.Equal(t, joblog.Undefined, cols[0])
	assert.Equal(t, "lonely", cols[2])
	assert.Equal(t, joblog.Undefined, cols[22])
}

func TestRender_UndefinedSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, []joblog.Record{{JobID: ptr("1")}}, Options{}))

	out := buf.String()
	assert.Contains(t, out, "# Number of successful jobs: N/A\n")
	assert.Contains(t, out, "# Execution time: N/A - N/A (N/A)\n")
	assert.Contains(t, out, "# Shortest job: N/A (N/A)\n")
}

func TestRender_BlockedCountsAncestorsOutsideSelection(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleRecords(), Options{NamePattern: "merge.*"}))

	out := buf.String()
	assert.Contains(t, out, "# Number of jobs: 1\n")
	assert.Contains(t, out, "# Number of failed jobs: 0\n")
	assert.Contains(t, out, "# Number of blocked jobs: 1\n")

	sum, err := Summarize(sampleRecords(), Options{Filter: FilterSuccess})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Blocked)
}

func TestRender_EndModeEarliest(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleRecords(), Options{EndMode: summary.EndEarliest}))
	assert.Contains(t, buf.String(), "# Execution time: 2024-05-01T08:00:00 - 2024-05-01T08:30:00 (0:30:00)\n")
}

func TestSelect_FiltersAreExclusiveAndCover(t *testing.T) {
	records := sampleRecords()

	success, err := Select(records, Options{Filter: FilterSuccess})
	require.NoError(t, err)
	noSuccess, err := Select(records, Options{Filter: FilterNoSuccess})
	require.NoError(t, err)

	ids := map[string]int{}
	for _, r := range append(success, noSuccess...) {
		ids[r.ID()]++
	}
	assert.Len(t, ids, len(records))
	for id, n := range ids {
		assert.Equal(t, 1, n, "record %s selected twice", id)
	}
	assert.Len(t, success, 2)
}

func TestSelect_NamePattern(t *testing.T) {
	got, err := Select(sampleRecords(), Options{NamePattern: "*.s1"})
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = Select(sampleRecords(), Options{NamePattern: "{trim,qc}.*", Filter: FilterSuccess})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = Select(sampleRecords(), Options{NamePattern: "[unclosed"})
	assert.Error(t, err)
}

func firstColumns(t *testing.T, out string) []string {
	t.Helper()
	var cols []string
	for _, line := range strings.Split(out, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols = append(cols, strings.SplitN(line, "\t", 2)[0])
	}
	return cols
}

func TestRender_TopDownIndented(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleRecords(), Options{Detail: DetailMinimal, Order: OrderTopDown}))
	assert.Equal(t, []string{"1", "  2", "  3", "    4", "5"}, firstColumns(t, buf.String()))
}

func TestRender_BottomUpIndented(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleRecords(), Options{Detail: DetailMinimal, Order: OrderBottomUp}))
	assert.Equal(t, []string{"4", "  2", "  3", "    1", "5"}, firstColumns(t, buf.String()))
}

func TestRender_CycleFallsBackToInputOrder(t *testing.T) {
	records := []joblog.Record{
		{JobID: ptr("a"), DependencyIDs: []string{"b"}},
		{JobID: ptr("b"), DependencyIDs: []string{"a"}},
		{JobID: ptr("c")},
		{JobName: ptr("no-id")},
	}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, records, Options{Detail: DetailMinimal, Order: OrderTopDown}))
	assert.Equal(t, []string{"c", "a", "b", joblog.Undefined}, firstColumns(t, buf.String()))
}

// awkwardRecords carry values that collide with the table syntax.
func awkwardRecords() []joblog.Record {
	return []joblog.Record{
		{JobID: ptr("#7"), JobName: ptr("# not a comment"), Path: ptr("/data/my\tdir"), ResourceLimits: ptr("mem=4g\nwalltime=1:00:00")},
		{JobID: ptr("  lead"), JobName: ptr(" spaced "), Queue: ptr(joblog.Undefined), Username: ptr(`C:\users\n`)},
		{JobID: ptr("crlf"), Nodes: ptr("n1\r\nn2"), Account: ptr(`\N/A`), Group: ptr("")},
	}
}

func TestParseTable_RoundTrip(t *testing.T) {
	records := append(sampleRecords(), awkwardRecords()...)

	for _, order := range []Order{OrderDeclared, OrderTopDown} {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, records, Options{Order: order}))

		parsed, err := ParseTable(&buf, "")
		require.NoError(t, err)
		require.Len(t, parsed, len(records))

		byID := map[string]joblog.Record{}
		for _, r := range parsed {
			byID[r.ID()] = r
		}
		for _, want := range records {
			got, ok := byID[want.ID()]
			require.True(t, ok, want.ID())
			assert.Equal(t, want, got, "record %s", want.ID())
		}
	}
}

func TestParseTable_MultilineNameInSummary(t *testing.T) {
	records := []joblog.Record{{JobID: ptr("1"), JobName: ptr("two\nlines"), WallTime: ptr(int64(3))}}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, records, Options{}))
	assert.Contains(t, buf.String(), `# Shortest job: two\nlines (3)`)

	parsed, err := ParseTable(&buf, "")
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, records[0], parsed[0])
}

func TestParseTable_NonUTCDates(t *testing.T) {
	cest := time.FixedZone("CEST", 2*60*60)
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, cest)
	end := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	records := []joblog.Record{{JobID: ptr("1"), StartDate: &start, EndDate: &end}}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, records, Options{}))
	assert.Contains(t, buf.String(), "# Execution time: 2024-01-01T08:00:00 - 2024-01-01T09:30:00 (1:30:00)\n")

	parsed, err := ParseTable(&buf, "")
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.NotNil(t, parsed[0].StartDate)
	assert.True(t, start.Equal(*parsed[0].StartDate), "start %s", parsed[0].StartDate)
	assert.True(t, end.Equal(*parsed[0].EndDate), "end %s", parsed[0].EndDate)
}

func TestEscapeCell(t *testing.T) {
	cases := map[string]string{
		"plain":          "plain",
		"a\tb":           `a\tb`,
		"a\nb\r":         `a\nb\r`,
		`back\slash`:     `back\\slash`,
		"  two":          `\s\stwo`,
		"in between":     "in between",
		joblog.Undefined: `\N/A`,
		`\N/A`:           `\\N/A`,
	}
	for in, want := range cases {
		got := escapeCell(in)
		assert.Equal(t, want, got, "escape %q", in)
		back, err := unescapeCell(got)
		require.NoError(t, err)
		assert.Equal(t, in, back)
	}
}

func TestParseTable_Errors(t *testing.T) {
	_, err := ParseTable(strings.NewReader("1\t2\n"), "")
	var malformed *joblog.MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 1, malformed.Line)

	row := strings.Repeat("N/A\t", 7) + "slow" + strings.Repeat("\tN/A", 15)
	_, err = ParseTable(strings.NewReader("# comment\n\n"+row+"\n"), "")
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 3, malformed.Line)
	assert.Equal(t, "wall_time", malformed.Field)

	row = "1\t" + `bad\q` + strings.Repeat("\tN/A", 21)
	_, err = ParseTable(strings.NewReader(Header()+"\n"+row+"\n"), "")
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 2, malformed.Line)
	assert.Equal(t, "job_full_id", malformed.Field)

	// After the header a '#' line is a row, not a comment.
	_, err = ParseTable(strings.NewReader(Header()+"\n#7\tx\n"), "")
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 2, malformed.Line)
}

func TestParseOptions(t *testing.T) {
	f, err := ParseFilter("nosuccess")
	require.NoError(t, err)
	assert.Equal(t, FilterNoSuccess, f)
	_, err = ParseFilter("bogus")
	assert.Error(t, err)

	o, err := ParseOrder("bottom-up")
	require.NoError(t, err)
	assert.Equal(t, OrderBottomUp, o)
	_, err = ParseOrder("sideways")
	assert.Error(t, err)

	d, err := ParseDetail("minimal")
	require.NoError(t, err)
	assert.Equal(t, DetailMinimal, d)
}

func TestWriteFile_Atomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "report.tsv")

	require.NoError(t, WriteFile(path, func(w io.Writer) error {
		return Render(w, sampleRecords(), Options{Detail: DetailMinimal})
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), Header()))

	boom := errors.New("boom")
	err = WriteFile(path, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, after, "failed render must not replace the report")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFormatElapsed(t *testing.T) {
	start := t0
	end := t0.Add(26*time.Hour + 3*time.Minute + 4*time.Second)
	assert.Equal(t, "1 day, 2:03:04", formatElapsed(&start, &end))
	assert.Equal(t, joblog.Undefined, formatElapsed(nil, &end))
}
