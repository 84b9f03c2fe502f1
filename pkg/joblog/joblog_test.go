package joblog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func ptr[T any](v T) *T { return &v }

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusInactive.CanTransition(StatusActive))
	assert.True(t, StatusActive.CanTransition(StatusSuccess))
	assert.True(t, StatusActive.CanTransition(StatusFailed))

	assert.False(t, StatusInactive.CanTransition(StatusSuccess))
	assert.False(t, StatusSuccess.CanTransition(StatusActive))
	assert.False(t, StatusFailed.CanTransition(StatusInactive))

	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusInactive.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" success ")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st)

	_, err = ParseStatus("BLOCKED")
	assert.Error(t, err)
}

func TestRecord_EffectiveStatus(t *testing.T) {
	var r Record
	assert.Equal(t, StatusInactive, r.EffectiveStatus())

	r.Status = ptr(StatusFailed)
	assert.Equal(t, StatusFailed, r.EffectiveStatus())
}

func TestFields_OrderAndNames(t *testing.T) {
	fields := Fields()
	require.Len(t, fields, 23)
	assert.Equal(t, "job_id", fields[0].Name())
	assert.Equal(t, "PATH", fields[22].Header())
	assert.Equal(t, "REAL_TIME", FieldWallTime.Header())

	f, err := ParseField("physical_mem")
	require.NoError(t, err)
	assert.Equal(t, FieldPhysicalMem, f)

	_, err = ParseField("mem")
	assert.Error(t, err)
}

func TestRecord_SetParsesSchedulerFormats(t *testing.T) {
	var r Record
	require.NoError(t, r.Set(FieldWallTime, "01:02:03", ""))
	assert.Equal(t, int64(3723), *r.WallTime)

	require.NoError(t, r.Set(FieldCPUTime, "1:00:00:01", ""))
	assert.Equal(t, int64(86401), *r.CPUTime)

	require.NoError(t, r.Set(FieldPhysicalMem, "2mb", ""))
	assert.Equal(t, int64(2048), *r.PhysicalMem)

	require.NoError(t, r.Set(FieldVirtualMem, "512kb", ""))
	assert.Equal(t, int64(512), *r.VirtualMem)

	require.NoError(t, r.Set(FieldStartDate, "2016-01-01T09:02:03", ""))
	assert.Equal(t, time.Date(2016, 1, 1, 9, 2, 3, 0, time.UTC), *r.StartDate)

	require.NoError(t, r.Set(FieldDependencyIDs, "1:2", ""))
	assert.Equal(t, []string{"1", "2"}, r.DependencyIDs)

	require.NoError(t, r.Set(FieldDependencyIDs, "", ""))
	assert.NotNil(t, r.DependencyIDs)
	assert.Empty(t, r.DependencyIDs)

	assert.Error(t, r.Set(FieldWallTime, "ten", ""))
	assert.Error(t, r.Set(FieldEndDate, "yesterday", ""))
}

func TestRecord_FormatAbsentAndPresent(t *testing.T) {
	r := Record{JobName: ptr("trim"), CPUToWallRatio: ptr(0.5)}

	_, ok := r.Format(FieldJobID, "")
	assert.False(t, ok)
	assert.False(t, r.Has(FieldDependencyIDs))

	s, ok := r.Format(FieldCPUToWallRatio, "")
	require.True(t, ok)
	assert.Equal(t, "0.5", s)
	assert.Equal(t, "trim", r.DisplayName())
	assert.Equal(t, Undefined, (&Record{}).DisplayName())
}

func TestRecord_FormatDatesInUTC(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	r := Record{StartDate: &start}

	s, ok := r.Format(FieldStartDate, "")
	require.True(t, ok)
	assert.Equal(t, "2024-01-01T08:00:00", s)

	var back Record
	require.NoError(t, back.Set(FieldStartDate, s, ""))
	assert.True(t, start.Equal(*back.StartDate))
}

func TestDecoder_AbsentNullAndUnknownKeys(t *testing.T) {
	input := `{"job_id":"1","job_name":"a","status":null,"wall_time":12,"dependency_ids":[],"extra":"x"}

{"job_id":"2","dependency_ids":["1", 7],"start_date":"2024-03-01T10:00:00Z","physical_mem":"1gb"}
`
	records, err := ReadAll(strings.NewReader(input), LoadOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Nil(t, records[0].Status)
	assert.Equal(t, int64(12), *records[0].WallTime)
	assert.NotNil(t, records[0].DependencyIDs)
	assert.Empty(t, records[0].DependencyIDs)
	assert.Nil(t, records[0].EndDate)

	assert.Equal(t, []string{"1", "7"}, records[1].DependencyIDs)
	assert.Equal(t, int64(1024*1024), *records[1].PhysicalMem)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), records[1].StartDate.UTC())
	assert.Nil(t, records[1].JobName)
}

func TestDecoder_MalformedValue(t *testing.T) {
	input := "{\"job_id\":\"1\"}\n{\"job_id\":\"2\",\"wall_time\":\"abc\"}\n"

	dec := NewDecoder(strings.NewReader(input))
	_, err := dec.Next()
	require.NoError(t, err)

	_, err = dec.Next()
	require.Error(t, err)

	var malformed *MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 2, malformed.Line)
	assert.Equal(t, "wall_time", malformed.Field)
	assert.Equal(t, `"abc"`, malformed.Value)
	assert.True(t, IsMalformed(err))

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_RejectsNonObjectsAndBadStatus(t *testing.T) {
	_, err := ReadAll(strings.NewReader("[1,2]\n"), LoadOptions{})
	assert.True(t, IsMalformed(err))

	_, err = ReadAll(strings.NewReader(`{"status":"DONE"}`), LoadOptions{})
	var malformed *MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "status", malformed.Field)

	_, err = ReadAll(strings.NewReader(`{"queue":{"name":"q"}}`), LoadOptions{})
	assert.True(t, IsMalformed(err))
}

func TestDecoder_LineLimit(t *testing.T) {
	long := `{"path":"` + strings.Repeat("x", 200) + `"}`
	input := long + "\n" + `{"job_id":"ok"}` + "\n"

	records, err := ReadAll(strings.NewReader(input), LoadOptions{MaxLineBytes: 64, SkipMalformed: true})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].ID())
}

func TestLoad_SkipMalformedLogsWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	content := `{"job_id":"1"}
not json
{"job_id":"3","cmd_exit_code":"x"}
{"job_id":"4"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path, LoadOptions{})
	require.Error(t, err)

	core, logs := observer.New(zap.WarnLevel)
	records, err := Load(path, LoadOptions{SkipMalformed: true, Logger: zap.New(core)})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].ID())
	assert.Equal(t, "4", records[1].ID())
	assert.Equal(t, 2, logs.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.jsonl"), LoadOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriter_RoundTrip(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []Record{
		{
			JobID:         ptr("1"),
			JobName:       ptr("trim"),
			DependencyIDs: []string{},
			Status:        ptr(StatusSuccess),
			WallTime:      ptr(int64(5)),
			StartDate:     &start,
		},
		{JobID: ptr("2"), DependencyIDs: []string{"1"}},
		{JobID: ptr("3")},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteAll(context.Background(), records))

	got, err := ReadAll(&buf, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, records[0].JobName, got[0].JobName)
	assert.Equal(t, start, got[0].StartDate.UTC())
	assert.NotNil(t, got[0].DependencyIDs)
	assert.Equal(t, []string{"1"}, got[1].DependencyIDs)
	assert.Nil(t, got[2].DependencyIDs)
}

func TestWriter_ConcurrentAppendsStayLineAtomic(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Write(context.Background(), &Record{JobID: ptr("job"), Path: ptr(strings.Repeat("p", 100))}))
		}()
	}
	wg.Wait()

	records, err := ReadAll(&buf, LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, records, 20)
}

func TestWriter_ClosedAndCancelled(t *testing.T) {
	w := NewWriter(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Write(ctx, &Record{}), context.Canceled)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write(context.Background(), &Record{}), ErrWriterClosed)
}

func TestBlocked(t *testing.T) {
	records := []Record{
		{JobID: ptr("a"), Status: ptr(StatusFailed), DependencyIDs: []string{}},
		{JobID: ptr("b"), Status: ptr(StatusInactive), DependencyIDs: []string{"a"}},
		{JobID: ptr("c"), DependencyIDs: []string{"b"}},
		{JobID: ptr("d"), Status: ptr(StatusSuccess), DependencyIDs: []string{"a"}},
		{JobID: ptr("e"), Status: ptr(StatusActive), DependencyIDs: []string{"unknown"}},
	}

	assert.Equal(t, []string{"b", "c"}, Blocked(records))
	assert.Nil(t, Blocked(records[1:]))
}

func TestGraph_IgnoresUnknownAndSelfDependencies(t *testing.T) {
	g := Graph([]Record{
		{JobID: ptr("a"), DependencyIDs: []string{"a", "zzz"}},
		{JobID: ptr("b"), DependencyIDs: []string{"a", "a"}},
		{},
	})

	assert.Equal(t, []string{"a", "b"}, g.Nodes())
	deps, err := g.Dependencies("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, deps)
}
