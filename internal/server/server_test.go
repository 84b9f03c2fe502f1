package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/jobgraph/internal/errors"
	"github.com/3leaps/jobgraph/internal/server/handlers"
	"github.com/3leaps/jobgraph/pkg/report"
)

func recordFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"job_id":"1","job_name":"a","status":"SUCCESS"}`+"\n"+
			`{"job_id":"2","job_name":"b","status":"ACTIVE","dependency_ids":"1"}`+"\n"), 0o644))
	return path
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestServer_Port(t *testing.T) {
	for _, port := range []int{8080, 9000, 0} {
		t.Run(fmt.Sprint(port), func(t *testing.T) {
			assert.Equal(t, port, New("127.0.0.1", port).Port())
		})
	}
	assert.Equal(t, "127.0.0.1:8080", New("127.0.0.1", 8080).Addr())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/version", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	srv := New("127.0.0.1", 0, WithRecordSource(handlers.FileSource{Path: recordFile(t)}))

	for _, path := range []string{
		"/health", "/health/live", "/health/ready", "/health/startup",
		"/version", "/summary", "/records", "/report", "/metrics",
	} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestServer_Version(t *testing.T) {
	srv := New("127.0.0.1", 0, WithVersion(VersionInfo{Version: "1.2.3", Commit: "abc", BuildDate: "2024-01-15"}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var v VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.Equal(t, "1.2.3", v.Version)
	assert.Equal(t, "abc", v.Commit)
}

func TestServer_WithoutRecords(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ReadinessFollowsRecordFile(t *testing.T) {
	path := recordFile(t)
	srv := New("127.0.0.1", 0, WithRecordSource(handlers.FileSource{Path: path}))
	require.NoError(t, os.Remove(path))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_ReportDefaults(t *testing.T) {
	srv := New("127.0.0.1", 0,
		WithRecordSource(handlers.FileSource{Path: recordFile(t)}),
		WithReportDefaults(report.Options{Detail: report.DetailMinimal, Filter: report.FilterSuccess}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "1\t"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report?filter=all", nil))
	lines = strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 3)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New("127.0.0.1", 0, WithTimeouts(Timeouts{Shutdown: time.Second}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health/live"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := New("127.0.0.1", 0, WithRecordSource(handlers.FileSource{Path: recordFile(t)}))
	h := srv.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/summary", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `jobgraph_http_requests_total{code="200",method="GET",route="/summary"} 1`)
	assert.Contains(t, body, `jobgraph_http_requests_total{code="404",method="GET",route="unmatched"} 1`)
	assert.Contains(t, body, "jobgraph_records_up 1")
	assert.Contains(t, body, `jobgraph_records_jobs{status="ACTIVE"} 1`)
	assert.Contains(t, body, `jobgraph_records_jobs{status="FAILED"} 0`)
	assert.Contains(t, body, "jobgraph_records_blocked_jobs 0")
}

func TestServer_MetricsUnreadableSource(t *testing.T) {
	srv := New("127.0.0.1", 0, WithRecordSource(handlers.FileSource{Path: filepath.Join(t.TempDir(), "none.jsonl")}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jobgraph_records_up 0")
	assert.NotContains(t, rec.Body.String(), "jobgraph_records_jobs")
}
