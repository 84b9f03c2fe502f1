package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/jobgraph/internal/errors"
	"github.com/3leaps/jobgraph/pkg/archive"
	"github.com/3leaps/jobgraph/pkg/joblog"
	"github.com/3leaps/jobgraph/pkg/report"
	"github.com/3leaps/jobgraph/pkg/summary"
)

// RecordSource supplies the records served by the report endpoints.
type RecordSource interface {
	Records(ctx context.Context) ([]joblog.Record, error)
}

// FileSource reads a JSONL record file on every call, so reports follow a
// file that is still being appended to.
type FileSource struct {
	Path    string
	Options joblog.LoadOptions
}

// Records loads the file.
func (s FileSource) Records(ctx context.Context) ([]joblog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return joblog.Load(s.Path, s.Options)
}

// CheckHealth reports whether the file is readable.
func (s FileSource) CheckHealth(ctx context.Context) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return err
	}
	return f.Close()
}

// ArchiveSource reads the records of one archived run.
type ArchiveSource struct {
	DB    *sql.DB
	RunID string
}

// Records queries the archive.
func (s ArchiveSource) Records(ctx context.Context) ([]joblog.Record, error) {
	return archive.Records(ctx, s.DB, s.RunID)
}

// CheckHealth reports whether the archive answers.
func (s ArchiveSource) CheckHealth(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Reports serves summaries and reports of a record source.
type Reports struct {
	source   RecordSource
	defaults report.Options
	logger   *zap.Logger
}

// NewReports creates report handlers. A nil source makes every endpoint
// answer 503. Defaults seed the options before query parameters apply.
func NewReports(source RecordSource, defaults report.Options, logger *zap.Logger) *Reports {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reports{source: source, defaults: defaults, logger: logger}
}

// SummaryHandler serves the summary statistics as JSON. Query parameters
// filter and match restrict the records first.
func (h *Reports) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	records, opts, ok := h.load(w, r)
	if !ok {
		return
	}
	sum, err := report.Summarize(records, opts)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewBadRequest(err.Error(), err))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, sum)
}

// RecordsHandler serves the selected records as a JSON array.
func (h *Reports) RecordsHandler(w http.ResponseWriter, r *http.Request) {
	all, opts, ok := h.load(w, r)
	if !ok {
		return
	}
	records, err := report.Select(all, opts)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewBadRequest(err.Error(), err))
		return
	}
	if records == nil {
		records = []joblog.Record{}
	}
	apperrors.WriteJSON(w, http.StatusOK, records)
}

// ReportHandler serves the tab-separated report. Query parameters: filter
// (all|success|nosuccess), match (glob), detail (full|minimal), order
// (declared|top-down|bottom-up), end (latest|earliest).
func (h *Reports) ReportHandler(w http.ResponseWriter, r *http.Request) {
	records, opts, ok := h.load(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, records, opts); err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewBadRequest(err.Error(), err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// load parses the query options and reads every record of the source.
func (h *Reports) load(w http.ResponseWriter, r *http.Request) ([]joblog.Record, report.Options, bool) {
	if h.source == nil {
		h.unavailable(w, r)
		return nil, report.Options{}, false
	}
	opts, err := h.options(r)
	if err != nil {
		apperrors.RespondWithError(w, r, apperrors.NewBadRequest(err.Error(), err))
		return nil, opts, false
	}
	records, err := h.source.Records(r.Context())
	if err != nil {
		h.sourceError(w, r, err)
		return nil, opts, false
	}
	return records, opts, true
}

func (h *Reports) options(r *http.Request) (report.Options, error) {
	opts := h.defaults
	q := r.URL.Query()

	var err error
	if v := q.Get("filter"); v != "" {
		if opts.Filter, err = report.ParseFilter(v); err != nil {
			return opts, err
		}
	}
	if v := q.Get("detail"); v != "" {
		if opts.Detail, err = report.ParseDetail(v); err != nil {
			return opts, err
		}
	}
	if v := q.Get("order"); v != "" {
		if opts.Order, err = report.ParseOrder(v); err != nil {
			return opts, err
		}
	}
	if v := q.Get("end"); v != "" {
		mode, ok := summary.ParseEndMode(v)
		if !ok {
			return opts, fmt.Errorf("unknown end date mode %q", v)
		}
		opts.EndMode = mode
	}
	if q.Has("match") {
		opts.NamePattern = q.Get("match")
	}
	return opts, nil
}

func (h *Reports) unavailable(w http.ResponseWriter, r *http.Request) {
	apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailable("no record file configured", nil))
}

func (h *Reports) sourceError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("Failed to load records", zap.Error(err))
	switch {
	case errors.Is(err, os.ErrNotExist):
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailable("record file not found", err))
	case joblog.IsMalformed(err):
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, err.Error()))
	default:
		apperrors.RespondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to load records"))
	}
}
