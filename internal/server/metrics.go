package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/3leaps/jobgraph/internal/server/handlers"
	"github.com/3leaps/jobgraph/pkg/joblog"
)

const metricsNamespace = "jobgraph"

// collectTimeout bounds the record read done on each scrape.
const collectTimeout = 5 * time.Second

type metrics struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(source handlers.RecordSource, logger *zap.Logger) *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.reg.MustRegister(
		m.requests,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if source != nil {
		m.reg.MustRegister(newRecordsCollector(source, logger))
	}
	return m
}

// instrument counts and times requests by chi route pattern, so ids in
// paths never become label values.
func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.code)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *metrics) handler(logger *zap.Logger) http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger),
	})
}

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (c *codeRecorder) WriteHeader(code int) {
	c.code = code
	c.ResponseWriter.WriteHeader(code)
}

// recordsCollector reads the record source on every scrape and reports job
// counts per effective status.
type recordsCollector struct {
	source  handlers.RecordSource
	logger  *zap.Logger
	up      *prometheus.Desc
	jobs    *prometheus.Desc
	blocked *prometheus.Desc
}

func newRecordsCollector(source handlers.RecordSource, logger *zap.Logger) *recordsCollector {
	return &recordsCollector{
		source: source,
		logger: logger,
		up: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "records", "up"),
			"Whether the record source was read successfully.", nil, nil),
		jobs: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "records", "jobs"),
			"Jobs by effective status.", []string{"status"}, nil),
		blocked: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "records", "blocked_jobs"),
			"Jobs with a failed ancestor.", nil, nil),
	}
}

func (c *recordsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.jobs
	ch <- c.blocked
}

func (c *recordsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	records, err := c.source.Records(ctx)
	if err != nil {
		c.logger.Warn("Failed to read records for metrics", zap.Error(err))
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	counts := map[joblog.Status]int{
		joblog.StatusSuccess:  0,
		joblog.StatusActive:   0,
		joblog.StatusInactive: 0,
		joblog.StatusFailed:   0,
	}
	for i := range records {
		counts[records[i].EffectiveStatus()]++
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(n), string(status))
	}
	ch <- prometheus.MustNewConstMetric(c.blocked, prometheus.GaugeValue, float64(len(joblog.Blocked(records))))
}
