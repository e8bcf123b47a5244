// Package metrics exposes sync, reminder and HTTP figures on a private
// Prometheus registry.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cftrack/internal/eventbus"
	"cftrack/internal/ingest"
)

const namespace = "cftrack"

type Metrics struct {
	reg *prometheus.Registry

	syncRuns        *prometheus.CounterVec
	syncStudents    *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	syncLastSuccess prometheus.Gauge
	nextRun         prometheus.Gauge

	remindersSent   prometheus.Counter
	remindersFailed prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	busDropped prometheus.GaugeFunc
}

// New registers every collector on a fresh registry. dropped may be nil.
func New(dropped func() uint64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	m := &Metrics{reg: reg}
	m.syncRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sync", Name: "runs_total",
		Help: "Sync runs by trigger.",
	}, []string{"trigger"})
	m.syncStudents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sync", Name: "students_total",
		Help: "Per-student sync outcomes.",
	}, []string{"outcome", "error_kind"})
	m.syncDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "sync", Name: "run_duration_seconds",
		Help:    "Wall time of a full sync run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	m.syncLastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "sync", Name: "last_run_finished_timestamp_seconds",
		Help: "Unix time the last sync run finished.",
	})
	m.nextRun = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "sync", Name: "next_run_timestamp_seconds",
		Help: "Unix time the scheduler is armed for.",
	})
	m.remindersSent = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reminder", Name: "sent_total",
		Help: "Reminder emails dispatched and recorded.",
	})
	m.remindersFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "reminder", Name: "failed_total",
		Help: "Reminder dispatch or record failures.",
	})
	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})
	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
	if dropped != nil {
		m.busDropped = auto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "eventbus", Name: "dropped_events",
			Help: "Events lost to full subscriber buffers.",
		}, func() float64 { return float64(dropped()) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Observe updates collectors from one bus event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.SyncStarted:
		if rep, ok := e.Data.(ingest.Report); ok {
			m.syncRuns.WithLabelValues(rep.Trigger).Inc()
		}
	case eventbus.SyncStudent:
		if r, ok := e.Data.(ingest.StudentResult); ok {
			m.syncStudents.WithLabelValues(string(r.Outcome), string(r.ErrorKind)).Inc()
		}
	case eventbus.SyncFinished:
		if rep, ok := e.Data.(ingest.Report); ok {
			m.syncDuration.Observe(rep.Duration.Seconds())
			m.syncLastSuccess.Set(float64(rep.FinishedAt.Unix()))
		}
	case eventbus.ScheduleArmed:
		if t, ok := e.Data.(time.Time); ok {
			m.nextRun.Set(float64(t.Unix()))
		}
	case eventbus.ReminderSent:
		m.remindersSent.Inc()
	case eventbus.ReminderFailed:
		m.remindersFailed.Inc()
	}
}

// Run consumes bus events until ctx ends.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records every request under route.
func (m *Metrics) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
