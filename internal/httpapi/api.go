// Package httpapi is the REST surface: sync configuration, sync status and
// manual runs, per-student statistics and reminder settings.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"cftrack/internal/cronspec"
	"cftrack/internal/metrics"
	"cftrack/internal/model"
	"cftrack/internal/storage"
	"cftrack/internal/task/scheduler"
	logx "cftrack/pkg/logx"
)

type Scheduler interface {
	Current() model.SyncConfig
	Apply(ctx context.Context, cfg model.SyncConfig) (model.SyncConfig, error)
	TriggerNow() error
	Snapshot() scheduler.Snapshot
}

type Store interface {
	GetStudent(ctx context.Context, id string) (model.Student, error)
	ListContests(ctx context.Context, studentID string, since time.Time) ([]model.ContestRecord, error)
	ListSubmissions(ctx context.Context, studentID string, since time.Time) ([]model.SubmissionRecord, error)
	ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)
}

type Reminders interface {
	SetEnabled(ctx context.Context, studentID string, enabled bool) (bool, error)
}

// Health reports an error when a critical component is degraded.
type Health func() error

const (
	maxDays            = 3650
	defaultHistoryDays = 365
	defaultStatsDays   = 90
	maxBodyBytes       = 1 << 20
)

type API struct {
	sched     Scheduler
	store     Store
	reminders Reminders
	metrics   *metrics.Metrics
	health    Health
	log       logx.Logger
	now       func() time.Time
}

type Deps struct {
	Scheduler Scheduler
	Store     Store
	Reminders Reminders
	Metrics   *metrics.Metrics
	Health    Health
}

func NewAPI(d Deps, log logx.Logger) *API {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &API{
		sched:     d.Scheduler,
		store:     d.Store,
		reminders: d.Reminders,
		metrics:   d.Metrics,
		health:    d.Health,
		log:       log,
		now:       time.Now,
	}
}

// Handler builds the route table for cfg.
func (a *API) Handler(cfg ServerConfig) http.Handler {
	base := normalizeBase(cfg.BasePath)
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		pattern := method + " " + base + path
		var hh http.Handler = h
		if a.metrics != nil {
			hh = a.metrics.Middleware(path, hh)
		}
		mux.Handle(pattern, hh)
	}

	route(http.MethodGet, "/sync-config", a.getSyncConfig)
	route(http.MethodPut, "/sync-config", a.putSyncConfig)
	route(http.MethodGet, "/sync/status", a.syncStatus)
	route(http.MethodPost, "/sync/run", a.runSync)
	route(http.MethodGet, "/sync/runs", a.syncRuns)

	route(http.MethodGet, "/students/{id}/contest-history", a.contestHistory)
	route(http.MethodGet, "/students/{id}/problem-stats", a.problemStats)
	route(http.MethodGet, "/students/{id}/rating-graph", a.ratingGraph)
	route(http.MethodGet, "/students/{id}/reminder-info", a.reminderInfo)
	route(http.MethodPost, "/students/{id}/disable-reminder", a.setReminder)

	mux.HandleFunc("GET /healthz", a.healthz)
	if cfg.Metrics && a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return a.recoverer(mux)
}

func (a *API) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Error("http handler panicked", logx.String("path", r.URL.Path), logx.Any("panic", rec), logx.Stack(logx.StackTrace(3, 24)))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ---- envelope ----

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// fail maps domain errors onto status codes.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status, msg = http.StatusNotFound, "student not found"
	case errors.Is(err, cronspec.ErrInvalidExpression):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, scheduler.ErrRunning):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, scheduler.ErrStopped), errors.Is(err, scheduler.ErrNotStarted):
		status, msg = http.StatusServiceUnavailable, err.Error()
	}
	if status >= 500 {
		a.log.Error("request failed", logx.String("method", r.Method), logx.String("path", r.URL.Path), logx.Err(err))
	} else {
		a.log.Debug("request rejected", logx.String("path", r.URL.Path), logx.Int("status", status), logx.Err(err))
	}
	writeError(w, status, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseDays reads ?days=N, defaulting when absent.
func parseDays(r *http.Request, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("days"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxDays {
		return 0, errors.New("days must be an integer between 1 and " + strconv.Itoa(maxDays))
	}
	return n, nil
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeData(w, map[string]string{"status": "ok"})
}
