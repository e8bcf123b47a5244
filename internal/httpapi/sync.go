package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"cftrack/internal/cronspec"
	"cftrack/internal/model"
	"cftrack/internal/task/scheduler"
	logx "cftrack/pkg/logx"
)

type syncConfigView struct {
	CronTime  string              `json:"cronTime"`
	Enabled   bool                `json:"enabled"`
	Schedule  cronspec.Descriptor `json:"schedule"`
	UpdatedAt string              `json:"updated_at,omitempty"`
}

func viewOf(cfg model.SyncConfig) syncConfigView {
	v := syncConfigView{
		CronTime: cfg.Expression,
		Enabled:  cfg.Enabled,
		Schedule: cronspec.FromExpression(cfg.Expression),
	}
	if !cfg.UpdatedAt.IsZero() {
		v.UpdatedAt = cfg.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

func (a *API) getSyncConfig(w http.ResponseWriter, r *http.Request) {
	writeData(w, viewOf(a.sched.Current()))
}

type putSyncConfigRequest struct {
	CronTime string               `json:"cronTime"`
	Schedule *cronspec.Descriptor `json:"schedule"`
	Enabled  *bool                `json:"enabled"`
}

func (a *API) putSyncConfig(w http.ResponseWriter, r *http.Request) {
	var req putSyncConfigRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	cur := a.sched.Current()
	next := model.SyncConfig{Expression: cur.Expression, Enabled: cur.Enabled}

	switch {
	case strings.TrimSpace(req.CronTime) != "":
		next.Expression = strings.TrimSpace(req.CronTime)
	case req.Schedule != nil:
		next.Expression = cronspec.ToExpression(*req.Schedule)
	case req.Enabled == nil:
		writeError(w, http.StatusBadRequest, "cronTime, schedule or enabled is required")
		return
	}
	if req.Enabled != nil {
		next.Enabled = *req.Enabled
	}

	stored, err := a.sched.Apply(r.Context(), next)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info("sync config updated", logx.String("expr", stored.Expression), logx.Bool("enabled", stored.Enabled))
	writeData(w, viewOf(stored))
}

type syncStatusView struct {
	Scheduler scheduler.Snapshot `json:"scheduler"`
	LastRun   *model.SyncRun     `json:"last_run,omitempty"`
}

func (a *API) syncStatus(w http.ResponseWriter, r *http.Request) {
	v := syncStatusView{Scheduler: a.sched.Snapshot()}
	runs, err := a.store.ListSyncRuns(r.Context(), 1)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(runs) > 0 {
		v.LastRun = &runs[0]
	}
	writeData(w, v)
}

func (a *API) runSync(w http.ResponseWriter, r *http.Request) {
	if err := a.sched.TriggerNow(); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, envelope{Success: true, Data: map[string]string{"status": "started"}})
}

type syncRunView struct {
	model.SyncRun
	Report any `json:"report,omitempty"`
}

func (a *API) syncRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := a.store.ListSyncRuns(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]syncRunView, 0, len(runs))
	for _, run := range runs {
		v := syncRunView{SyncRun: run}
		if len(run.Report) > 0 {
			v.Report = rawJSON(run.Report)
		}
		out = append(out, v)
	}
	writeData(w, out)
}

// rawJSON embeds a stored report verbatim.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if !json.Valid(r) {
		return []byte("null"), nil
	}
	return r, nil
}
