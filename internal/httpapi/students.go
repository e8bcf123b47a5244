package httpapi

import (
	"net/http"
	"time"

	"cftrack/internal/model"
	"cftrack/internal/stats"
)

// student loads the path student or writes the error response.
func (a *API) student(w http.ResponseWriter, r *http.Request) (model.Student, bool) {
	st, err := a.store.GetStudent(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return model.Student{}, false
	}
	return st, true
}

func (a *API) contestHistory(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r, defaultHistoryDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, ok := a.student(w, r)
	if !ok {
		return
	}
	now := a.now()
	contests, err := a.store.ListContests(r.Context(), st.ID, now.Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, stats.ContestsSince(contests, now, days))
}

func (a *API) ratingGraph(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r, defaultHistoryDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, ok := a.student(w, r)
	if !ok {
		return
	}
	now := a.now()
	contests, err := a.store.ListContests(r.Context(), st.ID, now.Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, stats.RatingGraph(contests, now, days))
}

func (a *API) problemStats(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r, defaultStatsDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, ok := a.student(w, r)
	if !ok {
		return
	}
	// Full history: a problem first solved before the window must not count.
	subs, err := a.store.ListSubmissions(r.Context(), st.ID, time.Time{})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, stats.ProblemStats(subs, a.now(), days, stats.DefaultBucketWidth))
}

type reminderInfo struct {
	Success        bool       `json:"success"`
	Count          int        `json:"reminder_email_count"`
	Enabled        bool       `json:"reminders_enabled"`
	LastReminderAt *time.Time `json:"last_reminder_at,omitempty"`
}

// Reminder endpoints answer with flat fields next to success, the shape
// existing dashboards read.
func (a *API) reminderInfo(w http.ResponseWriter, r *http.Request) {
	st, ok := a.student(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reminderInfo{
		Success:        true,
		Count:          st.Reminder.Count,
		Enabled:        st.Reminder.Enabled,
		LastReminderAt: st.Reminder.LastReminderAt,
	})
}

type setReminderRequest struct {
	Enabled *bool `json:"enabled"`
}

func (a *API) setReminder(w http.ResponseWriter, r *http.Request) {
	var req setReminderRequest
	if err := decodeBody(w, r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}
	v, err := a.reminders.SetEnabled(r.Context(), r.PathValue("id"), *req.Enabled)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reminders_enabled": v})
}
