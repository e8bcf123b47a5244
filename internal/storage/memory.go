package storage

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cftrack/internal/model"
)

// Memory is a process-local Store. Every method holds one mutex, so each call
// is atomic the same way a single SQL statement or transaction is.
type Memory struct {
	mu sync.Mutex

	cfg      *model.SyncConfig
	students map[string]*model.Student
	contests map[string]map[int]model.ContestRecord
	subs     map[string]map[int64]model.SubmissionRecord
	stats    map[string]model.ProblemStats
	runs     []model.SyncRun

	runHistory int
	closed     bool
}

func NewMemory(runHistory int) *Memory {
	if runHistory <= 0 {
		runHistory = defaultRunHistory
	}
	return &Memory{
		students:   make(map[string]*model.Student),
		contests:   make(map[string]map[int]model.ContestRecord),
		subs:       make(map[string]map[int64]model.SubmissionRecord),
		stats:      make(map[string]model.ProblemStats),
		runHistory: runHistory,
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) EnsureSyncConfig(_ context.Context, def model.SyncConfig) (model.SyncConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.SyncConfig{}, ErrClosed
	}
	if m.cfg == nil {
		if def.UpdatedAt.IsZero() {
			def.UpdatedAt = time.Now()
		}
		def.UpdatedAt = def.UpdatedAt.UTC().Truncate(time.Millisecond)
		m.cfg = &def
	}
	return *m.cfg, nil
}

func (m *Memory) GetSyncConfig(context.Context) (model.SyncConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.SyncConfig{}, ErrClosed
	}
	if m.cfg == nil {
		return model.SyncConfig{}, ErrNotFound
	}
	return *m.cfg, nil
}

func (m *Memory) PutSyncConfig(_ context.Context, cfg model.SyncConfig) (model.SyncConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.SyncConfig{}, ErrClosed
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now()
	}
	cfg.UpdatedAt = cfg.UpdatedAt.UTC().Truncate(time.Millisecond)
	m.cfg = &cfg
	return cfg, nil
}

func (m *Memory) PutStudent(_ context.Context, st model.Student) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Student{}, ErrClosed
	}
	if strings.TrimSpace(st.ID) == "" {
		st.ID = uuid.NewString()
	}
	if cur, ok := m.students[st.ID]; ok {
		if handleChanged(cur.Handle, st.Handle) {
			delete(m.contests, st.ID)
			delete(m.subs, st.ID)
			delete(m.stats, st.ID)
			cur.CurrentRating, cur.MaxRating, cur.LastSyncAt = nil, nil, nil
		}
		cur.Name, cur.Email, cur.Phone, cur.Handle = st.Name, st.Email, st.Phone, st.Handle
		return cloneStudent(cur), nil
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	fresh := model.Student{
		ID:        st.ID,
		Name:      st.Name,
		Email:     st.Email,
		Phone:     st.Phone,
		Handle:    st.Handle,
		CreatedAt: st.CreatedAt.UTC().Truncate(time.Millisecond),
		Reminder:  model.ReminderState{Enabled: true},
	}
	m.students[st.ID] = &fresh
	return cloneStudent(&fresh), nil
}

func (m *Memory) GetStudent(_ context.Context, id string) (model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Student{}, ErrClosed
	}
	st, ok := m.students[id]
	if !ok {
		return model.Student{}, ErrNotFound
	}
	return cloneStudent(st), nil
}

func (m *Memory) ListStudents(context.Context) ([]model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.Student, 0, len(m.students))
	for _, st := range m.students {
		out = append(out, cloneStudent(st))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ApplySync(_ context.Context, up model.SyncUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	st, ok := m.students[up.StudentID]
	if !ok {
		return ErrNotFound
	}

	cs := make(map[int]model.ContestRecord, len(up.Contests))
	m.contests[up.StudentID] = cs
	for _, c := range up.Contests {
		c.StudentID = up.StudentID
		c.ContestDate = c.ContestDate.UTC().Truncate(time.Millisecond)
		cs[c.ContestID] = c
	}
	ss := m.subs[up.StudentID]
	if ss == nil {
		ss = make(map[int64]model.SubmissionRecord)
		m.subs[up.StudentID] = ss
	}
	for _, sub := range up.Submissions {
		sub.StudentID = up.StudentID
		sub.SubmittedAt = sub.SubmittedAt.UTC().Truncate(time.Millisecond)
		ss[sub.SubmissionID] = sub
	}

	if up.CurrentRating != nil {
		v := *up.CurrentRating
		st.CurrentRating = &v
	}
	if up.MaxRating != nil {
		v := *up.MaxRating
		st.MaxRating = &v
	}
	at := up.SyncedAt.UTC().Truncate(time.Millisecond)
	st.LastSyncAt = &at
	m.stats[up.StudentID] = up.Stats
	return nil
}

func (m *Memory) ListContests(_ context.Context, studentID string, since time.Time) ([]model.ContestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []model.ContestRecord
	for _, c := range m.contests[studentID] {
		if since.IsZero() || !c.ContestDate.Before(since) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ContestDate.Equal(out[j].ContestDate) {
			return out[i].ContestDate.Before(out[j].ContestDate)
		}
		return out[i].ContestID < out[j].ContestID
	})
	return out, nil
}

func (m *Memory) ListSubmissions(_ context.Context, studentID string, since time.Time) ([]model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []model.SubmissionRecord
	for _, s := range m.subs[studentID] {
		if since.IsZero() || !s.SubmittedAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].SubmissionID < out[j].SubmissionID
	})
	return out, nil
}

func (m *Memory) LastSubmissionAt(_ context.Context, studentID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	var last time.Time
	for _, s := range m.subs[studentID] {
		if s.SubmittedAt.After(last) {
			last = s.SubmittedAt
		}
	}
	return last, !last.IsZero(), nil
}

func (m *Memory) GetStats(_ context.Context, studentID string) (model.ProblemStats, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.ProblemStats{}, false, ErrClosed
	}
	ps, ok := m.stats[studentID]
	return ps, ok, nil
}

func (m *Memory) SetRemindersEnabled(_ context.Context, studentID string, enabled bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	st, ok := m.students[studentID]
	if !ok {
		return false, ErrNotFound
	}
	st.Reminder.Enabled = enabled
	return enabled, nil
}

func (m *Memory) RecordReminderSent(_ context.Context, studentID string, at time.Time) (model.ReminderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.ReminderState{}, ErrClosed
	}
	st, ok := m.students[studentID]
	if !ok {
		return model.ReminderState{}, ErrNotFound
	}
	st.Reminder.Count++
	t := at.UTC().Truncate(time.Millisecond)
	st.Reminder.LastReminderAt = &t
	return cloneStudent(st).Reminder, nil
}

func (m *Memory) AppendSyncRun(_ context.Context, run model.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Report = slices.Clone(run.Report)
	m.runs = append(m.runs, run)
	sort.SliceStable(m.runs, func(i, j int) bool { return m.runs[i].StartedAt.After(m.runs[j].StartedAt) })
	if len(m.runs) > m.runHistory {
		m.runs = m.runs[:m.runHistory]
	}
	return nil
}

func (m *Memory) ListSyncRuns(_ context.Context, limit int) ([]model.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	return slices.Clone(m.runs[:limit]), nil
}

func cloneStudent(st *model.Student) model.Student {
	cp := *st
	if st.CurrentRating != nil {
		v := *st.CurrentRating
		cp.CurrentRating = &v
	}
	if st.MaxRating != nil {
		v := *st.MaxRating
		cp.MaxRating = &v
	}
	if st.LastSyncAt != nil {
		v := *st.LastSyncAt
		cp.LastSyncAt = &v
	}
	if st.Reminder.LastReminderAt != nil {
		v := *st.Reminder.LastReminderAt
		cp.Reminder.LastReminderAt = &v
	}
	return cp
}
