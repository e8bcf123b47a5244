package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"cftrack/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

type Config struct {
	Driver      string
	Path        string // sqlite
	DSN         string // postgres
	BusyTimeout time.Duration
	// RunHistory caps stored sync run summaries; 0 keeps 50.
	RunHistory int
}

// Store is the full persistence API. Consumers depend on the narrower
// interfaces they declare themselves.
type Store interface {
	EnsureSyncConfig(ctx context.Context, def model.SyncConfig) (model.SyncConfig, error)
	GetSyncConfig(ctx context.Context) (model.SyncConfig, error)
	PutSyncConfig(ctx context.Context, cfg model.SyncConfig) (model.SyncConfig, error)

	PutStudent(ctx context.Context, st model.Student) (model.Student, error)
	GetStudent(ctx context.Context, id string) (model.Student, error)
	ListStudents(ctx context.Context) ([]model.Student, error)

	ApplySync(ctx context.Context, up model.SyncUpdate) error
	ListContests(ctx context.Context, studentID string, since time.Time) ([]model.ContestRecord, error)
	ListSubmissions(ctx context.Context, studentID string, since time.Time) ([]model.SubmissionRecord, error)
	LastSubmissionAt(ctx context.Context, studentID string) (time.Time, bool, error)
	GetStats(ctx context.Context, studentID string) (model.ProblemStats, bool, error)

	SetRemindersEnabled(ctx context.Context, studentID string, enabled bool) (bool, error)
	RecordReminderSent(ctx context.Context, studentID string, at time.Time) (model.ReminderState, error)

	AppendSyncRun(ctx context.Context, run model.SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)

	Close() error
}

const defaultRunHistory = 50

var (
	_ Store = (*sqlStore)(nil)
	_ Store = (*Memory)(nil)
)

// handleChanged reports whether an update points the student at a different
// rating account. Handles compare case-insensitively.
func handleChanged(prev, next string) bool {
	return !strings.EqualFold(strings.TrimSpace(prev), strings.TrimSpace(next))
}
