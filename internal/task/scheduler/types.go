package scheduler

import (
	"context"
	"errors"
	"time"

	"cftrack/internal/model"
)

var (
	ErrRunning    = errors.New("sync already running")
	ErrStopped    = errors.New("scheduler stopped")
	ErrNotStarted = errors.New("scheduler not started")
)

type State string

const (
	StateIdle    State = "idle"
	StateArmed   State = "armed"
	StateRunning State = "running"
)

// Trigger names what started a run.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Job is one sync run. ctx is cancelled only when shutdown gives up waiting.
type Job func(ctx context.Context, trigger string)

// ConfigStore persists the schedule. The scheduler is its only writer.
type ConfigStore interface {
	EnsureSyncConfig(ctx context.Context, def model.SyncConfig) (model.SyncConfig, error)
	PutSyncConfig(ctx context.Context, cfg model.SyncConfig) (model.SyncConfig, error)
}

type Config struct {
	// Timezone is an IANA name; empty means the process local zone.
	Timezone string
	// Default seeds the store on first boot.
	Default model.SyncConfig
}

// Snapshot is a point-in-time view for the REST status endpoint.
type Snapshot struct {
	State          State      `json:"state"`
	Expression     string     `json:"schedule_expression"`
	Enabled        bool       `json:"enabled"`
	Timezone       string     `json:"timezone"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastStartedAt  *time.Time `json:"last_started_at,omitempty"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty"`
	LastTrigger    string     `json:"last_trigger,omitempty"`
	Runs           uint64     `json:"runs"`
}
