package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cftrack/internal/model"
	"cftrack/internal/ratingclient"
)

// Fetcher reads one handle's history from the rating service.
type Fetcher interface {
	ContestHistory(ctx context.Context, handle string) ([]ratingclient.RatingChange, error)
	Submissions(ctx context.Context, handle string) ([]ratingclient.Submission, error)
}

// Store is the slice of storage the pipeline writes through.
type Store interface {
	ApplySync(ctx context.Context, up model.SyncUpdate) error
	ListSubmissions(ctx context.Context, studentID string, since time.Time) ([]model.SubmissionRecord, error)
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ErrorKind of a failed student. Transient and permanent come from the
// rating client; persistence and internal are raised here.
type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindPermanent   ErrorKind = "permanent"
	KindPersistence ErrorKind = "persistence"
	KindInternal    ErrorKind = "internal"
	KindCanceled    ErrorKind = "canceled"
)

// PersistenceError wraps a store failure for one student.
type PersistenceError struct {
	StudentID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist student %s: %v", e.StudentID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type StudentResult struct {
	StudentID   string    `json:"student_id"`
	Handle      string    `json:"handle,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Attempts    int       `json:"attempts"`
	Contests    int       `json:"contests"`
	Submissions int       `json:"submissions"`
}

type Report struct {
	RunID      string          `json:"run_id"`
	Trigger    string          `json:"trigger"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Duration   time.Duration   `json:"duration_ns"`
	Success    int             `json:"success"`
	Skipped    int             `json:"skipped"`
	Failed     int             `json:"failed"`
	Students   []StudentResult `json:"students"`
}

// Succeeded lists the ids synced in this run.
func (r Report) Succeeded() []string {
	out := make([]string, 0, r.Success)
	for _, s := range r.Students {
		if s.Outcome == OutcomeSuccess {
			out = append(out, s.StudentID)
		}
	}
	return out
}

// ReminderCandidates lists the ids whose stored activity is current enough to
// judge: students synced in this run and students without a handle, whose
// last activity falls back to their creation time.
func (r Report) ReminderCandidates() []string {
	out := make([]string, 0, r.Success+r.Skipped)
	for _, s := range r.Students {
		if s.Outcome == OutcomeSuccess || s.Outcome == OutcomeSkipped {
			out = append(out, s.StudentID)
		}
	}
	return out
}

// SyncRun is the stored summary of r.
func (r Report) SyncRun(encoded []byte) model.SyncRun {
	return model.SyncRun{
		ID:         r.RunID,
		Trigger:    r.Trigger,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Success:    r.Success,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Report:     encoded,
	}
}

func kindOf(err error) ErrorKind {
	var pe *PersistenceError
	switch {
	case errors.As(err, &pe):
		return KindPersistence
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	switch ratingclient.KindOf(err) {
	case ratingclient.Transient:
		return KindTransient
	case ratingclient.Permanent:
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindInternal
}
