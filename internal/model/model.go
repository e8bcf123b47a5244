// Package model holds the persisted records shared by storage, ingestion,
// reminders and the REST layer.
package model

import (
	"strconv"
	"time"
)

// SyncConfig is the singleton schedule for the ingestion run.
type SyncConfig struct {
	Expression string    `json:"schedule_expression"`
	Enabled    bool      `json:"enabled"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DefaultSchedule is used when no SyncConfig has been stored yet.
const DefaultSchedule = "0 2 * * *"

type ReminderState struct {
	Enabled        bool       `json:"reminders_enabled"`
	Count          int        `json:"reminder_email_count"`
	LastReminderAt *time.Time `json:"last_reminder_at,omitempty"`
}

type Student struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone,omitempty"`
	Handle        string     `json:"cf_handle,omitempty"`
	CurrentRating *int       `json:"current_rating,omitempty"`
	MaxRating     *int       `json:"max_rating,omitempty"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	Reminder ReminderState `json:"reminder"`
}

// ContestRecord is one rated contest of a student, unique per
// (StudentID, ContestID).
type ContestRecord struct {
	StudentID        string    `json:"-"`
	ContestID        int       `json:"contest_id"`
	ContestName      string    `json:"contest_name"`
	Rank             int       `json:"rank"`
	OldRating        int       `json:"old_rating"`
	NewRating        int       `json:"new_rating"`
	RatingChange     int       `json:"rating_change"`
	ContestDate      time.Time `json:"contest_date"`
	UnsolvedProblems int       `json:"unsolved_problems"`
}

// VerdictOK marks an accepted submission.
const VerdictOK = "OK"

// SubmissionRecord is one submission of a student, unique per
// (StudentID, SubmissionID).
type SubmissionRecord struct {
	StudentID     string    `json:"-"`
	SubmissionID  int64     `json:"submission_id"`
	ContestID     int       `json:"contest_id"`
	ProblemIndex  string    `json:"problem_index"`
	ProblemName   string    `json:"problem_name"`
	ProblemRating int       `json:"problem_rating,omitempty"`
	Verdict       string    `json:"verdict"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// ProblemKey identifies a problem across submissions.
func (s SubmissionRecord) ProblemKey() string {
	return strconv.Itoa(s.ContestID) + "/" + s.ProblemIndex
}

type SolvedProblem struct {
	ContestID    int    `json:"contest_id"`
	ProblemIndex string `json:"problem_index"`
	Name         string `json:"name"`
	Rating       int    `json:"rating"`
}

// ProblemStats are derived from submissions inside a window of WindowDays.
type ProblemStats struct {
	MostDifficult     *SolvedProblem `json:"most_difficult"`
	TotalSolved       int            `json:"total_solved"`
	AvgRating         float64        `json:"avg_rating"`
	AvgProblemsPerDay float64        `json:"avg_problems_per_day"`
	RatingBuckets     map[string]int `json:"problems_per_rating_bucket"`
	Heatmap           map[string]int `json:"submission_heatmap"`
	WindowDays        int            `json:"window_days"`
	ComputedAt        time.Time      `json:"computed_at"`
}

// SyncUpdate is everything one successful per-student ingestion writes. It is
// applied atomically. Contests is the complete rating history and replaces the
// stored set; Submissions are upserted.
type SyncUpdate struct {
	StudentID     string
	Contests      []ContestRecord
	Submissions   []SubmissionRecord
	CurrentRating *int
	MaxRating     *int
	SyncedAt      time.Time
	Stats         ProblemStats
}

// SyncRun is the stored summary of one ingestion run.
type SyncRun struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    int       `json:"success"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	// Report is the JSON-encoded full report.
	Report []byte `json:"-"`
}
