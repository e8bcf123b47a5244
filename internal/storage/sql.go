package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cftrack/internal/model"
	logx "cftrack/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlStore implements Store on database/sql for every SQL dialect.
type sqlStore struct {
	db         *sql.DB
	d          dialect
	log        logx.Logger
	runHistory int
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.d.migrations)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("%s migrate: %w", s.d.name, err)
	}
	return nil
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- sync config ----

func (s *sqlStore) EnsureSyncConfig(ctx context.Context, def model.SyncConfig) (model.SyncConfig, error) {
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO sync_config(id, expression, enabled, updated_at) VALUES(1, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		def.Expression, def.Enabled, def.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return model.SyncConfig{}, err
	}
	return s.GetSyncConfig(ctx)
}

func (s *sqlStore) GetSyncConfig(ctx context.Context) (model.SyncConfig, error) {
	var (
		cfg model.SyncConfig
		ms  int64
	)
	err := s.queryRow(ctx, `SELECT expression, enabled, updated_at FROM sync_config WHERE id = 1`).
		Scan(&cfg.Expression, &cfg.Enabled, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncConfig{}, ErrNotFound
	}
	if err != nil {
		return model.SyncConfig{}, err
	}
	cfg.UpdatedAt = fromMillis(ms)
	return cfg, nil
}

func (s *sqlStore) PutSyncConfig(ctx context.Context, cfg model.SyncConfig) (model.SyncConfig, error) {
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO sync_config(id, expression, enabled, updated_at) VALUES(1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET expression = excluded.expression, enabled = excluded.enabled, updated_at = excluded.updated_at`,
		cfg.Expression, cfg.Enabled, cfg.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return model.SyncConfig{}, err
	}
	return s.GetSyncConfig(ctx)
}

// ---- students ----

const studentColumns = `id, name, email, phone, cf_handle, current_rating, max_rating, last_sync_at, created_at,
	reminders_enabled, reminder_email_count, last_reminder_at`

type scanner interface{ Scan(dest ...any) error }

func scanStudent(r scanner) (model.Student, error) {
	var (
		st                   model.Student
		phone, handle        sql.NullString
		cur, maxR            sql.NullInt64
		lastSync, lastRemind sql.NullInt64
		created              int64
	)
	err := r.Scan(&st.ID, &st.Name, &st.Email, &phone, &handle, &cur, &maxR, &lastSync, &created,
		&st.Reminder.Enabled, &st.Reminder.Count, &lastRemind)
	if err != nil {
		return model.Student{}, err
	}
	st.Phone = phone.String
	st.Handle = handle.String
	st.CurrentRating = nullInt(cur)
	st.MaxRating = nullInt(maxR)
	st.LastSyncAt = nullMillis(lastSync)
	st.CreatedAt = fromMillis(created)
	st.Reminder.LastReminderAt = nullMillis(lastRemind)
	return st, nil
}

// PutStudent inserts or updates the profile fields of a student. Ratings,
// sync time and reminder counters are owned by ingestion and reminders and
// are not touched on update, except that a handle change drops the previous
// account's contests, submissions, stats and ratings. New students start with
// reminders enabled.
func (s *sqlStore) PutStudent(ctx context.Context, st model.Student) (_ model.Student, err error) {
	if strings.TrimSpace(st.ID) == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Student{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	exec := func(q string, args ...any) error {
		_, e := tx.ExecContext(ctx, s.d.rebind(q), args...)
		return e
	}

	var prev sql.NullString
	err = tx.QueryRowContext(ctx, s.d.rebind(`SELECT cf_handle FROM students WHERE id = ?`), st.ID).Scan(&prev)
	existed := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.Student{}, err
	}

	err = exec(`INSERT INTO students(id, name, email, phone, cf_handle, created_at, reminders_enabled)
		 VALUES(?, ?, ?, ?, ?, ?, TRUE)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email,
		   phone = excluded.phone, cf_handle = excluded.cf_handle`,
		st.ID, st.Name, st.Email, nullStr(st.Phone), nullStr(st.Handle), st.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return model.Student{}, err
	}

	if existed && handleChanged(prev.String, st.Handle) {
		for _, q := range []string{
			`DELETE FROM contests WHERE student_id = ?`,
			`DELETE FROM submissions WHERE student_id = ?`,
			`DELETE FROM student_stats WHERE student_id = ?`,
			`UPDATE students SET current_rating = NULL, max_rating = NULL, last_sync_at = NULL WHERE id = ?`,
		} {
			if err = exec(q, st.ID); err != nil {
				return model.Student{}, fmt.Errorf("reset history: %w", err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return model.Student{}, err
	}
	return s.GetStudent(ctx, st.ID)
}

func (s *sqlStore) GetStudent(ctx context.Context, id string) (model.Student, error) {
	st, err := scanStudent(s.queryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Student{}, ErrNotFound
	}
	return st, err
}

func (s *sqlStore) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := s.query(ctx, `SELECT `+studentColumns+` FROM students ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ---- ingestion ----

// ApplySync writes one student's ingestion result in a single transaction.
func (s *sqlStore) ApplySync(ctx context.Context, up model.SyncUpdate) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	exec := func(q string, args ...any) error {
		_, e := tx.ExecContext(ctx, s.d.rebind(q), args...)
		return e
	}

	var exists int
	if err = tx.QueryRowContext(ctx, s.d.rebind(`SELECT 1 FROM students WHERE id = ?`), up.StudentID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotFound
		}
		return err
	}

	if err = exec(`DELETE FROM contests WHERE student_id = ?`, up.StudentID); err != nil {
		return fmt.Errorf("clear contests: %w", err)
	}
	for _, c := range up.Contests {
		err = exec(`INSERT INTO contests(student_id, contest_id, contest_name, rank, old_rating, new_rating, rating_change, contest_date, unsolved_problems)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(student_id, contest_id) DO UPDATE SET contest_name = excluded.contest_name, rank = excluded.rank,
			  old_rating = excluded.old_rating, new_rating = excluded.new_rating, rating_change = excluded.rating_change,
			  contest_date = excluded.contest_date, unsolved_problems = excluded.unsolved_problems`,
			up.StudentID, c.ContestID, c.ContestName, c.Rank, c.OldRating, c.NewRating, c.RatingChange,
			c.ContestDate.UnixMilli(), c.UnsolvedProblems)
		if err != nil {
			return fmt.Errorf("upsert contest %d: %w", c.ContestID, err)
		}
	}
	for _, sub := range up.Submissions {
		err = exec(`INSERT INTO submissions(student_id, submission_id, contest_id, problem_index, problem_name, problem_rating, verdict, submitted_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(student_id, submission_id) DO UPDATE SET verdict = excluded.verdict,
			  problem_rating = excluded.problem_rating, problem_name = excluded.problem_name`,
			up.StudentID, sub.SubmissionID, sub.ContestID, sub.ProblemIndex, sub.ProblemName, sub.ProblemRating,
			sub.Verdict, sub.SubmittedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("upsert submission %d: %w", sub.SubmissionID, err)
		}
	}

	err = exec(`UPDATE students SET current_rating = COALESCE(?, current_rating), max_rating = COALESCE(?, max_rating),
		last_sync_at = ? WHERE id = ?`,
		ptrInt(up.CurrentRating), ptrInt(up.MaxRating), up.SyncedAt.UnixMilli(), up.StudentID)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}

	payload, err := json.Marshal(up.Stats)
	if err != nil {
		return err
	}
	err = exec(`INSERT INTO student_stats(student_id, window_days, computed_at, payload) VALUES(?, ?, ?, ?)
		ON CONFLICT(student_id) DO UPDATE SET window_days = excluded.window_days,
		  computed_at = excluded.computed_at, payload = excluded.payload`,
		up.StudentID, up.Stats.WindowDays, up.Stats.ComputedAt.UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) ListContests(ctx context.Context, studentID string, since time.Time) ([]model.ContestRecord, error) {
	rows, err := s.query(ctx,
		`SELECT contest_id, contest_name, rank, old_rating, new_rating, rating_change, contest_date, unsolved_problems
		 FROM contests WHERE student_id = ? AND contest_date >= ? ORDER BY contest_date, contest_id`,
		studentID, sinceMillis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ContestRecord
	for rows.Next() {
		c := model.ContestRecord{StudentID: studentID}
		var ms int64
		if err := rows.Scan(&c.ContestID, &c.ContestName, &c.Rank, &c.OldRating, &c.NewRating, &c.RatingChange, &ms, &c.UnsolvedProblems); err != nil {
			return nil, err
		}
		c.ContestDate = fromMillis(ms)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListSubmissions(ctx context.Context, studentID string, since time.Time) ([]model.SubmissionRecord, error) {
	rows, err := s.query(ctx,
		`SELECT submission_id, contest_id, problem_index, problem_name, problem_rating, verdict, submitted_at
		 FROM submissions WHERE student_id = ? AND submitted_at >= ? ORDER BY submitted_at, submission_id`,
		studentID, sinceMillis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SubmissionRecord
	for rows.Next() {
		sub := model.SubmissionRecord{StudentID: studentID}
		var ms int64
		if err := rows.Scan(&sub.SubmissionID, &sub.ContestID, &sub.ProblemIndex, &sub.ProblemName, &sub.ProblemRating, &sub.Verdict, &ms); err != nil {
			return nil, err
		}
		sub.SubmittedAt = fromMillis(ms)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqlStore) LastSubmissionAt(ctx context.Context, studentID string) (time.Time, bool, error) {
	var ms sql.NullInt64
	if err := s.queryRow(ctx, `SELECT MAX(submitted_at) FROM submissions WHERE student_id = ?`, studentID).Scan(&ms); err != nil {
		return time.Time{}, false, err
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(ms.Int64), true, nil
}

func (s *sqlStore) GetStats(ctx context.Context, studentID string) (model.ProblemStats, bool, error) {
	var payload string
	err := s.queryRow(ctx, `SELECT payload FROM student_stats WHERE student_id = ?`, studentID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProblemStats{}, false, nil
	}
	if err != nil {
		return model.ProblemStats{}, false, err
	}
	var ps model.ProblemStats
	if err := json.Unmarshal([]byte(payload), &ps); err != nil {
		return model.ProblemStats{}, false, fmt.Errorf("decode stats: %w", err)
	}
	return ps, true, nil
}

// ---- reminders ----

func (s *sqlStore) SetRemindersEnabled(ctx context.Context, studentID string, enabled bool) (bool, error) {
	var got bool
	err := s.queryRow(ctx, `UPDATE students SET reminders_enabled = ? WHERE id = ? RETURNING reminders_enabled`,
		enabled, studentID).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return got, err
}

// RecordReminderSent increments the counter in a single statement so
// concurrent callers never lose an increment.
func (s *sqlStore) RecordReminderSent(ctx context.Context, studentID string, at time.Time) (model.ReminderState, error) {
	var (
		rs model.ReminderState
		ms sql.NullInt64
	)
	err := s.queryRow(ctx,
		`UPDATE students SET reminder_email_count = reminder_email_count + 1, last_reminder_at = ?
		 WHERE id = ? RETURNING reminders_enabled, reminder_email_count, last_reminder_at`,
		at.UnixMilli(), studentID).Scan(&rs.Enabled, &rs.Count, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReminderState{}, ErrNotFound
	}
	if err != nil {
		return model.ReminderState{}, err
	}
	rs.LastReminderAt = nullMillis(ms)
	return rs, nil
}

// ---- run history ----

func (s *sqlStore) AppendSyncRun(ctx context.Context, run model.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.exec(ctx,
		`INSERT INTO sync_runs(id, run_trigger, started_at, finished_at, success, skipped, failed, report)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Trigger, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.Success, run.Skipped, run.Failed, nullStr(string(run.Report)))
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`DELETE FROM sync_runs WHERE id NOT IN (SELECT id FROM sync_runs ORDER BY started_at DESC LIMIT ?)`,
		s.runHistory)
	return err
}

func (s *sqlStore) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = s.runHistory
	}
	rows, err := s.query(ctx,
		`SELECT id, run_trigger, started_at, finished_at, success, skipped, failed, report
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SyncRun
	for rows.Next() {
		var (
			r        model.SyncRun
			st, fin  int64
			reportJS sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Trigger, &st, &fin, &r.Success, &r.Skipped, &r.Failed, &reportJS); err != nil {
			return nil, err
		}
		r.StartedAt, r.FinishedAt = fromMillis(st), fromMillis(fin)
		if reportJS.Valid {
			r.Report = []byte(reportJS.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- helpers ----

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func sinceMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func ptrInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
