// Package ingest pulls every student's contest and submission history and
// writes it, with derived statistics, in one transaction per student.
package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"cftrack/internal/eventbus"
	"cftrack/internal/model"
	"cftrack/internal/ratingclient"
	"cftrack/internal/stats"
	"cftrack/internal/task/engine"
	logx "cftrack/pkg/logx"
)

type Config struct {
	Workers         int
	FetchTimeout    time.Duration
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	StatsWindowDays int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 20 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.StatsWindowDays <= 0 {
		c.StatsWindowDays = 90
	}
	return c
}

type Pipeline struct {
	cfg   Config
	fetch Fetcher
	store Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
}

func New(cfg Config, fetch Fetcher, store Store, log logx.Logger, bus eventbus.Bus) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{cfg: cfg.withDefaults(), fetch: fetch, store: store, log: log, bus: bus, now: time.Now}
}

func (p *Pipeline) publish(typ string, data any) {
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// Run syncs every student of roster. It never returns early on a
// per-student failure; the report carries one entry per student in roster
// order.
func (p *Pipeline) Run(ctx context.Context, roster []model.Student, trigger string) Report {
	rep := Report{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: p.now(),
		Students:  make([]StudentResult, len(roster)),
	}
	log := p.log.With(logx.String("run", rep.RunID))
	log.Info("sync run started", logx.String("trigger", trigger), logx.Int("students", len(roster)))
	p.publish(eventbus.SyncStarted, rep)

	pool := engine.Pool{Workers: p.cfg.Workers, Log: log}
	errs := pool.Each(ctx, len(roster), func(ctx context.Context, i int, w *engine.Worker) error {
		res, err := p.syncOne(ctx, w, roster[i], rep.StartedAt, log)
		rep.Students[i] = res
		return err
	})

	for i, err := range errs {
		res := &rep.Students[i]
		if res.StudentID == "" {
			// never started (ctx ended) or panicked before filling the result
			res.StudentID = roster[i].ID
			res.Handle = roster[i].Handle
		}
		if err != nil && res.Outcome != OutcomeFailed {
			res.Outcome = OutcomeFailed
			res.Reason = err.Error()
			res.ErrorKind = kindOf(err)
			if errors.Is(err, engine.ErrPanic) {
				res.ErrorKind = KindInternal
			}
		}
		switch res.Outcome {
		case OutcomeSuccess:
			rep.Success++
		case OutcomeSkipped:
			rep.Skipped++
		default:
			rep.Failed++
		}
		p.publish(eventbus.SyncStudent, *res)
	}

	rep.FinishedAt = p.now()
	rep.Duration = rep.FinishedAt.Sub(rep.StartedAt)
	log.Info("sync run finished",
		logx.Int("success", rep.Success),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Duration),
	)
	p.publish(eventbus.SyncFinished, rep)
	return rep
}

func (p *Pipeline) policy(log logx.Logger, op string) engine.RetryPolicy {
	return engine.RetryPolicy{
		Max:       p.cfg.RetryMax,
		Base:      p.cfg.RetryBase,
		MaxDelay:  p.cfg.RetryMaxDelay,
		Timeout:   p.cfg.FetchTimeout,
		Retryable: ratingclient.IsTransient,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Debug("fetch retry", logx.String("op", op), logx.Int("attempt", attempt), logx.Duration("delay", delay), logx.Err(err))
		},
	}
}

// withHint surfaces a FetchError's Retry-After to the retry loop.
func withHint(err error) error {
	var fe *ratingclient.FetchError
	if errors.As(err, &fe) && fe.RetryAfter > 0 {
		return engine.RetryAfter(err, fe.RetryAfter)
	}
	return err
}

func (p *Pipeline) syncOne(ctx context.Context, w *engine.Worker, st model.Student, runStart time.Time, log logx.Logger) (StudentResult, error) {
	res := StudentResult{StudentID: st.ID, Handle: st.Handle}
	handle := strings.TrimSpace(st.Handle)
	if handle == "" {
		res.Outcome = OutcomeSkipped
		res.Reason = "no handle"
		return res, nil
	}
	log = log.With(logx.String("student", st.ID), logx.String("handle", handle))

	fail := func(err error) (StudentResult, error) {
		res.Outcome = OutcomeFailed
		res.ErrorKind = kindOf(err)
		res.Reason = err.Error()
		log.Warn("student sync failed", logx.String("kind", string(res.ErrorKind)), logx.Int("attempts", res.Attempts), logx.Err(err))
		return res, err
	}

	var history []ratingclient.RatingChange
	n, err := w.Retry(ctx, p.policy(log, "user.rating"), func(ctx context.Context) error {
		var e error
		history, e = p.fetch.ContestHistory(ctx, handle)
		return withHint(e)
	})
	res.Attempts += n
	if err != nil {
		return fail(err)
	}

	var subs []ratingclient.Submission
	n, err = w.Retry(ctx, p.policy(log, "user.status"), func(ctx context.Context) error {
		var e error
		subs, e = p.fetch.Submissions(ctx, handle)
		return withHint(e)
	})
	res.Attempts += n
	if err != nil {
		return fail(err)
	}

	up, err := p.buildUpdate(ctx, st.ID, history, subs, runStart)
	if err != nil {
		return fail(&PersistenceError{StudentID: st.ID, Err: err})
	}
	if err := p.store.ApplySync(ctx, up); err != nil {
		return fail(&PersistenceError{StudentID: st.ID, Err: err})
	}

	res.Outcome = OutcomeSuccess
	res.Contests = len(up.Contests)
	res.Submissions = len(up.Submissions)
	log.Debug("student synced", logx.Int("contests", res.Contests), logx.Int("submissions", res.Submissions))
	return res, nil
}

// buildUpdate merges fetched submissions with the stored ones, so statistics
// stay correct when the service returns a truncated submission list. The
// rating history is always complete and replaces the stored contest set.
func (p *Pipeline) buildUpdate(ctx context.Context, id string, history []ratingclient.RatingChange, fetched []ratingclient.Submission, runStart time.Time) (model.SyncUpdate, error) {
	storedSubs, err := p.store.ListSubmissions(ctx, id, time.Time{})
	if err != nil {
		return model.SyncUpdate{}, err
	}
	newSubs := make([]model.SubmissionRecord, 0, len(fetched))
	merged := make(map[int64]model.SubmissionRecord, len(storedSubs)+len(fetched))
	for _, s := range storedSubs {
		merged[s.SubmissionID] = s
	}
	for _, s := range fetched {
		rec := model.SubmissionRecord{
			StudentID:     id,
			SubmissionID:  s.ID,
			ContestID:     s.Problem.ContestID,
			ProblemIndex:  s.Problem.Index,
			ProblemName:   s.Problem.Name,
			ProblemRating: s.Problem.Rating,
			Verdict:       s.Verdict,
			SubmittedAt:   s.SubmittedAt,
		}
		newSubs = append(newSubs, rec)
		merged[rec.SubmissionID] = rec
	}
	all := make([]model.SubmissionRecord, 0, len(merged))
	for _, s := range merged {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SubmissionID < all[j].SubmissionID })
	unsolved := stats.UnsolvedByContest(all)

	contests := make([]model.ContestRecord, 0, len(history))
	for _, h := range history {
		c := model.ContestRecord{
			StudentID:        id,
			ContestID:        h.ContestID,
			ContestName:      h.ContestName,
			Rank:             h.Rank,
			OldRating:        h.OldRating,
			NewRating:        h.NewRating,
			RatingChange:     h.NewRating - h.OldRating,
			ContestDate:      h.UpdatedAt,
			UnsolvedProblems: unsolved[h.ContestID],
		}
		contests = append(contests, c)
	}
	cur, hi := stats.Ratings(contests)

	return model.SyncUpdate{
		StudentID:     id,
		Contests:      contests,
		Submissions:   newSubs,
		CurrentRating: cur,
		MaxRating:     hi,
		SyncedAt:      runStart,
		Stats:         stats.ProblemStats(all, runStart, p.cfg.StatsWindowDays, stats.DefaultBucketWidth),
	}, nil
}
