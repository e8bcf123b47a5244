package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cftrack/internal/cronspec"
	"cftrack/internal/eventbus"
	"cftrack/internal/model"
	logx "cftrack/pkg/logx"
)

type Option func(*Service)

// WithClock replaces time.Now for computing fire instants.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

type Service struct {
	cfg   Config
	loc   *time.Location
	store ConfigStore
	job   Job
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	// applyMu orders Apply calls so the stored and the armed schedule agree.
	applyMu sync.Mutex

	// mu guards everything below: the one timer handle, its version and the
	// schedule it was computed from.
	mu      sync.Mutex
	current model.SyncConfig
	sched   cron.Schedule
	state   State
	timer   *time.Timer
	ver     uint64
	next    time.Time
	// fired is the last scheduled instant that started a run.
	fired   time.Time
	started bool
	stopped bool

	lastStart  time.Time
	lastFinish time.Time
	lastTrig   string
	runCount   uint64

	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup
}

func New(cfg Config, store ConfigStore, job Job, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Default.Expression) == "" {
		cfg.Default = model.SyncConfig{Expression: model.DefaultSchedule, Enabled: true}
	}
	s := &Service{cfg: cfg, store: store, job: job, log: log, bus: bus, now: time.Now, state: StateIdle}
	for _, o := range opts {
		o(s)
	}
	s.loc = loadLocation(cfg.Timezone, log)
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start loads the stored schedule (seeding the default on first boot) and
// arms the timer.
func (s *Service) Start(ctx context.Context) error {
	cfg, err := s.store.EnsureSyncConfig(ctx, s.cfg.Default)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.setConfigLocked(cfg)
	s.rearmLocked()
	s.log.Info("scheduler started",
		logx.String("expr", cfg.Expression),
		logx.Bool("enabled", cfg.Enabled),
		logx.String("tz", s.loc.String()),
	)
	return nil
}

// Apply validates, persists and arms a new schedule. While a run is in
// flight the new schedule is stored but armed only once the run finishes.
func (s *Service) Apply(ctx context.Context, cfg model.SyncConfig) (model.SyncConfig, error) {
	cfg.Expression = strings.TrimSpace(cfg.Expression)
	if _, err := cronspec.Parse(cfg.Expression); err != nil {
		return model.SyncConfig{}, err
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = s.now()
	}
	stored, err := s.store.PutSyncConfig(ctx, cfg)
	if err != nil {
		return model.SyncConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigLocked(stored)
	if s.state == StateRunning {
		s.log.Info("schedule updated during run; re-arm deferred", logx.String("expr", stored.Expression), logx.Bool("enabled", stored.Enabled))
		return stored, nil
	}
	s.rearmLocked()
	return stored, nil
}

func (s *Service) setConfigLocked(cfg model.SyncConfig) {
	s.current = cfg
	sched, err := cronspec.Parse(cfg.Expression)
	if err != nil {
		s.log.Error("stored schedule is invalid; sync will not be armed", logx.String("expr", cfg.Expression), logx.Err(err))
		s.sched = nil
		return
	}
	s.sched = sched
}

// rearmLocked cancels any pending timer and, when enabled, arms exactly one
// new timer for the first instant strictly after both now and the last fired
// instant, so a clock stepping backwards cannot repeat an instant. Bumping ver
// makes any callback of the old timer that already started a no-op.
func (s *Service) rearmLocked() {
	s.stopTimerLocked()
	s.next = time.Time{}
	s.state = StateIdle

	if !s.started || s.stopped || !s.current.Enabled || s.sched == nil {
		s.log.Debug("scheduler idle", logx.Bool("enabled", s.current.Enabled))
		return
	}

	now := s.now().In(s.loc)
	from := now
	if s.fired.After(from) {
		from = s.fired.In(s.loc)
	}
	next := s.sched.Next(from)
	if next.IsZero() {
		s.log.Warn("schedule has no future instant", logx.String("expr", s.current.Expression))
		return
	}
	ver := s.ver
	s.timer = time.AfterFunc(next.Sub(now), func() { s.fire(ver) })
	s.next = next
	s.state = StateArmed

	s.log.Info("sync armed", logx.String("expr", s.current.Expression), logx.Time("next", next), logx.Duration("in", next.Sub(now)))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.ScheduleArmed, Data: next})
	}
}

func (s *Service) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.ver++
}

func (s *Service) fire(ver uint64) {
	s.mu.Lock()
	if ver != s.ver || s.state != StateArmed || s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.fired = s.next
	s.beginRunLocked(TriggerSchedule)
	s.mu.Unlock()

	s.execute(TriggerSchedule)
}

// TriggerNow starts a run immediately unless one is in flight. The pending
// timer is cancelled and re-armed after the run.
func (s *Service) TriggerNow() error {
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return ErrStopped
	case !s.started:
		s.mu.Unlock()
		return ErrNotStarted
	case s.state == StateRunning:
		s.mu.Unlock()
		return ErrRunning
	}
	s.stopTimerLocked()
	s.beginRunLocked(TriggerManual)
	s.mu.Unlock()

	go s.execute(TriggerManual)
	return nil
}

func (s *Service) beginRunLocked(trigger string) {
	s.state = StateRunning
	s.next = time.Time{}
	s.lastStart = s.now()
	s.lastTrig = trigger
	s.runCount++
	s.inflight.Add(1)
}

func (s *Service) execute(trigger string) {
	defer s.inflight.Done()
	defer s.finishRun()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sync run panicked", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 24)))
		}
	}()
	s.log.Debug("sync run starting", logx.String("trigger", trigger))
	s.job(s.runCtx, trigger)
}

func (s *Service) finishRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFinish = s.now()
	s.rearmLocked()
}

// Stop cancels the timer and waits for an in-flight run. If ctx ends first
// the run's context is cancelled and ctx.Err is returned.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.stopTimerLocked()
	if s.state == StateArmed {
		s.state = StateIdle
	}
	s.next = time.Time{}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.runCancel()
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.runCancel()
		return ctx.Err()
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Snapshot{
		State:       s.state,
		Expression:  s.current.Expression,
		Enabled:     s.current.Enabled,
		Timezone:    s.loc.String(),
		LastTrigger: s.lastTrig,
		Runs:        s.runCount,
	}
	if !s.next.IsZero() {
		t := s.next
		st.NextRunAt = &t
	}
	if !s.lastStart.IsZero() {
		t := s.lastStart
		st.LastStartedAt = &t
	}
	if !s.lastFinish.IsZero() {
		t := s.lastFinish
		st.LastFinishedAt = &t
	}
	return st
}

// Current returns the schedule the scheduler is working from.
func (s *Service) Current() model.SyncConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
