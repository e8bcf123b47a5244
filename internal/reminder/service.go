package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"cftrack/internal/eventbus"
	"cftrack/internal/mailer"
	"cftrack/internal/model"
	logx "cftrack/pkg/logx"
)

var ErrInFlight = errors.New("reminder already in flight")

// Store is the slice of storage reminders read and write.
type Store interface {
	GetStudent(ctx context.Context, id string) (model.Student, error)
	LastSubmissionAt(ctx context.Context, studentID string) (time.Time, bool, error)
	RecordReminderSent(ctx context.Context, studentID string, at time.Time) (model.ReminderState, error)
	SetRemindersEnabled(ctx context.Context, studentID string, enabled bool) (bool, error)
}

type Config struct {
	Enabled             bool
	InactivityThreshold time.Duration
	Cooldown            time.Duration
	SendTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = 7 * 24 * time.Hour
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 7 * 24 * time.Hour
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

type Result struct {
	StudentID string `json:"student_id"`
	Action    Action `json:"action"`
	Reason    string `json:"reason"`
	Error     string `json:"error,omitempty"`
	Count     int    `json:"reminder_email_count,omitempty"`
}

type Summary struct {
	Sent    int      `json:"sent"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results,omitempty"`
}

type Service struct {
	store  Store
	sender mailer.Sender
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	mu  sync.RWMutex
	cfg Config

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func New(cfg Config, store Store, sender mailer.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sender == nil {
		sender = mailer.Disabled{}
	}
	return &Service{
		store:    store,
		sender:   sender,
		log:      log,
		bus:      bus,
		now:      time.Now,
		cfg:      cfg.withDefaults(),
		inflight: map[string]struct{}{},
	}
}

// Apply swaps thresholds; the next Process call uses them.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetEnabled is the user toggle. It returns the committed flag.
func (s *Service) SetEnabled(ctx context.Context, studentID string, enabled bool) (bool, error) {
	v, err := s.store.SetRemindersEnabled(ctx, studentID, enabled)
	if err != nil {
		return false, err
	}
	s.log.Info("reminders toggled", logx.String("student", studentID), logx.Bool("enabled", v))
	return v, nil
}

// Process evaluates each student and sends what is due. Students are handled
// sequentially; the mailer's rate limit paces them.
func (s *Service) Process(ctx context.Context, studentIDs []string) Summary {
	cfg := s.config()
	var sum Summary
	if !cfg.Enabled {
		s.log.Debug("reminders disabled; skipping", logx.Int("students", len(studentIDs)))
		return sum
	}
	for _, id := range studentIDs {
		if ctx.Err() != nil {
			break
		}
		r := s.processOne(ctx, id, cfg)
		switch {
		case r.Error != "":
			sum.Failed++
		case r.Action == Send:
			sum.Sent++
		default:
			sum.Skipped++
		}
		sum.Results = append(sum.Results, r)
	}
	s.log.Info("reminders processed", logx.Int("sent", sum.Sent), logx.Int("skipped", sum.Skipped), logx.Int("failed", sum.Failed))
	return sum
}

func (s *Service) acquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()
}

func (s *Service) processOne(ctx context.Context, id string, cfg Config) (res Result) {
	res = Result{StudentID: id, Action: Skip}
	log := s.log.With(logx.String("student", id))

	if !s.acquire(id) {
		res.Reason = "in_flight"
		res.Error = ErrInFlight.Error()
		return res
	}
	defer s.release(id)

	// Fresh read: the enable flag may have changed since the roster was listed.
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		res.Error = err.Error()
		log.Warn("reminder: load student failed", logx.Err(err))
		return res
	}
	last, _, err := s.store.LastSubmissionAt(ctx, id)
	if err != nil {
		res.Error = err.Error()
		log.Warn("reminder: load activity failed", logx.Err(err))
		return res
	}

	now := s.now()
	d := Evaluate(st, last, now, Policy{InactivityThreshold: cfg.InactivityThreshold, Cooldown: cfg.Cooldown})
	res.Action, res.Reason = d.Action, d.Reason
	if d.Action == Skip {
		log.Debug("reminder skipped", logx.String("reason", d.Reason))
		return res
	}

	msg, err := buildMessage(st, last, cfg.InactivityThreshold)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err = s.sender.Send(sendCtx, msg)
	cancel()
	if err != nil {
		res.Error = err.Error()
		log.Warn("reminder send failed", logx.Err(err))
		s.publish(eventbus.ReminderFailed, res)
		return res
	}

	state, err := s.store.RecordReminderSent(ctx, id, now)
	if err != nil {
		// mail is out but the counter write failed
		res.Error = err.Error()
		log.Error("reminder sent but not recorded", logx.Err(err))
		s.publish(eventbus.ReminderFailed, res)
		return res
	}
	res.Count = state.Count
	log.Info("reminder sent", logx.String("email", st.Email), logx.Int("count", state.Count))
	s.publish(eventbus.ReminderSent, res)
	return res
}

func (s *Service) publish(typ string, r Result) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: r})
	}
}
