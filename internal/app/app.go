package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"cftrack/internal/config"
	"cftrack/internal/eventbus"
	"cftrack/internal/httpapi"
	"cftrack/internal/ingest"
	"cftrack/internal/mailer"
	"cftrack/internal/metrics"
	"cftrack/internal/ratingclient"
	"cftrack/internal/reminder"
	rtsup "cftrack/internal/runtime/supervisor"
	"cftrack/internal/storage"
	"cftrack/internal/task/scheduler"
	logx "cftrack/pkg/logx"
)

const runRecordTimeout = 10 * time.Second

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	rating    *ratingclient.Client
	pipe      *ingest.Pipeline
	mail      mailer.Sender
	reminders *reminder.Service
	sched     *scheduler.Service
	metrics   *metrics.Metrics
	http      *httpapi.Server
}

// syncRecord is the report stored per run: the ingestion report plus the
// reminder pass that followed it.
type syncRecord struct {
	ingest.Report
	Reminders *reminder.Summary `json:"reminders,omitempty"`
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
	}
	if err := a.build(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	rating, err := ratingclient.New(mapRatingConfig(cfg), &http.Client{}, a.log.With(logx.String("comp", "ratingclient")))
	if err != nil {
		return err
	}
	a.rating = rating

	icfg, err := mapIngestConfig(cfg)
	if err != nil {
		return err
	}
	a.pipe = ingest.New(icfg, rating, a.store, a.log.With(logx.String("comp", "ingest")), a.bus)

	a.mail, err = mailer.New(context.Background(), mapMailConfig(cfg), a.log.With(logx.String("comp", "mailer")))
	if err != nil {
		return err
	}

	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		return err
	}
	a.reminders = reminder.New(rcfg, a.store, a.mail, a.log.With(logx.String("comp", "reminder")), a.bus)

	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.store, a.runSync, a.log.With(logx.String("comp", "scheduler")), a.bus)

	a.metrics = metrics.New(func() uint64 { return eventbus.Dropped(a.bus) })

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return err
	}
	api := httpapi.NewAPI(httpapi.Deps{
		Scheduler: a.sched,
		Store:     a.store,
		Reminders: a.reminders,
		Metrics:   a.metrics,
		Health:    a.Err,
	}, a.log.With(logx.String("comp", "httpapi")))
	a.http = httpapi.NewServer(srvCfg, api, a.log.With(logx.String("comp", "http")))
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// runSync is the scheduled job: ingest the roster, then evaluate reminders
// for the students that synced or have no handle, then record the run.
func (a *App) runSync(ctx context.Context, trigger string) {
	roster, err := a.store.ListStudents(ctx)
	if err != nil {
		a.log.Error("sync aborted: list students", logx.Err(err), logx.String("trigger", trigger))
		return
	}

	rep := a.pipe.Run(ctx, roster, trigger)
	rec := syncRecord{Report: rep}
	if ids := rep.ReminderCandidates(); len(ids) > 0 && ctx.Err() == nil {
		sum := a.reminders.Process(ctx, ids)
		rec.Reminders = &sum
		if sum.Sent > 0 || sum.Failed > 0 {
			a.log.Info("reminders processed",
				logx.String("run_id", rep.RunID),
				logx.Int("sent", sum.Sent),
				logx.Int("skipped", sum.Skipped),
				logx.Int("failed", sum.Failed),
			)
		}
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		a.log.Error("encode sync report failed", logx.Err(err), logx.String("run_id", rep.RunID))
		encoded = nil
	}
	// recorded even when the run was canceled by shutdown
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runRecordTimeout)
	defer cancel()
	if err := a.store.AppendSyncRun(rctx, rep.SyncRun(encoded)); err != nil {
		a.log.Error("record sync run failed", logx.Err(err), logx.String("run_id", rep.RunID))
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		return validateMapped(cfg)
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.http.Start(a.sup.Context())

	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level; sync.student fires once per student.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch, attrs := config.Diff(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if ch.Has("logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if ch.Has("reminder") {
		if rc, err := mapReminderConfig(next); err != nil {
			a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
		} else {
			a.reminders.Apply(rc)
		}
	}
	if ch.Has("rating_service") {
		if err := a.rating.Apply(mapRatingConfig(next)); err != nil {
			a.log.Warn("invalid rating_service config; keeping previous", logx.Err(err))
		}
	}
	if ch.Has("http") {
		if sc, err := mapServerConfig(next); err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else {
			a.http.Reconfigure(ctx, sc)
		}
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.Restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// The scheduler goes first so an in-flight run can still write its results.
	step("scheduler", 10*time.Second, a.sched.Stop)
	step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	// Wait for supervised goroutines (config watch/reload, metrics, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
