package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cftrack/internal/cronspec"
	logx "cftrack/pkg/logx"
)

// Validate checks values that would otherwise fail late (at arm time, at
// first request). All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.idle_timeout", cfg.HTTP.IdleTimeout)
	if bp := strings.TrimSpace(cfg.HTTP.BasePath); bp != "" && !strings.HasPrefix(bp, "/") {
		add(fmt.Errorf("http.base_path: must start with '/'"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "memory":
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(errors.New("storage.dsn: required for postgres"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if s := strings.TrimSpace(cfg.Sync.DefaultSchedule); s != "" {
		add(cronspec.Validate(s))
	}
	if tz := strings.TrimSpace(cfg.Sync.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("sync.timezone: %w", err))
		}
	}
	if cfg.Sync.Workers < 0 {
		add(errors.New("sync.workers: must be >= 0"))
	}
	if cfg.Sync.RetryMax < 0 {
		add(errors.New("sync.retry_max: must be >= 0"))
	}
	if cfg.Sync.StatsWindowDays < 0 {
		add(errors.New("sync.stats_window_days: must be >= 0"))
	}
	dur("sync.fetch_timeout", cfg.Sync.FetchTimeout)
	dur("sync.retry_base", cfg.Sync.RetryBase)
	dur("sync.retry_max_delay", cfg.Sync.RetryMaxDelay)

	if u := strings.TrimSpace(cfg.RatingService.BaseURL); u != "" {
		if pu, err := url.Parse(u); err != nil || pu.Scheme == "" || pu.Host == "" {
			add(fmt.Errorf("rating_service.base_url: invalid url %q", u))
		}
	}
	if cfg.RatingService.RatePerSec < 0 {
		add(errors.New("rating_service.rate_per_sec: must be >= 0"))
	}

	dur("reminder.inactivity_threshold", cfg.Reminder.InactivityThreshold)
	dur("reminder.cooldown", cfg.Reminder.Cooldown)
	dur("reminder.send_timeout", cfg.Reminder.SendTimeout)
	if cfg.Mail.RatePerSec < 0 {
		add(errors.New("mail.rate_per_sec: must be >= 0"))
	}

	return errors.Join(errs...)
}
