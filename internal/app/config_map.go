package app

import (
	"strings"
	"time"

	"cftrack/internal/config"
	"cftrack/internal/httpapi"
	"cftrack/internal/ingest"
	"cftrack/internal/mailer"
	"cftrack/internal/model"
	"cftrack/internal/ratingclient"
	"cftrack/internal/reminder"
	"cftrack/internal/storage"
	"cftrack/internal/task/scheduler"
	logx "cftrack/pkg/logx"
)

const defaultDBPath = "./cftrack.db"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	out := storage.Config{
		Driver:     driver,
		Path:       strings.TrimSpace(sc.Path),
		DSN:        strings.TrimSpace(sc.DSN),
		RunHistory: cfg.Sync.HistorySize,
	}
	if driver == "sqlite" || driver == "sqlite3" {
		if out.Path == "" {
			out.Path = defaultDBPath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	}
	return out, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.ServerConfig, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.ServerConfig{}, err
	}
	return httpapi.ServerConfig{
		Addr:         strings.TrimSpace(hc.Addr),
		BasePath:     hc.BasePath,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		Metrics:      hc.Metrics,
		Pprof:        hc.Pprof,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	expr := strings.TrimSpace(cfg.Sync.DefaultSchedule)
	if expr == "" {
		expr = model.DefaultSchedule
	}
	return scheduler.Config{
		Timezone: strings.TrimSpace(cfg.Sync.Timezone),
		Default:  model.SyncConfig{Expression: expr, Enabled: true},
	}
}

func mapIngestConfig(cfg *config.Config) (ingest.Config, error) {
	sc := cfg.Sync
	fetch, err := config.ParseDurationField("sync.fetch_timeout", sc.FetchTimeout)
	if err != nil {
		return ingest.Config{}, err
	}
	base, err := config.ParseDurationField("sync.retry_base", sc.RetryBase)
	if err != nil {
		return ingest.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("sync.retry_max_delay", sc.RetryMaxDelay)
	if err != nil {
		return ingest.Config{}, err
	}
	// zero values fall back to the pipeline defaults
	return ingest.Config{
		Workers:         sc.Workers,
		FetchTimeout:    fetch,
		RetryMax:        sc.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		StatsWindowDays: sc.StatsWindowDays,
	}, nil
}

func mapRatingConfig(cfg *config.Config) ratingclient.Config {
	rc := cfg.RatingService
	return ratingclient.Config{
		BaseURL:         strings.TrimSpace(rc.BaseURL),
		RatePerSec:      rc.RatePerSec,
		Burst:           rc.Burst,
		UserAgent:       strings.TrimSpace(rc.UserAgent),
		SubmissionLimit: rc.SubmissionLimit,
	}
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminder
	threshold, err := config.ParseDurationField("reminder.inactivity_threshold", rc.InactivityThreshold)
	if err != nil {
		return reminder.Config{}, err
	}
	cooldown, err := config.ParseDurationField("reminder.cooldown", rc.Cooldown)
	if err != nil {
		return reminder.Config{}, err
	}
	send, err := config.ParseDurationField("reminder.send_timeout", rc.SendTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Enabled:             rc.Enabled,
		InactivityThreshold: threshold,
		Cooldown:            cooldown,
		SendTimeout:         send,
	}, nil
}

func mapMailConfig(cfg *config.Config) mailer.Config {
	mc := cfg.Mail
	return mailer.Config{
		FromEmail:  strings.TrimSpace(mc.FromEmail),
		FromName:   strings.TrimSpace(mc.FromName),
		Region:     strings.TrimSpace(mc.Region),
		RatePerSec: mc.RatePerSec,
	}
}

// validateMapped runs every mapping so a reload that would fail to apply is
// rejected before commit.
func validateMapped(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapIngestConfig(cfg); err != nil {
		return err
	}
	_, err := mapReminderConfig(cfg)
	return err
}
