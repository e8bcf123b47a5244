package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "20s", "168h").
type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	HTTP          HTTPConfig          `json:"http"`
	Storage       StorageConfig       `json:"storage"`
	Sync          SyncConfig          `json:"sync"`
	RatingService RatingServiceConfig `json:"rating_service"`
	Reminder      ReminderConfig      `json:"reminder"`
	Mail          MailConfig          `json:"mail"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the REST listener.
//
// Prefer a loopback addr unless a reverse proxy terminates TLS in front.
type HTTPConfig struct {
	Addr     string `json:"addr,omitempty"`      // default "127.0.0.1:8080"
	BasePath string `json:"base_path,omitempty"` // default "/api"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	Metrics bool `json:"metrics"`
	Pprof   bool `json:"pprof,omitempty"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./cftrack.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SyncConfig controls the scheduled ingestion run. The schedule itself lives
// in the database (editable over REST); DefaultSchedule seeds it on first boot.
type SyncConfig struct {
	DefaultSchedule string `json:"default_schedule,omitempty"` // default "0 2 * * *"
	Timezone        string `json:"timezone,omitempty"`

	Workers       int    `json:"workers,omitempty"`
	FetchTimeout  string `json:"fetch_timeout,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	StatsWindowDays int `json:"stats_window_days,omitempty"`
	HistorySize     int `json:"history_size,omitempty"`
}

type RatingServiceConfig struct {
	BaseURL    string  `json:"base_url,omitempty"` // default "https://codeforces.com/api"
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
	// SubmissionLimit caps user.status results per handle (0 = all).
	SubmissionLimit int `json:"submission_limit,omitempty"`
}

// ReminderConfig is hot-reloadable.
type ReminderConfig struct {
	Enabled             bool   `json:"enabled"`
	InactivityThreshold string `json:"inactivity_threshold,omitempty"` // default "168h"
	Cooldown            string `json:"cooldown,omitempty"`             // default "168h"
	SendTimeout         string `json:"send_timeout,omitempty"`
}

// MailConfig configures the SES sender. An empty FromEmail disables sending.
type MailConfig struct {
	FromEmail  string  `json:"from_email,omitempty"`
	FromName   string  `json:"from_name,omitempty"`
	Region     string  `json:"region,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}
