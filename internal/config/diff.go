package config

import (
	logx "cftrack/pkg/logx"
)

// Change describes which sections differ between two configs.
type Change struct {
	Sections []string
	// Restart lists sections that only take effect after a restart.
	Restart []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares two configs section by section. Secrets (DSN) are never
// included in the returned log fields.
func Diff(oldCfg, newCfg *Config) (Change, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	var attrs []logx.Field

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Reminder != newCfg.Reminder {
		ch.Sections = append(ch.Sections, "reminder")
		attrs = append(attrs,
			logx.Bool("reminder.enabled", newCfg.Reminder.Enabled),
			logx.String("reminder.inactivity_threshold", newCfg.Reminder.InactivityThreshold),
			logx.String("reminder.cooldown", newCfg.Reminder.Cooldown),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		ch.Sections = append(ch.Sections, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if oldCfg.Sync != newCfg.Sync {
		ch.Sections = append(ch.Sections, "sync")
		ch.Restart = append(ch.Restart, "sync")
	}
	if oldCfg.Storage != newCfg.Storage {
		ch.Sections = append(ch.Sections, "storage")
		ch.Restart = append(ch.Restart, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.RatingService != newCfg.RatingService {
		ch.Sections = append(ch.Sections, "rating_service")
		attrs = append(attrs, logx.Float64("rating_service.rate_per_sec", newCfg.RatingService.RatePerSec))
	}
	if oldCfg.Mail != newCfg.Mail {
		ch.Sections = append(ch.Sections, "mail")
		ch.Restart = append(ch.Restart, "mail")
	}
	if len(ch.Sections) > 0 {
		attrs = append(attrs, logx.Strings("sections", ch.Sections))
	}
	return ch, attrs
}
