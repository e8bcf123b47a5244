package storage

import (
	"fmt"
	"strings"

	logx "cftrack/pkg/logx"
)

// Open initializes the configured store. An empty driver means sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RunHistory <= 0 {
		cfg.RunHistory = defaultRunHistory
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	case "memory":
		return NewMemory(cfg.RunHistory), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
