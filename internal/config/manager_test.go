package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"
)

const sampleYAML = `
logging:
  level: debug
  console: true
http:
  addr: 127.0.0.1:9090
storage:
  driver: sqlite
  path: ./data/cftrack.db
sync:
  default_schedule: "0 2 * * *"
  workers: 3
  fetch_timeout: 15s
reminder:
  enabled: true
  inactivity_threshold: 168h
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestConfigManagerLoad(t *testing.T) {
	convey.Convey("Given a config file", t, func() {
		convey.Convey("When it is YAML", func() {
			m := NewConfigManager(writeFile(t, "cftrack.yaml", sampleYAML))
			cfg, err := m.Load()

			convey.Convey("Then every section decodes", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Logging.Level, convey.ShouldEqual, "debug")
				convey.So(cfg.HTTP.Addr, convey.ShouldEqual, "127.0.0.1:9090")
				convey.So(cfg.Sync.Workers, convey.ShouldEqual, 3)
				convey.So(cfg.Reminder.Enabled, convey.ShouldBeTrue)
				convey.So(m.Get(), convey.ShouldEqual, cfg)
			})
		})

		convey.Convey("When it has an unknown key", func() {
			m := NewConfigManager(writeFile(t, "cftrack.json", `{"logging":{"level":"info"},"bogus":1}`))
			_, err := m.Load()

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "bogus")
			})
		})

		convey.Convey("When it has trailing data", func() {
			_, err := Decode("x.json", []byte(`{} {}`))
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the default schedule is not a cron expression", func() {
			m := NewConfigManager(writeFile(t, "cftrack.json", `{"sync":{"default_schedule":"every day"}}`))
			_, err := m.Load()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "every day")
		})
	})
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("CFTRACK_HTTP__ADDR", "0.0.0.0:7000")
	t.Setenv("CFTRACK_SYNC__WORKERS", "8")
	t.Setenv("CFTRACK_REMINDER__ENABLED", "false")

	m := NewConfigManager(writeFile(t, "cftrack.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HTTP.Addr != "0.0.0.0:7000" {
		t.Fatalf("http.addr = %q, want env value", cfg.HTTP.Addr)
	}
	if cfg.Sync.Workers != 8 {
		t.Fatalf("sync.workers = %d, want 8", cfg.Sync.Workers)
	}
	if cfg.Reminder.Enabled {
		t.Fatal("reminder.enabled = true, want env override false")
	}
	if cfg.Sync.FetchTimeout != "15s" {
		t.Fatalf("sync.fetch_timeout = %q, want file value kept", cfg.Sync.FetchTimeout)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()
	err := Validate(&Config{
		Logging: LoggingConfig{Level: "loud"},
		Storage: StorageConfig{Driver: "postgres"},
		Sync:    SyncConfig{FetchTimeout: "soon", Timezone: "Mars/Olympus"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"logging.level", "storage.dsn", "sync.fetch_timeout", "sync.timezone"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := &Config{Logging: LoggingConfig{Level: "info"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Storage: StorageConfig{Driver: "postgres", DSN: "secret"}}
	ch, attrs := Diff(a, b)
	if !ch.Has("logging") || !ch.Has("storage") || ch.Has("reminder") {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if len(ch.Restart) != 1 || ch.Restart[0] != "storage" {
		t.Fatalf("restart = %v", ch.Restart)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log fields")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "cftrack.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}
