package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cftrack/internal/eventbus"
	"cftrack/internal/ingest"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestObserve(t *testing.T) {
	t.Parallel()
	m := New(nil)
	m.Observe(eventbus.Event{Type: eventbus.SyncStarted, Data: ingest.Report{Trigger: "manual"}})
	m.Observe(eventbus.Event{Type: eventbus.SyncStudent, Data: ingest.StudentResult{Outcome: ingest.OutcomeFailed, ErrorKind: ingest.KindPermanent}})
	m.Observe(eventbus.Event{Type: eventbus.SyncStudent, Data: ingest.StudentResult{Outcome: ingest.OutcomeSuccess}})
	m.Observe(eventbus.Event{Type: eventbus.ReminderSent})

	out := scrape(t, m)
	for _, want := range []string{
		`cftrack_sync_runs_total{trigger="manual"} 1`,
		`cftrack_sync_students_total{error_kind="permanent",outcome="failed"} 1`,
		`cftrack_sync_students_total{error_kind="",outcome="success"} 1`,
		`cftrack_reminder_sent_total 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	m := New(func() uint64 { return eventbus.Dropped(bus) })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(scrape(t, m), "cftrack_reminder_failed_total 1") && time.Now().Before(deadline) {
		bus.Publish(eventbus.Event{Type: eventbus.ReminderFailed})
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
	out := scrape(t, m)
	if strings.Contains(out, "cftrack_reminder_failed_total 0") {
		t.Fatal("event never observed")
	}
	if !strings.Contains(out, "cftrack_eventbus_dropped_events") {
		t.Fatal("dropped gauge not registered")
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	m := New(nil)
	h := m.Middleware("/students/{id}/reminder-info", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/students/x/reminder-info", nil))

	if out := scrape(t, m); !strings.Contains(out, `cftrack_http_requests_total{method="GET",route="/students/{id}/reminder-info",status="404"} 1`) {
		t.Fatalf("request not exported:\n%s", out)
	}
}
