package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"cftrack/internal/mailer"
	"cftrack/internal/model"
	"cftrack/internal/storage"
	logx "cftrack/pkg/logx"
)

var now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

const week = 7 * 24 * time.Hour

func TestEvaluate(t *testing.T) {
	t.Parallel()
	p := Policy{InactivityThreshold: week, Cooldown: week}
	recent := now.Add(-2 * 24 * time.Hour)
	old := now.Add(-30 * 24 * time.Hour)
	sentYesterday := now.Add(-24 * time.Hour)
	sentLongAgo := now.Add(-10 * 24 * time.Hour)

	base := model.Student{ID: "s", Email: "s@x", CreatedAt: old, Reminder: model.ReminderState{Enabled: true}}
	with := func(f func(*model.Student)) model.Student {
		st := base
		f(&st)
		return st
	}

	tests := []struct {
		name   string
		st     model.Student
		last   time.Time
		want   Action
		reason string
	}{
		{"disabled wins over inactivity", with(func(s *model.Student) { s.Reminder.Enabled = false }), old, Skip, ReasonDisabled},
		{"no email", with(func(s *model.Student) { s.Email = "" }), old, Skip, ReasonNoEmail},
		{"recently active", base, recent, Skip, ReasonActive},
		{"inactive never reminded", base, old, Send, ReasonInactive},
		{"inactive within cooldown", with(func(s *model.Student) { s.Reminder.LastReminderAt = &sentYesterday }), old, Skip, ReasonCooldown},
		{"inactive after cooldown", with(func(s *model.Student) { s.Reminder.LastReminderAt = &sentLongAgo }), old, Send, ReasonInactive},
		{"no submissions uses creation", base, time.Time{}, Send, ReasonInactive},
		{"new account without submissions", with(func(s *model.Student) { s.CreatedAt = recent }), time.Time{}, Skip, ReasonActive},
		{"exactly at threshold", base, now.Add(-week), Skip, ReasonActive},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Evaluate(tt.st, tt.last, now, p)
			if d.Action != tt.want || d.Reason != tt.reason {
				t.Fatalf("got %+v, want %s/%s", d, tt.want, tt.reason)
			}
		})
	}
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []mailer.Message
	fail  error
	block chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, m mailer.Message) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newStore(t *testing.T) *storage.Memory {
	t.Helper()
	store := storage.NewMemory(10)
	ctx := context.Background()
	for _, id := range []string{"idle", "busy"} {
		if _, err := store.PutStudent(ctx, model.Student{ID: id, Name: strings.ToUpper(id), Email: id + "@x", Handle: id, CreatedAt: now.Add(-60 * 24 * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	err := store.ApplySync(ctx, model.SyncUpdate{
		StudentID:   "busy",
		Submissions: []model.SubmissionRecord{{SubmissionID: 1, ContestID: 1, ProblemIndex: "A", Verdict: "OK", SubmittedAt: now.Add(-time.Hour)}},
		SyncedAt:    now,
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func newService(store Store, snd mailer.Sender) *Service {
	s := New(Config{Enabled: true, InactivityThreshold: week, Cooldown: week}, store, snd, logx.Nop(), nil)
	s.now = func() time.Time { return now }
	return s
}

func TestProcess(t *testing.T) {
	Convey("Given one idle and one active student", t, func() {
		ctx := context.Background()
		store := newStore(t)
		snd := &fakeSender{}
		svc := newService(store, snd)

		Convey("Only the idle student is emailed and counted", func() {
			sum := svc.Process(ctx, []string{"idle", "busy"})
			So(sum.Sent, ShouldEqual, 1)
			So(sum.Skipped, ShouldEqual, 1)
			So(snd.count(), ShouldEqual, 1)
			So(snd.sent[0].To, ShouldEqual, "idle@x")
			So(snd.sent[0].Text, ShouldContainSubstring, "IDLE")

			st, _ := store.GetStudent(ctx, "idle")
			So(st.Reminder.Count, ShouldEqual, 1)
			So(st.Reminder.LastReminderAt.Equal(now), ShouldBeTrue)

			Convey("A second pass inside the cooldown sends nothing", func() {
				sum := svc.Process(ctx, []string{"idle"})
				So(sum.Sent, ShouldEqual, 0)
				So(sum.Results[0].Reason, ShouldEqual, ReasonCooldown)
				st, _ := store.GetStudent(ctx, "idle")
				So(st.Reminder.Count, ShouldEqual, 1)
			})
		})

		Convey("A failed dispatch leaves the counter alone", func() {
			snd.fail = errors.New("smtp down")
			sum := svc.Process(ctx, []string{"idle"})
			So(sum.Failed, ShouldEqual, 1)
			st, _ := store.GetStudent(ctx, "idle")
			So(st.Reminder.Count, ShouldEqual, 0)
			So(st.Reminder.LastReminderAt, ShouldBeNil)
		})

		Convey("Disabling takes effect on the next evaluation", func() {
			v, err := svc.SetEnabled(ctx, "idle", false)
			So(err, ShouldBeNil)
			So(v, ShouldBeFalse)
			sum := svc.Process(ctx, []string{"idle"})
			So(sum.Sent, ShouldEqual, 0)
			So(sum.Results[0].Reason, ShouldEqual, ReasonDisabled)
		})

		Convey("Nothing happens while reminders are switched off", func() {
			svc.Apply(Config{Enabled: false})
			sum := svc.Process(ctx, []string{"idle"})
			So(sum.Sent+sum.Skipped+sum.Failed, ShouldEqual, 0)
			So(snd.count(), ShouldEqual, 0)
		})

		Convey("Unknown students fail without stopping the batch", func() {
			sum := svc.Process(ctx, []string{"ghost", "idle"})
			So(sum.Failed, ShouldEqual, 1)
			So(sum.Sent, ShouldEqual, 1)
		})
	})
}

func TestConcurrentProcessSendsOnce(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	snd := &fakeSender{block: make(chan struct{})}
	svc := newService(store, snd)

	var wg sync.WaitGroup
	results := make([]Summary, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Process(context.Background(), []string{"idle"})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(snd.block)
	wg.Wait()

	sent := 0
	for _, r := range results {
		sent += r.Sent
	}
	st, _ := store.GetStudent(context.Background(), "idle")
	if sent != st.Reminder.Count || snd.count() != st.Reminder.Count {
		t.Fatalf("sent %d, mailed %d, counted %d", sent, snd.count(), st.Reminder.Count)
	}
	if st.Reminder.Count != 1 {
		t.Fatalf("count = %d, want 1", st.Reminder.Count)
	}
}
