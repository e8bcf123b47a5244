package ratingclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "cftrack/pkg/logx"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, RatePerSec: 1000, Burst: 100}, srv.Client(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestContestHistory(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user.rating" || r.URL.Query().Get("handle") != "tourist" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK","result":[
			{"contestId":1,"contestName":"Round 1","handle":"tourist","rank":3,"ratingUpdateTimeSeconds":1700000000,"oldRating":0,"newRating":1500},
			{"contestId":2,"contestName":"Round 2","handle":"tourist","rank":1,"ratingUpdateTimeSeconds":1700086400,"oldRating":1500,"newRating":1650}]}`))
	})
	got, err := c.ContestHistory(context.Background(), "tourist")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].NewRating != 1650 || got[1].ContestName != "Round 2" {
		t.Fatalf("got %+v", got)
	}
	if !got[0].UpdatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("updated at = %s", got[0].UpdatedAt)
	}
}

func TestSubmissions(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","result":[
			{"id":10,"contestId":5,"creationTimeSeconds":1700000000,"problem":{"index":"A","name":"Sum","rating":800},"verdict":"OK"}]}`))
	})
	got, err := c.Submissions(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Problem.ContestID != 5 || got[0].Problem.Rating != 800 {
		t.Fatalf("got %+v", got)
	}
}

func TestOversizedBody(t *testing.T) {
	t.Parallel()
	const body = `{"status":"OK","result":[]}`
	cases := []struct {
		name  string
		limit int64
		err   bool
	}{
		{name: "at limit", limit: int64(len(body))},
		{name: "over limit", limit: int64(len(body)) - 1, err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			c.maxBody = tc.limit
			_, err := c.ContestHistory(context.Background(), "big")
			if !tc.err {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrResponseTooLarge) || KindOf(err) != Permanent {
				t.Fatalf("err = %v, want permanent ErrResponseTooLarge", err)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		status     int
		body       string
		header     string
		kind       Kind
		notFound   bool
		retryAfter time.Duration
	}{
		{name: "unknown handle", status: 400, body: `{"status":"FAILED","comment":"handles: User with handle nobody not found"}`, kind: Permanent, notFound: true},
		{name: "api call limit", status: 503, body: `{"status":"FAILED","comment":"Call limit exceeded"}`, kind: Transient},
		{name: "limit exceeded on 400", status: 400, body: `{"status":"FAILED","comment":"Call limit exceeded"}`, kind: Transient},
		{name: "too many requests", status: 429, body: ``, header: "7", kind: Transient, retryAfter: 7 * time.Second},
		{name: "server error", status: 502, body: `bad gateway`, kind: Transient},
		{name: "forbidden", status: 403, body: `nope`, kind: Permanent},
		{name: "malformed body", status: 200, body: `{"status":`, kind: Permanent},
		{name: "unexpected status", status: 200, body: `{"status":"WAT"}`, kind: Permanent},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.ContestHistory(context.Background(), "h")
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want FetchError", err)
			}
			if fe.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s (%v)", fe.Kind, tt.kind, err)
			}
			if errors.Is(err, ErrHandleNotFound) != tt.notFound {
				t.Fatalf("not found = %v", errors.Is(err, ErrHandleNotFound))
			}
			if fe.RetryAfter != tt.retryAfter {
				t.Fatalf("retry after = %s", fe.RetryAfter)
			}
			if IsTransient(err) != (tt.kind == Transient) {
				t.Fatal("IsTransient disagrees with Kind")
			}
		})
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Submissions(ctx, "slow")
	if !IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestRateLimited(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"status":"OK","result":[]}`))
	}))
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL, RatePerSec: 20, Burst: 1}, srv.Client(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.ContestHistory(context.Background(), "h"); err != nil {
			t.Fatal(err)
		}
	}
	if el := time.Since(start); el < 90*time.Millisecond {
		t.Fatalf("3 calls at 20/s took %s", el)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if d := parseRetryAfter("3", now); d != 3*time.Second {
		t.Fatalf("seconds: %s", d)
	}
	if d := parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now); d != 10*time.Second {
		t.Fatalf("date: %s", d)
	}
	if d := parseRetryAfter("soon", now); d != 0 {
		t.Fatalf("junk: %s", d)
	}
}
