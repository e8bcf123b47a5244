package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy(max int) RetryPolicy {
	return RetryPolicy{Max: max, Base: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetry(t *testing.T) {
	t.Parallel()
	transient := errors.New("503")
	tests := []struct {
		name     string
		policy   RetryPolicy
		fails    int
		err      error
		attempts int
		wantErr  bool
	}{
		{name: "first try", policy: fastPolicy(3), attempts: 1},
		{name: "recovers", policy: fastPolicy(3), fails: 2, err: transient, attempts: 3},
		{name: "exhausted", policy: fastPolicy(2), fails: 10, err: transient, attempts: 3, wantErr: true},
		{name: "permanent", policy: fastPolicy(5), fails: 10, err: NoRetry(errors.New("404")), attempts: 1, wantErr: true},
		{
			name:     "filtered",
			policy:   RetryPolicy{Max: 5, Base: time.Millisecond, Retryable: func(err error) bool { return !errors.Is(err, transient) }},
			fails:    10,
			err:      transient,
			attempts: 1,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			n, err := Retry(context.Background(), tt.policy, rand.New(rand.NewSource(1)), func(context.Context) error {
				calls++
				if calls <= tt.fails {
					return tt.err
				}
				return nil
			})
			if n != tt.attempts || calls != tt.attempts {
				t.Fatalf("attempts = %d (calls %d), want %d", n, calls, tt.attempts)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && IsNoRetry(err) {
				t.Fatalf("NoRetry marker leaked: %v", err)
			}
		})
	}
}

func TestRetryPanicIsPermanent(t *testing.T) {
	t.Parallel()
	n, err := Retry(context.Background(), fastPolicy(3), nil, func(context.Context) error { panic("boom") })
	if n != 1 || !errors.Is(err, ErrPanic) {
		t.Fatalf("Retry = %d, %v", n, err)
	}
}

func TestRetryPerAttemptTimeout(t *testing.T) {
	t.Parallel()
	p := fastPolicy(1)
	p.Timeout = 10 * time.Millisecond
	n, err := Retry(context.Background(), p, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if n != 2 || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Retry = %d, %v", n, err)
	}
}

func TestDelay(t *testing.T) {
	t.Parallel()
	p := RetryPolicy{Base: 100 * time.Millisecond, MaxDelay: time.Second}.withDefaults()
	p.Jitter = 0.0000001
	if d := p.delay(1, errors.New("x"), nil); d != 100*time.Millisecond {
		t.Fatalf("delay(1) = %v", d)
	}
	if d := p.delay(3, errors.New("x"), nil); d != 400*time.Millisecond {
		t.Fatalf("delay(3) = %v", d)
	}
	if d := p.delay(10, errors.New("x"), nil); d != time.Second {
		t.Fatalf("delay(10) = %v", d)
	}
	if d := p.delay(1, RetryAfter(errors.New("429"), 700*time.Millisecond), nil); d != 700*time.Millisecond {
		t.Fatalf("retry-after delay = %v", d)
	}
	if d := p.delay(1, RetryAfter(errors.New("429"), time.Hour), nil); d != time.Second {
		t.Fatalf("capped retry-after delay = %v", d)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()
	var (
		mu      sync.Mutex
		active  int
		peak    int
		visited atomic.Int32
	)
	p := Pool{Workers: 3}
	errs := p.Each(context.Background(), 20, func(_ context.Context, i int, w *Worker) error {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		visited.Add(1)
		if i == 7 {
			panic("bad job")
		}
		if i%5 == 0 {
			return errors.New("fail")
		}
		return nil
	})
	if visited.Load() != 20 {
		t.Fatalf("visited = %d", visited.Load())
	}
	if peak > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", peak)
	}
	if !errors.Is(errs[7], ErrPanic) {
		t.Fatalf("errs[7] = %v", errs[7])
	}
	for i, err := range errs {
		if i == 7 {
			continue
		}
		if (i%5 == 0) != (err != nil) {
			t.Fatalf("errs[%d] = %v", i, err)
		}
	}
}

func TestPoolCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errs := Pool{Workers: 2}.Each(ctx, 4, func(context.Context, int, *Worker) error { return nil })
	for i, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("errs[%d] = %v", i, err)
		}
	}
}
