package engine

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	logx "cftrack/pkg/logx"
)

// Pool runs index-addressed jobs on at most Workers goroutines.
type Pool struct {
	Workers int
	Log     logx.Logger
}

// Worker is the per-goroutine context handed to jobs. Its RNG is private to
// the goroutine, so jitter computation never contends on a shared source.
type Worker struct {
	ID  int
	Rng *rand.Rand
}

// Retry is engine.Retry using the worker's RNG.
func (w *Worker) Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	return Retry(ctx, p, w.Rng, fn)
}

// Each calls fn for every index in [0, n) and returns the per-index errors.
// A panicking job yields an ErrPanic-wrapped error for its index; the worker
// keeps going. Indexes not started before ctx ends report ctx.Err().
func (p Pool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int, w *Worker) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}
	workers := min(max(p.Workers, 1), n)

	idx := make(chan int)
	var wg sync.WaitGroup
	for id := 0; id < workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w := &Worker{ID: id, Rng: rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id)<<32))}
			for i := range idx {
				errs[i] = p.exec(ctx, i, w, fn)
			}
		}(id)
	}

	next := 0
feed:
	for ; next < n; next++ {
		select {
		case <-ctx.Done():
			break feed
		case idx <- next:
		}
	}
	close(idx)
	wg.Wait()
	for i := next; i < n; i++ {
		errs[i] = ctx.Err()
	}
	return errs
}

func (p Pool) exec(ctx context.Context, i int, w *Worker, fn func(ctx context.Context, i int, w *Worker) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.Log.Error("job panicked", logx.Int("job", i), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = panicError(r)
		}
	}()
	return fn(ctx, i, w)
}

func panicError(r any) error {
	return fmt.Errorf("%w: %v", ErrPanic, r)
}
