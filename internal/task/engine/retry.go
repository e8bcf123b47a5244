package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy bounds the attempts of one operation.
//
// Defaults (zero values): no retries, base 500ms, max delay 15s, jitter 0.2.
type RetryPolicy struct {
	Max      int
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64
	// Timeout bounds each attempt; 0 means no per-attempt deadline.
	Timeout time.Duration
	// Retryable filters errors worth another attempt. Nil retries every
	// error not marked NoRetry.
	Retryable func(err error) bool
	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Max < 0 {
		p.Max = 0
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

// Retry runs fn until it succeeds, fails permanently, exhausts the policy or
// ctx ends. It returns the number of attempts made and the last error, with
// any NoRetry marker stripped.
func Retry(ctx context.Context, p RetryPolicy, rng *rand.Rand, fn func(ctx context.Context) error) (int, error) {
	p = p.withDefaults()
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			return attempt - 1, err
		}
		err = attemptOnce(ctx, p.Timeout, fn)
		if err == nil {
			return attempt, nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return attempt, nr.err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if attempt > p.Max {
			return attempt, err
		}

		delay := p.delay(attempt, err, rng)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, err
		case <-t.C:
		}
	}
}

func attemptOnce(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = NoRetry(panicError(r))
		}
	}()
	return fn(ctx)
}

// delay honours a RetryAfter hint, otherwise doubles Base per retry. Jitter
// applies in both cases; the result never exceeds MaxDelay.
func (p RetryPolicy) delay(retry int, err error, rng *rand.Rand) time.Duration {
	var d time.Duration
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = p.Base
		for i := 1; i < retry && d < p.MaxDelay; i++ {
			d *= 2
		}
	}
	d = min(d, p.MaxDelay)
	if rng != nil && d > 0 {
		r := (rng.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return min(max(d, 0), p.MaxDelay)
}
