// Package retry provides the one backoff policy shared by every component
// that talks to an external service. Max attempts, exponential growth,
// jitter band, delay cap.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Policy bounds a retry loop. Zero fields fall back to defaults.
type Policy struct {
	MaxAttempts int           // total attempts, including the first (default 3)
	BaseDelay   time.Duration // first retry delay (default 500ms)
	MaxDelay    time.Duration // delay cap (default 15s)
	Jitter      float64       // 0.2 = +/-20% (default 0.2)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

// Do runs fn until it succeeds, the attempt budget is spent, retryable
// reports false, or ctx is cancelled. The last error is returned. A nil
// retryable treats every error as transient.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			break
		}

		delay := p.delay(attempt)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return err
}

// Attempts runs like Do but also reports how many attempts were made, so
// callers can flag degraded-but-successful items in run summaries.
func (p Policy) Attempts(ctx context.Context, fn func(ctx context.Context) error, retryable func(error) bool) (int, error) {
	p = p.withDefaults()

	attempts := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		attempts++
		return fn(ctx)
	}, retryable)
	return attempts, err
}

// delay computes the wait before the (retry+1)-th attempt. retry starts at 1.
func (p Policy) delay(retry int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if d > p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	// jitter band [1-j, 1+j]
	if p.Jitter > 0 {
		r := (randFloat64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}
