// Package ratelimit throttles outbound calls per external service with a
// token bucket. A caller whose budget is exhausted suspends until budget
// replenishes or MaxWait elapses, then fails with domain.ErrRateLimited
// rather than blocking indefinitely.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
)

// Limiter wraps one service's budget.
type Limiter struct {
	name    string
	lim     *rate.Limiter
	maxWait time.Duration
}

// New builds a limiter named after the service it guards. perSec may be
// fractional (e.g. 20/60 for 20 calls per minute). maxWait <= 0 means
// callers only take what is immediately available.
func New(name string, perSec float64, burst int, maxWait time.Duration) *Limiter {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		name:    name,
		lim:     rate.NewLimiter(rate.Limit(perSec), burst),
		maxWait: maxWait,
	}
}

// Wait blocks for budget up to MaxWait. Returns domain.ErrRateLimited when
// the bounded wait elapses, or ctx.Err() when the caller is cancelled first.
func (l *Limiter) Wait(ctx context.Context) error {
	wctx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	err := l.lim.Wait(wctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// rate.Wait also errors early when the deadline cannot possibly be met;
	// either way the budget is exhausted for this call.
	return fmt.Errorf("%s: %w", l.name, domain.ErrRateLimited)
}

// Allow reports whether a token is immediately available, consuming it.
func (l *Limiter) Allow() bool { return l.lim.Allow() }

// Name identifies the guarded service in logs.
func (l *Limiter) Name() string { return l.name }
