// Package catalog wraps the external deal provider: rate limiting, a
// bounded retry budget for transient failures, and the structural
// validation gate no candidate may bypass.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/internal/ports"
	"github.com/AetherSilva/G3r4kiHub/internal/ratelimit"
	"github.com/AetherSilva/G3r4kiHub/internal/retry"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

// Stats summarizes one fetch for the run summary.
type Stats struct {
	Returned int // candidates surfaced to the caller
	Dropped  int // entries rejected by validation or filters
}

type Fetcher struct {
	source  ports.Catalog
	limiter *ratelimit.Limiter
	policy  retry.Policy
	log     logx.Logger
}

func NewFetcher(source ports.Catalog, limiter *ratelimit.Limiter, policy retry.Policy, log logx.Logger) *Fetcher {
	return &Fetcher{source: source, limiter: limiter, policy: policy, log: log}
}

// Fetch returns validated candidates matching the filters, capped at
// f.MaxResults. Restartable per call; no cross-call state. Provider
// throttling surfaces as domain.ErrUpstreamRateLimited without burning the
// retry budget; unreachability is retried up to the budget and then
// surfaces as domain.ErrUpstreamUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, filters domain.Filters) ([]domain.Candidate, Stats, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, Stats{}, err
	}

	var raw []domain.Candidate
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		var serr error
		raw, serr = f.source.Search(ctx, filters)
		return serr
	}, transient)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamRateLimited) || errors.Is(err, context.Canceled) {
			return nil, Stats{}, err
		}
		return nil, Stats{}, fmt.Errorf("catalog search: %w: %v", domain.ErrUpstreamUnavailable, err)
	}

	var stats Stats
	out := make([]domain.Candidate, 0, len(raw))
	for _, c := range raw {
		if err := c.Validate(); err != nil {
			stats.Dropped++
			f.log.Debug("candidate dropped", logx.Err(err))
			continue
		}
		if !filters.Match(c) {
			stats.Dropped++
			continue
		}
		out = append(out, c)
		if filters.MaxResults > 0 && len(out) >= filters.MaxResults {
			break
		}
	}
	stats.Returned = len(out)
	return out, stats, nil
}

// transient reports whether a search error is worth another attempt.
// Throttling and permanent rejections are not; timeouts and network
// failures are.
func transient(err error) bool {
	if errors.Is(err, domain.ErrUpstreamRateLimited) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, domain.ErrUpstreamUnavailable)
}
