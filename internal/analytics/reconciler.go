// Package analytics reconciles engagement counters for published deals.
// Counters overwrite the stored record and derived metrics are recomputed
// from scratch, so running the same window twice with unchanged upstream
// data leaves the store byte-for-byte identical.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/internal/ports"
	"github.com/AetherSilva/G3r4kiHub/internal/ratelimit"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

type Reconciler struct {
	channel        ports.Channel
	store          ports.Store
	limiter        *ratelimit.Limiter
	clock          ports.Clock
	commissionRate float64
	log            logx.Logger
}

func New(channel ports.Channel, store ports.Store, limiter *ratelimit.Limiter, clock ports.Clock, commissionRate float64, log logx.Logger) *Reconciler {
	return &Reconciler{
		channel:        channel,
		store:          store,
		limiter:        limiter,
		clock:          clock,
		commissionRate: commissionRate,
		log:            log,
	}
}

// Reconcile refreshes engagement for every deal published inside the
// window, returning the number of records actually written. Missing
// upstream data (deleted message) leaves the prior record unchanged with a
// warning. Store failures abort; upstream failures skip the item.
func (r *Reconciler) Reconcile(ctx context.Context, window time.Duration) (int, error) {
	now := r.clock.Now()
	deals, err := r.store.ListPublishedBetween(ctx, now.Add(-window), now)
	if err != nil {
		return 0, fmt.Errorf("list published: %w", err)
	}

	updated := 0
	for _, d := range deals {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		if d.Handle.IsZero() {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return updated, err
		}

		counters, err := r.channel.Engagement(ctx, d.Handle)
		if errors.Is(err, domain.ErrNotFound) {
			r.log.Warn("engagement missing upstream; record left unchanged",
				logx.String("asin", d.ASIN), logx.Int("message_id", d.Handle.MessageID))
			continue
		}
		if err != nil {
			r.log.Warn("engagement fetch failed; skipping item",
				logx.String("asin", d.ASIN), logx.Err(err))
			continue
		}

		next := r.derive(d, counters, now)

		prev, err := r.store.GetEngagement(ctx, d.Handle)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return updated, fmt.Errorf("get engagement: %w", err)
		}
		// Skip the write when nothing changed so ReconciledAt stays put and
		// repeated runs are true no-ops.
		if err == nil && unchanged(prev, next) {
			continue
		}

		if err := r.store.UpsertEngagement(ctx, next); err != nil {
			return updated, fmt.Errorf("upsert engagement: %w", err)
		}
		updated++
	}

	r.log.Info("engagement reconciled",
		logx.Int("deals", len(deals)), logx.Int("updated", updated), logx.Duration("window", window))
	return updated, nil
}

// derive recomputes the full record from raw counters. Revenue and CTR are
// derived, never accumulated. clicks > views from upstream is tolerated.
func (r *Reconciler) derive(d domain.PublishedDeal, c domain.Counters, now time.Time) domain.EngagementRecord {
	ctr := 0.0
	if c.Views > 0 {
		ctr = float64(c.Clicks) / float64(c.Views) * 100
	}
	return domain.EngagementRecord{
		Handle:       d.Handle,
		ASIN:         d.ASIN,
		Views:        c.Views,
		Clicks:       c.Clicks,
		Conversions:  c.Conversions,
		Revenue:      float64(c.Conversions) * d.Price * r.commissionRate,
		CTR:          ctr,
		ReconciledAt: now,
	}
}

// unchanged compares everything except ReconciledAt.
func unchanged(a, b domain.EngagementRecord) bool {
	return a.Views == b.Views &&
		a.Clicks == b.Clicks &&
		a.Conversions == b.Conversions &&
		a.Revenue == b.Revenue &&
		a.CTR == b.CTR
}
