// Package pipeline drives one posting cycle: fetch candidates, filter
// through the dedup cache, format, publish, and commit each published deal
// together with its dedup entry in a single store transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AetherSilva/G3r4kiHub/internal/catalog"
	"github.com/AetherSilva/G3r4kiHub/internal/dedup"
	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/internal/format"
	"github.com/AetherSilva/G3r4kiHub/internal/ports"
	"github.com/AetherSilva/G3r4kiHub/internal/publish"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

// Config holds the posting knobs that may be re-applied at runtime.
type Config struct {
	StartHour   int
	EndHour     int
	Location    *time.Location
	PostsPerDay int
	PostsPerRun int
	Filters     domain.Filters
}

// Result summarizes one cycle for the JobRun audit row.
type Result struct {
	Outcome   domain.Outcome
	Fetched   int
	Dropped   int // failed validation/filters at the fetch boundary
	Skipped   int // ineligible (active dedup entry inside cooldown)
	Published int
	Retried   int // published, but only after publish retries
	Failed    int // publish exhausted retries or was rejected permanently
	Deferred  int // left for a later cycle (rate limit / cooperative stop)
	Note      string
}

// Summary renders the human-readable JobRun line.
func (r Result) Summary() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("fetched=%d published=%d", r.Fetched, r.Published))
	if r.Dropped > 0 {
		parts = append(parts, fmt.Sprintf("dropped=%d", r.Dropped))
	}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("skipped=%d", r.Skipped))
	}
	if r.Retried > 0 {
		parts = append(parts, fmt.Sprintf("retried=%d", r.Retried))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("failed=%d", r.Failed))
	}
	if r.Deferred > 0 {
		parts = append(parts, fmt.Sprintf("deferred=%d", r.Deferred))
	}
	if r.Note != "" {
		parts = append(parts, r.Note)
	}
	return strings.Join(parts, " ")
}

type Poster struct {
	fetcher   *catalog.Fetcher
	dedup     *dedup.Cache
	formatter format.Formatter
	publisher *publish.Publisher
	store     ports.Store
	clock     ports.Clock
	log       logx.Logger

	mu  sync.Mutex
	cfg Config
}

func NewPoster(fetcher *catalog.Fetcher, cache *dedup.Cache, formatter format.Formatter, publisher *publish.Publisher, store ports.Store, clock ports.Clock, cfg Config, log logx.Logger) *Poster {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Poster{
		fetcher:   fetcher,
		dedup:     cache,
		formatter: formatter,
		publisher: publisher,
		store:     store,
		clock:     clock,
		cfg:       cfg,
		log:       log,
	}
}

// Apply swaps the posting knobs at runtime (config reload). Safe to call
// concurrently with a running cycle; the new values take effect next cycle.
func (p *Poster) Apply(cfg Config) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

// RunCycle executes one posting cycle. Per-item failures are contained;
// the returned error is non-nil only for run-fatal conditions (fetch
// failure, persistence failure), in which case Result.Outcome is Failed.
func (p *Poster) RunCycle(ctx context.Context) (Result, error) {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	now := p.clock.Now().In(cfg.Location)
	var res Result

	if !withinWindow(now, cfg.StartHour, cfg.EndHour) {
		res.Outcome = domain.OutcomeSucceeded
		res.Note = fmt.Sprintf("outside posting window %02d-%02d", cfg.StartHour, cfg.EndHour)
		p.log.Debug("cycle skipped: outside posting window", logx.Time("now", now))
		return res, nil
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, cfg.Location)
	postedToday, err := p.store.CountPostedSince(ctx, startOfDay)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		return res, fmt.Errorf("count posted today: %w", err)
	}

	budget := cfg.PostsPerDay - postedToday
	if budget <= 0 {
		// Daily cap met: a successful run with zero posts, not an error.
		res.Outcome = domain.OutcomeSucceeded
		res.Note = fmt.Sprintf("daily cap reached (%d/%d)", postedToday, cfg.PostsPerDay)
		p.log.Info("cycle complete: daily cap reached", logx.Int("posted_today", postedToday))
		return res, nil
	}
	if cfg.PostsPerRun > 0 && budget > cfg.PostsPerRun {
		budget = cfg.PostsPerRun
	}

	candidates, stats, err := p.fetcher.Fetch(ctx, cfg.Filters)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		return res, fmt.Errorf("fetch candidates: %w", err)
	}
	res.Fetched = stats.Returned
	res.Dropped = stats.Dropped

	// Claimed set is per-run state, passed through the loop explicitly: it
	// stops a duplicate identifier inside one batch from posting twice
	// before the store commit lands.
	claimed := make(map[string]struct{}, len(candidates))

	for i, c := range candidates {
		if res.Published >= budget {
			res.Note = "run budget exhausted"
			break
		}
		if ctx.Err() != nil {
			// Cooperative stop between items; the remainder stays eligible.
			res.Deferred = len(candidates) - i
			break
		}

		if _, dup := claimed[c.ASIN]; dup {
			res.Skipped++
			continue
		}
		if !p.dedup.IsEligible(c.ASIN) {
			res.Skipped++
			continue
		}
		claimed[c.ASIN] = struct{}{}

		payload := p.formatter.Format(c)

		handle, attempts, err := p.publisher.Publish(ctx, payload)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				// Budget ran dry mid-cycle; defer the remainder, do not
				// mark anything failed.
				res.Deferred = len(candidates) - i
				res.Note = "rate limit budget exhausted"
				p.log.Warn("cycle deferred: rate limited", logx.Int("deferred", res.Deferred))
				break
			}
			if errors.Is(err, context.Canceled) {
				res.Deferred = len(candidates) - i
				break
			}
			// Permanent rejection or exhausted transient retries: this item
			// is done for the cycle and no dedup entry is written for it.
			res.Failed++
			p.log.Warn("item publish failed",
				logx.String("asin", c.ASIN), logx.Int("attempts", attempts), logx.Err(err))
			continue
		}

		// The post is live. Commit PublishedDeal + DedupEntry in one store
		// transaction before anything can interrupt; a cancelled ctx must
		// not abandon the item between publish and commit.
		commitCtx := context.WithoutCancel(ctx)
		postedAt := p.clock.Now()
		deal := domain.PublishedDeal{
			ASIN:            c.ASIN,
			Title:           c.Title,
			Price:           c.Price,
			OriginalPrice:   c.OriginalPrice,
			DiscountPercent: c.DiscountPercent,
			ImageURL:        c.ImageURL,
			AffiliateURL:    payload.ButtonURL,
			Category:        c.Category,
			Handle:          handle,
			PostedAt:        postedAt,
		}
		entry := domain.DedupEntry{ASIN: c.ASIN, LastPublished: postedAt, Active: true}
		if err := p.store.SavePublished(commitCtx, deal, entry); err != nil {
			// Persistence failures are never retried silently: abort the
			// run with no partial dedup state for this item.
			res.Outcome = domain.OutcomeFailed
			return res, fmt.Errorf("persist published deal %s: %w", c.ASIN, err)
		}
		p.dedup.MarkPublished(c.ASIN, postedAt)
		res.Published++
		if attempts > 1 {
			res.Retried++
		}
		p.log.Info("deal published",
			logx.String("asin", c.ASIN),
			logx.Int("message_id", handle.MessageID),
			logx.Float64("price", c.Price),
			logx.Float64("discount", c.DiscountPercent))
	}

	switch {
	case res.Failed > 0 || res.Deferred > 0:
		res.Outcome = domain.OutcomePartial
	default:
		res.Outcome = domain.OutcomeSucceeded
	}
	return res, nil
}

// withinWindow reports whether hour(now) is inside [start, end] inclusive.
func withinWindow(now time.Time, start, end int) bool {
	h := now.Hour()
	return h >= start && h <= end
}
