// Package dedup tracks which identifiers were already published and when.
// The in-memory map is a projection of the persisted dedup rows: it is
// rehydrated from the store before any publish decision and updated only
// after the store has committed, so the two never diverge.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/internal/ports"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

type Cache struct {
	store     ports.Store
	clock     ports.Clock
	cooldown  time.Duration
	retention time.Duration
	log       logx.Logger

	mu      sync.Mutex
	entries map[string]domain.DedupEntry
}

func New(store ports.Store, clock ports.Clock, cooldown, retention time.Duration, log logx.Logger) *Cache {
	return &Cache{
		store:     store,
		clock:     clock,
		cooldown:  cooldown,
		retention: retention,
		log:       log,
		entries:   map[string]domain.DedupEntry{},
	}
}

// Rehydrate loads active entries from storage. Must complete before the
// first eligibility check; a failure here blocks startup.
func (c *Cache) Rehydrate(ctx context.Context) error {
	entries, err := c.store.LoadActiveDedup(ctx)
	if err != nil {
		return fmt.Errorf("load dedup entries: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]domain.DedupEntry, len(entries))
	for _, e := range entries {
		c.entries[e.ASIN] = e
	}
	c.log.Info("dedup cache rehydrated", logx.Int("entries", len(entries)))
	return nil
}

// IsEligible reports whether the identifier may be published: no active
// entry, or the active entry's age exceeds the cooldown window.
func (c *Cache) IsEligible(asin string) bool {
	c.mu.Lock()
	e, ok := c.entries[asin]
	c.mu.Unlock()

	if !ok || !e.Active {
		return true
	}
	return c.clock.Now().Sub(e.LastPublished) >= c.cooldown
}

// MarkPublished records a publish in the projection. Callers invoke this
// only after the store has committed the matching dedup row (the row is
// written in the same transaction as the published deal); a failed publish
// never reaches here, preserving eligibility for retry.
func (c *Cache) MarkPublished(asin string, at time.Time) {
	c.mu.Lock()
	c.entries[asin] = domain.DedupEntry{ASIN: asin, LastPublished: at, Active: true}
	c.mu.Unlock()
}

// Cooldown returns the configured re-candidacy window.
func (c *Cache) Cooldown() time.Duration { return c.cooldown }

// Cleanup deactivates entries older than the retention horizon, in storage
// first and then in the projection. Returns the number deactivated.
func (c *Cache) Cleanup(ctx context.Context) (int64, error) {
	cutoff := c.clock.Now().Add(-c.retention)
	n, err := c.store.DeactivateDedupBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deactivate dedup entries: %w", err)
	}

	c.mu.Lock()
	for asin, e := range c.entries {
		if e.LastPublished.Before(cutoff) {
			delete(c.entries, asin)
		}
	}
	c.mu.Unlock()

	if n > 0 {
		c.log.Info("dedup entries deactivated", logx.Int64("count", n), logx.Time("cutoff", cutoff))
	}
	return n, nil
}

// Len reports the projection size (for status/tests).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
