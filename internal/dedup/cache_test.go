package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/internal/ports"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type fakeStore struct {
	ports.Store
	active      []domain.DedupEntry
	deactivated int64
}

func (f *fakeStore) LoadActiveDedup(context.Context) ([]domain.DedupEntry, error) {
	return f.active, nil
}

func (f *fakeStore) DeactivateDedupBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, e := range f.active {
		if e.LastPublished.Before(cutoff) {
			n++
		}
	}
	f.deactivated = n
	return n, nil
}

func TestIsEligibleUnknownASIN(t *testing.T) {
	t.Parallel()
	c := New(&fakeStore{}, &fakeClock{now: time.Now()}, 72*time.Hour, 30*24*time.Hour, logx.Nop())
	if !c.IsEligible("B0UNKNOWN00") {
		t.Fatal("unknown asin should be eligible")
	}
}

func TestCooldownBoundary(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	c := New(&fakeStore{}, clock, 72*time.Hour, 30*24*time.Hour, logx.Nop())

	c.MarkPublished("B0AAAAAAAA", now)

	if c.IsEligible("B0AAAAAAAA") {
		t.Fatal("fresh entry should be ineligible")
	}

	clock.now = now.Add(72*time.Hour - time.Second)
	if c.IsEligible("B0AAAAAAAA") {
		t.Fatal("inside cooldown should be ineligible")
	}

	// Exactly at the boundary the entry becomes eligible again.
	clock.now = now.Add(72 * time.Hour)
	if !c.IsEligible("B0AAAAAAAA") {
		t.Fatal("at cooldown boundary should be eligible")
	}
}

func TestRehydrateReplacesProjection(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := &fakeStore{active: []domain.DedupEntry{
		{ASIN: "B0AAAAAAAA", LastPublished: now.Add(-time.Hour), Active: true},
		{ASIN: "B0BBBBBBBB", LastPublished: now.Add(-2 * time.Hour), Active: true},
	}}
	c := New(st, &fakeClock{now: now}, 72*time.Hour, 30*24*time.Hour, logx.Nop())

	c.MarkPublished("B0STALE0000", now)
	if err := c.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate error: %v", err)
	}

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if !c.IsEligible("B0STALE0000") {
		t.Fatal("entry not in store should be eligible after rehydrate")
	}
	if c.IsEligible("B0AAAAAAAA") {
		t.Fatal("rehydrated entry inside cooldown should be ineligible")
	}
}

func TestCleanupDropsOldEntries(t *testing.T) {
	t.Parallel()
	now := time.Now()
	retention := 30 * 24 * time.Hour
	st := &fakeStore{active: []domain.DedupEntry{
		{ASIN: "B0OLD000000", LastPublished: now.Add(-retention - time.Hour), Active: true},
		{ASIN: "B0FRESH0000", LastPublished: now.Add(-time.Hour), Active: true},
	}}
	clock := &fakeClock{now: now}
	c := New(st, clock, 72*time.Hour, retention, logx.Nop())
	if err := c.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate error: %v", err)
	}

	n, err := c.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if n != 1 {
		t.Fatalf("deactivated = %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if !c.IsEligible("B0OLD000000") {
		t.Fatal("deactivated entry should be eligible again")
	}
}
