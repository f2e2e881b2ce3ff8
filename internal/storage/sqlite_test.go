package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func deal(asin string, msgID int, at time.Time) domain.PublishedDeal {
	return domain.PublishedDeal{
		ASIN:            asin,
		Title:           "Some product title",
		Price:           49.99,
		OriginalPrice:   79.99,
		DiscountPercent: 37.5,
		AffiliateURL:    "https://www.amazon.com/dp/" + asin + "?tag=tag-20",
		Handle:          domain.MessageHandle{ChatID: -100900, MessageID: msgID},
		PostedAt:        at,
	}
}

func entry(asin string, at time.Time) domain.DedupEntry {
	return domain.DedupEntry{ASIN: asin, LastPublished: at, Active: true}
}

func TestSavePublishedWritesBothRows(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.SavePublished(ctx, deal("B0AAAAAAAA", 1, now), entry("B0AAAAAAAA", now)))

	n, err := st.CountPostedSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := st.LoadActiveDedup(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "B0AAAAAAAA", active[0].ASIN)
	assert.True(t, active[0].LastPublished.Equal(now))
}

func TestSavePublishedRepublishUpdatesDedupInPlace(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	first := time.Now().Add(-80 * time.Hour).Truncate(time.Millisecond)
	second := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.SavePublished(ctx, deal("B0AAAAAAAA", 1, first), entry("B0AAAAAAAA", first)))
	require.NoError(t, st.SavePublished(ctx, deal("B0AAAAAAAA", 2, second), entry("B0AAAAAAAA", second)))

	active, err := st.LoadActiveDedup(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1, "one identifier keeps one dedup row")
	assert.True(t, active[0].LastPublished.Equal(second))

	n, err := st.CountPostedSince(ctx, first.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "published history keeps both posts")
}

func TestListPublishedBetween(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.SavePublished(ctx, deal("B0AAAAAAAA", 1, now.Add(-72*time.Hour)), entry("B0AAAAAAAA", now.Add(-72*time.Hour))))
	require.NoError(t, st.SavePublished(ctx, deal("B0BBBBBBBB", 2, now.Add(-10*time.Hour)), entry("B0BBBBBBBB", now.Add(-10*time.Hour))))
	require.NoError(t, st.SavePublished(ctx, deal("B0CCCCCCCC", 3, now.Add(-time.Hour)), entry("B0CCCCCCCC", now.Add(-time.Hour))))

	got, err := st.ListPublishedBetween(ctx, now.Add(-48*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B0BBBBBBBB", got[0].ASIN)
	assert.Equal(t, "B0CCCCCCCC", got[1].ASIN)
	assert.Equal(t, -100900, int(got[0].Handle.ChatID))
}

func TestDeactivateDedupBefore(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	old := now.Add(-40 * 24 * time.Hour)

	require.NoError(t, st.SavePublished(ctx, deal("B0OLD000000", 1, old), entry("B0OLD000000", old)))
	require.NoError(t, st.SavePublished(ctx, deal("B0FRESH0000", 2, now), entry("B0FRESH0000", now)))

	n, err := st.DeactivateDedupBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	active, err := st.LoadActiveDedup(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "B0FRESH0000", active[0].ASIN)
}

func TestRepairDedupRestoresLostEntry(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.SavePublished(ctx, deal("B0AAAAAAAA", 1, now.Add(-time.Hour)), entry("B0AAAAAAAA", now.Add(-time.Hour))))
	// Simulate a lost dedup row.
	_, err := st.db.ExecContext(ctx, `DELETE FROM deal_cache WHERE asin = 'B0AAAAAAAA'`)
	require.NoError(t, err)

	n, err := st.RepairDedup(ctx, now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	active, err := st.LoadActiveDedup(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "B0AAAAAAAA", active[0].ASIN)

	// Second repair is a no-op.
	n, err = st.RepairDedup(ctx, now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngagementUpsertAndGet(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	h := domain.MessageHandle{ChatID: -100900, MessageID: 7}

	_, err := st.GetEngagement(ctx, h)
	require.ErrorIs(t, err, domain.ErrNotFound)

	now := time.Now().Truncate(time.Millisecond)
	rec := domain.EngagementRecord{
		Handle: h, ASIN: "B0AAAAAAAA",
		Views: 100, Clicks: 15, Conversions: 2,
		Revenue: 2.99, CTR: 15, ReconciledAt: now,
	}
	require.NoError(t, st.UpsertEngagement(ctx, rec))

	got, err := st.GetEngagement(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, rec.Views, got.Views)
	assert.Equal(t, rec.CTR, got.CTR)
	assert.True(t, got.ReconciledAt.Equal(now))

	// Update in place, never a second row.
	rec.Views = 150
	rec.CTR = 10
	require.NoError(t, st.UpsertEngagement(ctx, rec))
	got, err = st.GetEngagement(ctx, h)
	require.NoError(t, err)
	assert.EqualValues(t, 150, got.Views)
}

func TestJobRunsAppendAndPrune(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	old := domain.JobRun{Job: "post_deals", RunID: "r1", ScheduledAt: now.Add(-100 * 24 * time.Hour),
		StartedAt: now.Add(-100 * 24 * time.Hour), FinishedAt: now.Add(-100 * 24 * time.Hour), Outcome: domain.OutcomeSucceeded}
	fresh := domain.JobRun{Job: "post_deals", RunID: "r2", ScheduledAt: now,
		StartedAt: now, FinishedAt: now, Outcome: domain.OutcomePartial, Summary: "published=1 deferred=2"}
	require.NoError(t, st.AppendJobRun(ctx, old))
	require.NoError(t, st.AppendJobRun(ctx, fresh))

	n, err := st.PruneJobRuns(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDashboardStats(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.SavePublished(ctx, deal("B0AAAAAAAA", 1, now.Add(-30*time.Minute)), entry("B0AAAAAAAA", now.Add(-30*time.Minute))))
	require.NoError(t, st.SavePublished(ctx, deal("B0BBBBBBBB", 2, now.Add(-26*time.Hour)), entry("B0BBBBBBBB", now.Add(-26*time.Hour))))

	require.NoError(t, st.UpsertEngagement(ctx, domain.EngagementRecord{
		Handle: domain.MessageHandle{ChatID: -100900, MessageID: 1},
		ASIN:   "B0AAAAAAAA", Views: 100, Clicks: 20, Revenue: 3.0, CTR: 20, ReconciledAt: now,
	}))
	require.NoError(t, st.UpsertEngagement(ctx, domain.EngagementRecord{
		Handle: domain.MessageHandle{ChatID: -100900, MessageID: 2},
		ASIN:   "B0BBBBBBBB", Views: 50, Clicks: 5, Revenue: 1.5, CTR: 10, ReconciledAt: now,
	}))

	// Reconciled 90 days ago: outside the 30-day revenue/CTR window.
	require.NoError(t, st.UpsertEngagement(ctx, domain.EngagementRecord{
		Handle: domain.MessageHandle{ChatID: -100900, MessageID: 3},
		ASIN:   "B0CCCCCCCC", Views: 10, Clicks: 10, Revenue: 500, CTR: 100,
		ReconciledAt: now.AddDate(0, 0, -90),
	}))

	stats, err := st.DashboardStats(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalDeals)
	assert.InDelta(t, 4.5, stats.TotalRevenue, 1e-9)
	assert.InDelta(t, 15, stats.AverageCTR, 1e-9)
	// TodayDeals depends on wall-clock midnight; at minimum the half-hour-old
	// post counts.
	assert.GreaterOrEqual(t, stats.TodayDeals, int64(1))
}

func TestDashboardStatsWindowExcludesStaleEngagement(t *testing.T) {
	t.Parallel()
	st := openTest(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.UpsertEngagement(ctx, domain.EngagementRecord{
		Handle: domain.MessageHandle{ChatID: -100900, MessageID: 1},
		ASIN:   "B0AAAAAAAA", Views: 100, Clicks: 50, Revenue: 500, CTR: 50,
		ReconciledAt: now.AddDate(0, 0, -90),
	}))

	stats, err := st.DashboardStats(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRevenue)
	assert.Zero(t, stats.AverageCTR)
}
