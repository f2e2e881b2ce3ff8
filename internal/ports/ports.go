// Package ports declares the capability interfaces the pipeline consumes.
// Concrete transports live under internal/transport; the store under
// internal/storage. Everything here is injectable for tests.
package ports

import (
	"context"
	"time"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
)

// Catalog is the external deal provider. Implementations must distinguish
// throttling (domain.ErrUpstreamRateLimited) from unreachability
// (domain.ErrUpstreamUnavailable).
type Catalog interface {
	Search(ctx context.Context, f domain.Filters) ([]domain.Candidate, error)
	GetByID(ctx context.Context, asin string) (domain.Candidate, error)
}

// Channel is the broadcast side. Post performs exactly one externally
// visible post per successful call. Engagement returns domain.ErrNotFound
// when the message is gone or counters are not exposed.
type Channel interface {
	Post(ctx context.Context, p domain.Payload) (domain.MessageHandle, error)
	Engagement(ctx context.Context, h domain.MessageHandle) (domain.Counters, error)
}

// Store is the single source of truth. SavePublished commits the published
// row and its dedup entry in one transaction; a failure leaves neither.
type Store interface {
	// Dedup projection.
	LoadActiveDedup(ctx context.Context) ([]domain.DedupEntry, error)
	DeactivateDedupBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// RepairDedup re-activates dedup entries for deals published inside the
	// window that lost their entry (crash between publish and commit on a
	// previous build of the store; see DESIGN.md).
	RepairDedup(ctx context.Context, since time.Time) (int64, error)

	// Publish commit and queries.
	SavePublished(ctx context.Context, d domain.PublishedDeal, e domain.DedupEntry) error
	CountPostedSince(ctx context.Context, since time.Time) (int, error)
	ListPublishedBetween(ctx context.Context, from, to time.Time) ([]domain.PublishedDeal, error)

	// Engagement.
	GetEngagement(ctx context.Context, h domain.MessageHandle) (domain.EngagementRecord, error)
	UpsertEngagement(ctx context.Context, r domain.EngagementRecord) error

	// Job audit trail.
	AppendJobRun(ctx context.Context, r domain.JobRun) error
	PruneJobRuns(ctx context.Context, cutoff time.Time) (int64, error)

	DashboardStats(ctx context.Context, now time.Time) (domain.DashboardStats, error)

	Close() error
}

// Clock abstracts time for cooldown and scheduling decisions.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
