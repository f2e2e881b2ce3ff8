package domain

import (
	"fmt"
	"strings"
	"time"
)

// Candidate is a deal fetched from the catalog provider. It lives for one
// posting cycle only and is never persisted as-is.
type Candidate struct {
	ASIN            string
	Title           string
	Price           float64
	OriginalPrice   float64
	DiscountPercent float64
	ImageURL        string
	Category        string
	AffiliateURL    string
}

// Validate applies the structural checks a candidate must pass before it may
// enter a posting cycle. Entries failing these are dropped at the fetch
// boundary and counted, never surfaced downstream.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.ASIN) == "" {
		return fmt.Errorf("%w: empty asin", ErrInvalidCandidate)
	}
	if len(strings.TrimSpace(c.Title)) < 5 {
		return fmt.Errorf("%w: title too short (asin=%s)", ErrInvalidCandidate, c.ASIN)
	}
	if c.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %.2f (asin=%s)", ErrInvalidCandidate, c.Price, c.ASIN)
	}
	if c.DiscountPercent < 0 || c.DiscountPercent > 100 {
		return fmt.Errorf("%w: discount %.1f out of range (asin=%s)", ErrInvalidCandidate, c.DiscountPercent, c.ASIN)
	}
	return nil
}

// Filters constrain a catalog search.
type Filters struct {
	MinDiscount float64
	MinPrice    float64
	MaxPrice    float64
	Categories  []string
	MaxResults  int
}

// Match reports whether a (structurally valid) candidate satisfies the
// filter predicates.
func (f Filters) Match(c Candidate) bool {
	if c.DiscountPercent < f.MinDiscount {
		return false
	}
	if f.MinPrice > 0 && c.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && c.Price > f.MaxPrice {
		return false
	}
	if len(f.Categories) > 0 {
		ok := false
		for _, cat := range f.Categories {
			if strings.EqualFold(cat, c.Category) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Payload is the rendered channel message for one candidate.
type Payload struct {
	Text       string
	ButtonText string
	ButtonURL  string
	ImageURL   string
}

// MessageHandle correlates a published deal with its channel message for
// later edit/pin/engagement lookups.
type MessageHandle struct {
	ChatID    int64
	MessageID int
}

func (h MessageHandle) IsZero() bool { return h.ChatID == 0 && h.MessageID == 0 }

// PublishedDeal is the immutable record of one successful publish.
type PublishedDeal struct {
	ID              int64
	ASIN            string
	Title           string
	Price           float64
	OriginalPrice   float64
	DiscountPercent float64
	ImageURL        string
	AffiliateURL    string
	Category        string
	Handle          MessageHandle
	PostedAt        time.Time
}

// DedupEntry tracks the last publish of an identifier. An identifier has at
// most one active entry; re-publish after cooldown supersedes it in place.
type DedupEntry struct {
	ASIN          string
	LastPublished time.Time
	Active        bool
}

// Counters are raw engagement numbers from the channel side. The upstream is
// not trusted to keep clicks <= views; callers must tolerate it.
type Counters struct {
	Views       int64
	Clicks      int64
	Conversions int64
}

// EngagementRecord holds reconciled counters plus derived metrics for one
// published message. Updated in place, never duplicated.
type EngagementRecord struct {
	Handle       MessageHandle
	ASIN         string
	Views        int64
	Clicks       int64
	Conversions  int64
	Revenue      float64
	CTR          float64
	ReconciledAt time.Time
}

// DashboardStats aggregates store-wide numbers for the reporting surface.
type DashboardStats struct {
	TotalDeals   int64
	TodayDeals   int64
	TotalRevenue float64
	AverageCTR   float64
}
