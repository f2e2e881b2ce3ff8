// Package format renders candidates into channel message payloads. Pure:
// the same candidate always yields the same payload.
package format

import (
	"fmt"
	"strings"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
)

const (
	titleMaxRunes = 80
	buyButtonText = "🛒 Buy on Amazon"
)

// Formatter holds the two stable inputs of the affiliate-link and
// disclosure rules. Everything else comes from the candidate.
type Formatter struct {
	PartnerTag string
	Disclosure string
}

// AffiliateURL builds the partner link for an ASIN. Deterministic string
// template; candidates carrying their own link keep it.
func (f Formatter) AffiliateURL(asin string) string {
	return fmt.Sprintf("https://www.amazon.com/dp/%s?tag=%s", asin, f.PartnerTag)
}

// Format renders one candidate. It assumes the candidate already passed the
// fetch-boundary validation; a malformed one here is a programming-contract
// violation handled by the caller.
func (f Formatter) Format(c domain.Candidate) domain.Payload {
	emoji := discountEmoji(c.DiscountPercent)

	var b strings.Builder
	fmt.Fprintf(&b, "%s DEAL ALERT %s\n\n", emoji, emoji)
	fmt.Fprintf(&b, "🛍️ %s\n", truncateRunes(c.Title, titleMaxRunes))
	fmt.Fprintf(&b, "💰 Price: $%.2f", c.Price)
	if c.OriginalPrice > c.Price {
		fmt.Fprintf(&b, " (Was $%.2f)", c.OriginalPrice)
	}
	if c.DiscountPercent > 0 {
		fmt.Fprintf(&b, "\n🎯 Save: %.0f%%", c.DiscountPercent)
	}
	b.WriteString("\n\n")
	b.WriteString(f.Disclosure)

	url := c.AffiliateURL
	if url == "" {
		url = f.AffiliateURL(c.ASIN)
	}

	return domain.Payload{
		Text:       b.String(),
		ButtonText: buyButtonText,
		ButtonURL:  url,
		ImageURL:   c.ImageURL,
	}
}

// FormatAnalyticsReport renders the daily admin summary.
func FormatAnalyticsReport(stats domain.DashboardStats) string {
	var b strings.Builder
	b.WriteString("📊 DAILY ANALYTICS REPORT\n\n")
	fmt.Fprintf(&b, "📈 Deals Posted Today: %d\n", stats.TodayDeals)
	fmt.Fprintf(&b, "🗂️ Deals Total: %d\n", stats.TotalDeals)
	fmt.Fprintf(&b, "💵 Revenue (30d): $%.2f\n", stats.TotalRevenue)
	fmt.Fprintf(&b, "📊 Avg CTR (30d): %.2f%%\n", stats.AverageCTR)
	return b.String()
}

// discountEmoji tiers: >=30 fire, >=20 orange, >=10 yellow, else blue.
func discountEmoji(discount float64) string {
	switch {
	case discount >= 30:
		return "🔥"
	case discount >= 20:
		return "🟠"
	case discount >= 10:
		return "🟡"
	default:
		return "💙"
	}
}

func truncateRunes(s string, maxN int) string {
	r := []rune(s)
	if len(r) <= maxN {
		return s
	}
	return string(r[:maxN])
}
