// Package dealsource scrapes a deals listing page into catalog candidates.
// Selectors come in fallback chains because the upstream markup shifts;
// price and title fall back to meta tags and JSON-LD when the visible
// elements are missing.
package dealsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

var (
	asinRe     = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)
	percentRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	notPriceRe = regexp.MustCompile(`[^0-9.,]`)
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Scraper implements ports.Catalog against an HTML deals page.
type Scraper struct {
	baseURL string // listing page, may carry a path
	siteURL string // scheme://host only, for /dp/ product links
	client  *http.Client
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Scraper, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("dealsource base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("dealsource base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("dealsource base url %q: scheme and host required", base)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scraper{
		baseURL: base,
		siteURL: u.Scheme + "://" + u.Host,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

// Search fetches the listing page and parses every deal card it can. The
// filter argument only bounds the page choice here; predicate filtering
// happens in the fetcher so dropped counts stay observable in one place.
func (s *Scraper) Search(ctx context.Context, _ domain.Filters) ([]domain.Candidate, error) {
	doc, err := s.fetch(ctx, s.baseURL)
	if err != nil {
		return nil, err
	}

	var out []domain.Candidate
	seen := map[string]struct{}{}
	doc.Find("[data-asin], .deal-card, .a-carousel-card, li.octopus-dlp-asin-stream-item").Each(func(_ int, card *goquery.Selection) {
		c, ok := s.parseCard(card)
		if !ok {
			return
		}
		if _, dup := seen[c.ASIN]; dup {
			return
		}
		seen[c.ASIN] = struct{}{}
		out = append(out, c)
	})

	s.log.Debug("listing parsed", logx.Int("candidates", len(out)))
	return out, nil
}

// GetByID fetches a single product page.
func (s *Scraper) GetByID(ctx context.Context, asin string) (domain.Candidate, error) {
	asin = strings.TrimSpace(asin)
	if asin == "" {
		return domain.Candidate{}, fmt.Errorf("%w: empty asin", domain.ErrInvalidCandidate)
	}

	doc, err := s.fetch(ctx, s.siteURL+"/dp/"+asin)
	if err != nil {
		return domain.Candidate{}, err
	}

	c := domain.Candidate{ASIN: asin}
	c.Title = firstText(doc.Selection, "#productTitle", "h1.product-title", "h1")
	if c.Title == "" {
		c.Title = jsonLDString(doc, "name")
	}
	c.Price = parsePrice(firstText(doc.Selection,
		".priceToPay .a-offscreen", ".a-price .a-offscreen", "[data-testid='price']"))
	if c.Price == 0 {
		c.Price = parsePrice(doc.Find("meta[property='product:price:amount']").AttrOr("content", ""))
	}
	if c.Price == 0 {
		c.Price = parsePrice(jsonLDString(doc, "price"))
	}
	c.OriginalPrice = parsePrice(firstText(doc.Selection,
		".basisPrice .a-offscreen", ".a-text-price .a-offscreen"))
	c.DiscountPercent = parsePercent(firstText(doc.Selection,
		".savingsPercentage", "[class*='discount']"))
	if c.DiscountPercent == 0 && c.OriginalPrice > c.Price && c.OriginalPrice > 0 {
		c.DiscountPercent = (1 - c.Price/c.OriginalPrice) * 100
	}
	c.ImageURL = doc.Find("#landingImage, .product-image img").First().AttrOr("src", "")
	c.Category = firstText(doc.Selection, "#wayfinding-breadcrumbs_feature_div li a", ".breadcrumb a")

	if c.Title == "" && c.Price == 0 {
		return domain.Candidate{}, fmt.Errorf("product %s: %w", asin, domain.ErrNotFound)
	}
	return c, nil
}

func (s *Scraper) fetch(ctx context.Context, u string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch %s: %v: %w", u, err, domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("fetch %s: status %d: %w", u, resp.StatusCode, domain.ErrUpstreamRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s: status %d: %w", u, resp.StatusCode, domain.ErrUpstreamUnavailable)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", u, err, domain.ErrUpstreamUnavailable)
	}
	return doc, nil
}

func (s *Scraper) parseCard(card *goquery.Selection) (domain.Candidate, bool) {
	var c domain.Candidate

	c.ASIN = strings.TrimSpace(card.AttrOr("data-asin", ""))
	if c.ASIN == "" {
		href := card.Find("a[href*='/dp/']").First().AttrOr("href", "")
		if m := asinRe.FindStringSubmatch(href); len(m) > 1 {
			c.ASIN = m[1]
		}
	}
	if c.ASIN == "" {
		return domain.Candidate{}, false
	}

	c.Title = firstText(card, ".deal-title", "h2", ".a-truncate-full", "[data-testid='title']")
	if c.Title == "" {
		c.Title = strings.TrimSpace(card.Find("img").First().AttrOr("alt", ""))
	}
	c.Price = parsePrice(firstText(card, ".a-price .a-offscreen", ".deal-price", "[data-testid='price']"))
	c.OriginalPrice = parsePrice(firstText(card, ".a-text-price .a-offscreen", ".deal-original-price", "[data-testid='list-price']"))
	c.DiscountPercent = parsePercent(firstText(card, ".savingsPercentage", ".deal-badge", "[class*='discount']"))
	if c.DiscountPercent == 0 && c.OriginalPrice > c.Price && c.OriginalPrice > 0 {
		c.DiscountPercent = (1 - c.Price/c.OriginalPrice) * 100
	}
	c.ImageURL = card.Find("img").First().AttrOr("src", "")
	c.Category = firstText(card, ".deal-category", "[data-category]")
	if c.Category == "" {
		c.Category = strings.TrimSpace(card.AttrOr("data-category", ""))
	}

	return c, true
}

// firstText returns the first non-empty trimmed text among the selectors.
func firstText(root *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(root.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// jsonLDString pulls a top-level string field out of any ld+json block.
func jsonLDString(doc *goquery.Document, field string) string {
	re := regexp.MustCompile(`"` + field + `"\s*:\s*"?([^",}]+)"?`)
	var out string
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := re.FindStringSubmatch(s.Text()); len(m) > 1 {
			out = strings.TrimSpace(m[1])
			return false
		}
		return true
	})
	return out
}

// parsePrice handles "$1,299.99", "1.299,99" and bare numerics. Returns 0
// when no number can be extracted.
func parsePrice(text string) float64 {
	text = notPriceRe.ReplaceAllString(text, "")
	if text == "" {
		return 0
	}
	// When both separators appear the last one is the decimal mark.
	lastDot, lastComma := strings.LastIndex(text, "."), strings.LastIndex(text, ",")
	if lastComma > lastDot {
		text = strings.ReplaceAll(text, ".", "")
		text = strings.Replace(text, ",", ".", 1)
	} else {
		text = strings.ReplaceAll(text, ",", "")
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0
	}
	return v
}

// parsePercent extracts "17" from strings like "17% OFF".
func parsePercent(text string) float64 {
	m := percentRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}
