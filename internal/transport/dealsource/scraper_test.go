package dealsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

const listingHTML = `<!DOCTYPE html>
<html><body>
<div class="deal-card" data-asin="B0AAAAAAA1" data-category="Electronics">
  <h2>Wireless Headphones With Noise Cancelling</h2>
  <span class="a-price"><span class="a-offscreen">$49.99</span></span>
  <span class="a-text-price"><span class="a-offscreen">$79.99</span></span>
  <span class="savingsPercentage">-38%</span>
  <img src="https://img.example/headphones.jpg" alt="Wireless Headphones">
</div>
<div class="deal-card">
  <a href="/B0BBBBBBB2/dp/B0BBBBBBB2?ref=x"><h2>Mechanical Keyboard RGB</h2></a>
  <span class="a-price"><span class="a-offscreen">$89.00</span></span>
</div>
<div class="deal-card" data-asin="B0AAAAAAA1">
  <h2>Duplicate card for the same item</h2>
  <span class="a-price"><span class="a-offscreen">$49.99</span></span>
</div>
<div class="deal-card">
  <h2>Card without any product link</h2>
</div>
</body></html>`

func newTestScraper(t *testing.T, handler http.Handler) (*Scraper, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := New(Config{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return s, srv
}

func TestSearchParsesListing(t *testing.T) {
	t.Parallel()
	s, _ := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingHTML))
	}))

	got, err := s.Search(context.Background(), domain.Filters{})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2 (dup and linkless cards skipped)", len(got))
	}

	first := got[0]
	if first.ASIN != "B0AAAAAAA1" {
		t.Fatalf("ASIN = %s", first.ASIN)
	}
	if first.Price != 49.99 {
		t.Fatalf("Price = %.2f", first.Price)
	}
	if first.OriginalPrice != 79.99 {
		t.Fatalf("OriginalPrice = %.2f", first.OriginalPrice)
	}
	if first.DiscountPercent != 38 {
		t.Fatalf("DiscountPercent = %.1f", first.DiscountPercent)
	}
	if first.Category != "Electronics" {
		t.Fatalf("Category = %s", first.Category)
	}
	if first.ImageURL == "" {
		t.Fatal("ImageURL empty")
	}

	second := got[1]
	if second.ASIN != "B0BBBBBBB2" {
		t.Fatalf("ASIN from href = %s", second.ASIN)
	}
	if second.Price != 89 {
		t.Fatalf("Price = %.2f", second.Price)
	}
}

func TestSearchTooManyRequests(t *testing.T) {
	t.Parallel()
	s, _ := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := s.Search(context.Background(), domain.Filters{})
	if !errors.Is(err, domain.ErrUpstreamRateLimited) {
		t.Fatalf("Search error = %v, want ErrUpstreamRateLimited", err)
	}
}

func TestSearchServerError(t *testing.T) {
	t.Parallel()
	s, _ := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := s.Search(context.Background(), domain.Filters{})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("Search error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestGetByIDNotFoundWhenPageEmpty(t *testing.T) {
	t.Parallel()
	s, _ := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body></body></html>"))
	}))

	_, err := s.GetByID(context.Background(), "B0AAAAAAA1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID error = %v, want ErrNotFound", err)
	}
}

func TestGetByIDURLIgnoresListingPath(t *testing.T) {
	t.Parallel()
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`<html><body><span id="productTitle">Thing</span></body></html>`))
	}))
	t.Cleanup(srv.Close)

	// Listing base carries a path; product links hang off the host root.
	s, err := New(Config{BaseURL: srv.URL + "/goldbox"}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := s.GetByID(context.Background(), "B0AAAAAAA1"); err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if gotPath != "/dp/B0AAAAAAA1" {
		t.Fatalf("request path = %q, want /dp/B0AAAAAAA1", gotPath)
	}
}

func TestParsePrice(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want float64
	}{
		{"$49.99", 49.99},
		{"$1,299.99", 1299.99},
		{"1.299,99", 1299.99},
		{"89", 89},
		{"", 0},
		{"free", 0},
	}
	for _, tt := range tests {
		if got := parsePrice(tt.in); got != tt.want {
			t.Fatalf("parsePrice(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParsePercent(t *testing.T) {
	t.Parallel()
	if got := parsePercent("-38%"); got != 38 {
		t.Fatalf("parsePercent = %v", got)
	}
	if got := parsePercent("17% OFF"); got != 17 {
		t.Fatalf("parsePercent = %v", got)
	}
	if got := parsePercent("no discount"); got != 0 {
		t.Fatalf("parsePercent = %v", got)
	}
}
