package stock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"phCanvas/internal/cache"
	"phCanvas/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fastPolicy keeps tests from sleeping between attempts.
func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3}
}

const pexelsBody = `{
	"total_results": 3,
	"photos": [
		{"id": 101, "alt": "mountain", "photographer": "ada", "photographer_url": "https://pexels.com/@ada",
		 "src": {"tiny": "https://img/101/t.jpg", "medium": "https://img/101/m.jpg", "large": "https://img/101/l.jpg"}},
		{"id": 0, "alt": "no id",
		 "src": {"tiny": "https://img/0/t.jpg"}},
		{"id": 103, "alt": "no urls", "src": {}}
	]
}`

func newTestGateway(t *testing.T, handler http.HandlerFunc, limit int) (*Gateway, *MemoryQuota, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	quota := NewMemoryQuota()
	limiter := NewLimiter(quota, func(string) int { return limit })
	provider := &testProvider{name: "pexels", endpoint: srv.URL}
	g := NewGateway([]Provider{provider}, limiter, cache.NewMemory(), discardLogger(), Options{
		Client: srv.Client(),
		Policy: fastPolicy(),
	})
	return g, quota, srv
}

// testProvider parses Pexels payloads but aims at the test server.
type testProvider struct {
	name     string
	endpoint string
}

func (p *testProvider) Name() string { return p.name }

func (p *testProvider) NewRequest(ctx context.Context, q Query) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?query="+q.Term, nil)
}

func (p *testProvider) ParseResponse(body []byte) ([]ImageRecord, int, error) {
	return (&Pexels{APIKey: "x"}).ParseResponse(body)
}

func TestSearchDropsInvalidRecords(t *testing.T) {
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, pexelsBody)
	}, 100)

	result, err := g.SearchImages(context.Background(), Query{Term: "mountain"})
	if err != nil {
		t.Fatalf("SearchImages: %v", err)
	}
	if len(result.Images) != 1 {
		t.Fatalf("expected 1 valid record, got %d", len(result.Images))
	}
	img := result.Images[0]
	if img.ID != "pexels-101" || img.URLs.Large != "https://img/101/l.jpg" {
		t.Fatalf("unexpected record: %+v", img)
	}
	if !img.NeedsAttribution || img.Photographer != "ada" {
		t.Fatalf("pexels record must carry attribution: %+v", img)
	}
	if result.Total != 3 {
		t.Fatalf("total = %d, want 3", result.Total)
	}
}

func TestSearchCacheHitSkipsNetworkAndQuota(t *testing.T) {
	var calls atomic.Int64
	g, quota, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		io.WriteString(w, pexelsBody)
	}, 100)

	ctx := context.Background()
	if _, err := g.SearchImages(ctx, Query{Term: "mountain"}); err != nil {
		t.Fatalf("first search: %v", err)
	}
	if _, err := g.SearchImages(ctx, Query{Term: "mountain"}); err != nil {
		t.Fatalf("second search: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("network calls = %d, want 1", n)
	}
	n, err := quota.Count(ctx, quotaKey("pexels", time.Now()))
	if err != nil {
		t.Fatalf("quota count: %v", err)
	}
	if n != 1 {
		t.Fatalf("quota counter = %d, want 1 (cache hit must not consume quota)", n)
	}
}

func TestSearchAtQuotaRejectsWithoutNetworkCall(t *testing.T) {
	var calls atomic.Int64
	g, quota, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		io.WriteString(w, pexelsBody)
	}, 2)

	ctx := context.Background()
	key := quotaKey("pexels", time.Now())
	for i := 0; i < 2; i++ {
		if _, err := quota.Incr(ctx, key, time.Hour); err != nil {
			t.Fatalf("prime quota: %v", err)
		}
	}

	_, err := g.SearchImages(ctx, Query{Term: "mountain"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("network calls = %d, want 0", n)
	}
	n, _ := quota.Count(ctx, key)
	if n != 2 {
		t.Fatalf("quota counter = %d, want 2 (rejection must not consume quota)", n)
	}
}

func TestSearchTotalFailureReturnsEmptyResultWithReason(t *testing.T) {
	var calls atomic.Int64
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, 100)

	result, err := g.SearchImages(context.Background(), Query{Term: "mountain", Page: 2, PerPage: 5})
	if err != nil {
		t.Fatalf("total failure must not surface an error, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}
	if len(result.Images) != 0 {
		t.Fatalf("expected empty image list, got %d", len(result.Images))
	}
	if result.Reason == "" || !strings.Contains(result.Reason, "pexels") {
		t.Fatalf("reason should name the provider, got %q", result.Reason)
	}
	if result.Page != 2 || result.PerPage != 5 {
		t.Fatalf("paging echoed wrong: page=%d per_page=%d", result.Page, result.PerPage)
	}
}

func TestSearchCredentialRejectionNotRetried(t *testing.T) {
	var calls atomic.Int64
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, 100)

	result, err := g.SearchImages(context.Background(), Query{Term: "mountain"})
	if err != nil {
		t.Fatalf("SearchImages: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("attempts = %d, want 1 (401 is permanent)", n)
	}
	if result.Reason == "" {
		t.Fatal("expected degraded result with reason")
	}
}

func TestSearchUnknownSource(t *testing.T) {
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, pexelsBody)
	}, 100)

	if _, err := g.SearchImages(context.Background(), Query{Term: "x", Source: "unsplash"}); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestConfiguredDefaultPerPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, pexelsBody)
	}))
	t.Cleanup(srv.Close)

	limiter := NewLimiter(NewMemoryQuota(), func(string) int { return 100 })
	g := NewGateway([]Provider{&testProvider{name: "pexels", endpoint: srv.URL}}, limiter,
		cache.NewMemory(), discardLogger(), Options{
			Client:  srv.Client(),
			Policy:  fastPolicy(),
			PerPage: 5,
		})

	result, err := g.SearchImages(context.Background(), Query{Term: "mountain"})
	if err != nil {
		t.Fatalf("SearchImages: %v", err)
	}
	if result.PerPage != 5 {
		t.Fatalf("PerPage = %d, want configured 5", result.PerPage)
	}
}

func TestProviderBaseURLOverride(t *testing.T) {
	pexels := &Pexels{APIKey: "k", BaseURL: "http://127.0.0.1:9/v1/search"}
	req, err := pexels.NewRequest(context.Background(), Query{Term: "cat", Page: 1, PerPage: 5})
	if err != nil {
		t.Fatalf("pexels NewRequest: %v", err)
	}
	if !strings.HasPrefix(req.URL.String(), "http://127.0.0.1:9/v1/search?") {
		t.Fatalf("pexels request aimed at %q", req.URL)
	}

	pixabay := &Pixabay{APIKey: "k", BaseURL: "http://127.0.0.1:9/api/"}
	req, err = pixabay.NewRequest(context.Background(), Query{Term: "cat", Page: 1, PerPage: 5})
	if err != nil {
		t.Fatalf("pixabay NewRequest: %v", err)
	}
	if !strings.HasPrefix(req.URL.String(), "http://127.0.0.1:9/api/?") {
		t.Fatalf("pixabay request aimed at %q", req.URL)
	}
}

func TestPixabayNormalization(t *testing.T) {
	body := []byte(`{
		"totalHits": 2,
		"hits": [
			{"id": 7, "tags": "sea, beach", "user": "bo", "pageURL": "https://pixabay.com/7",
			 "previewURL": "https://img/7/p.jpg", "webformatURL": "https://img/7/w.jpg", "largeImageURL": "https://img/7/l.jpg"},
			{"id": 8, "tags": "sky"}
		]
	}`)
	records, total, err := (&Pixabay{APIKey: "x"}).ParseResponse(body)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if total != 2 || len(records) != 1 {
		t.Fatalf("total=%d records=%d, want 2/1", total, len(records))
	}
	rec := records[0]
	if rec.ID != "pixabay-7" || rec.NeedsAttribution {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(rec.Tags) != 2 || rec.Tags[0] != "sea" || rec.Tags[1] != "beach" {
		t.Fatalf("tags not split: %v", rec.Tags)
	}
	if rec.URLs.Best() != "https://img/7/l.jpg" {
		t.Fatalf("Best() = %q", rec.URLs.Best())
	}
}
