package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newRobotsTestServer(body string, status int, fetches *atomic.Int64) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			fetches.Add(1)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
	return httptest.NewServer(mux)
}

func TestRobotsAdvisor_DisallowedPathIsDenied(t *testing.T) {
	srv := newRobotsTestServer("User-agent: *\nDisallow: /private\n", http.StatusOK, nil)
	defer srv.Close()

	advisor := NewRobotsAdvisor(newTestFetcher(t), nil, "")
	ctx := context.Background()

	allowed, err := advisor.IsAllowed(ctx, srv.URL+"/private/x", "BurrBot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Errorf("expected /private/x to be disallowed")
	}

	allowed, err = advisor.IsAllowed(ctx, srv.URL+"/public/y", "BurrBot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Errorf("expected /public/y to be allowed")
	}
}

func TestRobotsAdvisor_FetchesOncePerOrigin(t *testing.T) {
	var fetches atomic.Int64
	srv := newRobotsTestServer("User-agent: *\nDisallow: /x\n", http.StatusOK, &fetches)
	defer srv.Close()

	advisor := NewRobotsAdvisor(newTestFetcher(t), nil, "")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := advisor.IsAllowed(ctx, fmt.Sprintf("%s/page-%d", srv.URL, i), "BurrBot"); err != nil {
			t.Fatalf("unexpected error on request %d: %v", i, err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("expected exactly 1 robots.txt fetch for the origin, got %d", got)
	}
}

func TestRobotsAdvisor_MissingRobotsAllowsEverything(t *testing.T) {
	srv := newRobotsTestServer("not found", http.StatusNotFound, nil)
	defer srv.Close()

	advisor := NewRobotsAdvisor(newTestFetcher(t), nil, "")

	allowed, err := advisor.IsAllowed(context.Background(), srv.URL+"/anything", "BurrBot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Errorf("expected a 404 robots.txt to allow everything")
	}
}

func TestRobotsAdvisor_DiskCacheSurvivesNewAdvisor(t *testing.T) {
	var fetches atomic.Int64
	srv := newRobotsTestServer("User-agent: *\nDisallow: /private\n", http.StatusOK, &fetches)
	defer srv.Close()

	cacheDir := t.TempDir()
	fetcher := newTestFetcher(t)
	ctx := context.Background()

	first := NewRobotsAdvisor(fetcher, nil, cacheDir)
	if _, err := first.IsAllowed(ctx, srv.URL+"/private/x", "BurrBot"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A fresh advisor sharing the cache dir must answer from disk, not
	// re-fetch within the TTL.
	second := NewRobotsAdvisor(fetcher, nil, cacheDir)
	allowed, err := second.IsAllowed(ctx, srv.URL+"/private/x", "BurrBot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Errorf("expected cached robots rules to still deny /private/x")
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("expected the second advisor to reuse the disk cache, got %d fetches", got)
	}
}

func TestRobotsAdvisor_SitemapsFromDirectives(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nAllow: /\nSitemap: %s/custom-sitemap.xml\n", srvURL)
	})
	mux.HandleFunc("/custom-sitemap.xml", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	advisor := NewRobotsAdvisor(newTestFetcher(t), nil, "")
	sitemaps := advisor.Sitemaps(context.Background(), srv.URL)

	found := false
	for _, sm := range sitemaps {
		if sm == srv.URL+"/custom-sitemap.xml" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the Sitemap: directive to be discovered, got %v", sitemaps)
	}
}

func TestRobotsCacheEntryExpiry(t *testing.T) {
	entry := robotsCacheEntry{FetchedAt: time.Now().UTC().Add(-25 * time.Hour)}
	if time.Since(entry.FetchedAt) < robotsCacheTTL {
		t.Errorf("expected a 25h-old entry to be past the TTL")
	}
}
