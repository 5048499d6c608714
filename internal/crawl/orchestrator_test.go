package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func contextWithTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// fakeStore is a minimal in-memory JobStore for exercising the
// orchestrator without the on-disk store package.
type fakeStore struct {
	mu    sync.Mutex
	pages map[string]PageRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{pages: make(map[string]PageRecord)}
}

func (s *fakeStore) SavePage(jobID string, rec PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[rec.URL] = rec
	return nil
}

func (s *fakeStore) SaveAsset(jobID string, data []byte, ext string) (string, error) {
	return "blob", nil
}

func (s *fakeStore) SaveManifest(jobID string, params CrawlParams, state JobState) error {
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

func newLinkedTestServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
			<a href="/a">A</a> <a href="/b">B</a> <a href="https://external.example/other">external</a>
		</body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>A</title></head><body><a href="/b">B again</a></body></html>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>B</title></head><body>no links here</body></html>`)
	})
	return httptest.NewServer(mux)
}

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(FetchConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to build fetcher: %v", err)
	}
	return fetcher
}

func TestOrchestrator_CrawlsWithinScopeAndDedupes(t *testing.T) {
	srv := newLinkedTestServer()
	defer srv.Close()

	fetcher := newTestFetcher(t)
	store := newFakeStore()

	params := CrawlParams{
		SeedURL:                  srv.URL + "/",
		Scope:                    ScopeHost,
		MaxDepth:                 3,
		MaxPages:                 10,
		MaxDurationSec:           10,
		Concurrency:              2,
		RateLimitPerDomainPerSec: 100,
		ContentTypes:             []string{"text/html*"},
	}
	if err := params.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	orch, err := NewOrchestrator("test-job", params, Deps{
		Store:    store,
		Fetcher:  fetcher,
		Renderer: NewHTMLExtractor(fetcher),
	})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	ctx := contextWithTimeout(t, 5*time.Second)
	if err := orch.Start(ctx); err != nil {
		t.Fatalf("failed to start job: %v", err)
	}

	waitForStatus(t, orch, 3*time.Second)

	state := orch.State()
	if state.Status != StatusCompleted {
		t.Fatalf("expected job to complete, got status %q (last_error=%q)", state.Status, state.LastError)
	}
	if state.Stats.Visited != 3 {
		t.Errorf("expected 3 visited pages (/, /a, /b), got %d", state.Stats.Visited)
	}
	if store.count() != 3 {
		t.Errorf("expected 3 page records persisted, got %d", store.count())
	}
}

func TestOrchestrator_StopAbandonsInFlightWork(t *testing.T) {
	srv := newLinkedTestServer()
	defer srv.Close()

	fetcher := newTestFetcher(t)
	store := newFakeStore()

	params := CrawlParams{
		SeedURL:                  srv.URL + "/",
		Scope:                    ScopeHost,
		MaxDepth:                 3,
		MaxPages:                 10,
		MaxDurationSec:           10,
		Concurrency:              1,
		RateLimitPerDomainPerSec: 100,
		ContentTypes:             []string{"text/html*"},
	}
	_ = params.Validate()

	orch, err := NewOrchestrator("stop-job", params, Deps{
		Store:    store,
		Fetcher:  fetcher,
		Renderer: NewHTMLExtractor(fetcher),
	})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	ctx := contextWithTimeout(t, 5*time.Second)
	if err := orch.Start(ctx); err != nil {
		t.Fatalf("failed to start job: %v", err)
	}
	orch.Stop()

	waitForStatus(t, orch, 3*time.Second)

	state := orch.State()
	if state.Status != StatusStopped {
		t.Errorf("expected job to be stopped, got %q", state.Status)
	}
}

func TestOrchestrator_PauseAndResume(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>`)
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, `<a href="/p%d">p%d</a> `, i, i)
		}
		fmt.Fprint(w, `</body></html>`)
	})
	for i := 0; i < 10; i++ {
		mux.HandleFunc(fmt.Sprintf("/p%d", i), func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body>leaf</body></html>`)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := newTestFetcher(t)
	store := newFakeStore()

	params := CrawlParams{
		SeedURL:                  srv.URL + "/",
		Scope:                    ScopeHost,
		MaxDepth:                 2,
		MaxPages:                 20,
		MaxDurationSec:           30,
		Concurrency:              1,
		RateLimitPerDomainPerSec: 2, // slow enough to pause mid-crawl
		ContentTypes:             []string{"text/html*"},
	}
	_ = params.Validate()

	orch, err := NewOrchestrator("pause-job", params, Deps{
		Store:    store,
		Fetcher:  fetcher,
		Renderer: NewHTMLExtractor(fetcher),
	})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	ctx := contextWithTimeout(t, 30*time.Second)
	if err := orch.Start(ctx); err != nil {
		t.Fatalf("failed to start job: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if err := orch.Pause(); err != nil {
		t.Fatalf("failed to pause job: %v", err)
	}
	paused := orch.State()
	if paused.Status != StatusPaused {
		t.Fatalf("expected paused status, got %q", paused.Status)
	}
	if !paused.FinishedAt.IsZero() {
		t.Errorf("expected no finished_at on a paused job, got %v", paused.FinishedAt)
	}

	if err := orch.Resume(ctx); err != nil {
		t.Fatalf("failed to resume job: %v", err)
	}
	waitForStatus(t, orch, 25*time.Second)

	state := orch.State()
	if state.Status != StatusCompleted {
		t.Fatalf("expected job to complete after resume, got %q (last_error=%q)", state.Status, state.LastError)
	}
	if got, want := state.Stats.Visited, state.Stats.OK+state.Stats.Failed+state.Stats.Skipped; got != want {
		t.Errorf("expected visited (%d) to equal ok+failed+skipped (%d)", got, want)
	}
	if state.Stats.Visited < 11 {
		t.Errorf("expected all 11 pages visited across pause/resume, got %d", state.Stats.Visited)
	}
}

func TestOrchestrator_SeedExtraAppliesScope(t *testing.T) {
	fetcher := newTestFetcher(t)

	params := CrawlParams{
		SeedURL: "https://example.com/",
		Scope:   ScopeHost,
	}
	_ = params.Validate()

	orch, err := NewOrchestrator("seed-job", params, Deps{
		Fetcher:  fetcher,
		Renderer: NewHTMLExtractor(fetcher),
	})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	added := orch.SeedExtra([]string{
		"https://example.com/from-sitemap",
		"https://other.example.org/out-of-scope",
		"https://example.com/from-sitemap", // duplicate
		"::bad::url::",
	})
	if added != 1 {
		t.Errorf("expected exactly 1 accepted sitemap URL, got %d", added)
	}
	if orch.frontier.Size() != 1 {
		t.Errorf("expected 1 queued entry, got %d", orch.frontier.Size())
	}
}

func waitForStatus(t *testing.T, orch *Orchestrator, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if orch.State().Status.Terminal() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job did not reach a terminal status within %s", timeout)
}
