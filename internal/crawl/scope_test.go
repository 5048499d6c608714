package crawl

import "testing"

func mustSeed(t *testing.T, seedURL string) URLComponents {
	t.Helper()
	comps, err := Components(seedURL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return comps
}

func TestInScope_Domain(t *testing.T) {
	seed := mustSeed(t, "https://www.example.com/")
	params := CrawlParams{Scope: ScopeDomain}

	if !InScope("https://blog.example.com/post", params, seed) {
		t.Errorf("expected subdomain to be in scope for domain-scoped job")
	}
	if InScope("https://other.com/", params, seed) {
		t.Errorf("expected other.com to be out of scope")
	}
}

func TestInScope_Host(t *testing.T) {
	seed := mustSeed(t, "https://www.example.com/")
	params := CrawlParams{Scope: ScopeHost}

	if InScope("https://blog.example.com/post", params, seed) {
		t.Errorf("expected subdomain to be out of scope for host-scoped job")
	}
	if !InScope("https://www.example.com/other", params, seed) {
		t.Errorf("expected same host to be in scope")
	}
}

func TestInScope_PathPrefix(t *testing.T) {
	seed := mustSeed(t, "https://www.example.com/docs/")
	params := CrawlParams{Scope: ScopePathPrefix, PathPrefix: "/docs"}

	if !InScope("https://www.example.com/docs/guide", params, seed) {
		t.Errorf("expected /docs/guide to be in scope")
	}
	if InScope("https://www.example.com/blog/post", params, seed) {
		t.Errorf("expected /blog/post to be out of scope")
	}
}

func TestInScope_SameProtocolOnly(t *testing.T) {
	seed := mustSeed(t, "https://www.example.com/")
	params := CrawlParams{Scope: ScopeDomain, SameProtocolOnly: true}

	if InScope("http://www.example.com/insecure", params, seed) {
		t.Errorf("expected http link to be out of scope when same_protocol_only is set")
	}
}

func TestInScope_IncludeExclude(t *testing.T) {
	seed := mustSeed(t, "https://www.example.com/")
	params := CrawlParams{
		Scope:   ScopeDomain,
		Include: []string{`/blog/.*`},
		Exclude: []string{`/blog/draft-.*`},
	}

	if !InScope("https://www.example.com/blog/post-1", params, seed) {
		t.Errorf("expected /blog/post-1 to match include pattern")
	}
	if InScope("https://www.example.com/about", params, seed) {
		t.Errorf("expected /about to fail the include pattern")
	}
	if InScope("https://www.example.com/blog/draft-2", params, seed) {
		t.Errorf("expected /blog/draft-2 to be excluded")
	}
}

func TestShouldFollowLink_Nofollow(t *testing.T) {
	seed := mustSeed(t, "https://www.example.com/")
	params := CrawlParams{Scope: ScopeDomain}

	if ShouldFollowLink("https://www.example.com/a", params, seed, true) {
		t.Errorf("expected nofollow link to be skipped by default")
	}

	params.FollowNofollow = true
	if !ShouldFollowLink("https://www.example.com/a", params, seed, true) {
		t.Errorf("expected nofollow link to be followed when follow_nofollow is set")
	}
}

func TestIsContentTypeAllowed(t *testing.T) {
	allowed := []string{"text/html*"}
	if !IsContentTypeAllowed("text/html; charset=utf-8", allowed) {
		t.Errorf("expected text/html with charset to match text/html*")
	}
	if IsContentTypeAllowed("application/pdf", allowed) {
		t.Errorf("expected application/pdf not to match text/html*")
	}
	if IsContentTypeAllowed("", allowed) {
		t.Errorf("expected empty content type never to match")
	}
}
