// Package crawl implements the recursive crawling engine: URL
// canonicalization, scope filtering, the deduplicating frontier, the
// per-domain rate limiter, the robots/sitemap advisor, and the
// orchestrator/worker pool that drives a single crawl job to completion.
package crawl

import (
	"fmt"
	"time"
)

// ScopeKind selects how in_scope decides whether a discovered URL belongs
// to a job.
type ScopeKind string

const (
	ScopeDomain     ScopeKind = "domain"
	ScopeHost       ScopeKind = "host"
	ScopePathPrefix ScopeKind = "path_prefix"
	ScopeCustom     ScopeKind = "custom"
)

// WaitUntil mirrors the render-readiness signals a headless renderer can
// wait for before returning a page's content.
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
	WaitCommit           WaitUntil = "commit"
)

// Status is a job's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// CrawlParams is the immutable configuration of a single crawl job. It is
// built once from the submitting request and never mutated afterward.
type CrawlParams struct {
	SeedURL string

	Scope      ScopeKind
	PathPrefix string
	Include    []string
	Exclude    []string

	MaxDepth       int
	MaxPages       int
	MaxDurationSec int
	Concurrency    int

	RateLimitPerDomainPerSec float64
	RespectRobots            bool
	FollowNofollow           bool
	SameProtocolOnly         bool

	IgnoreQueryParams []string
	ContentTypes      []string

	CaptureAssets     bool
	CaptureAssetTypes []string
	MaxAssetSizeMB    int

	Screenshot           bool
	FullContent          bool
	WaitUntil            WaitUntil
	TimeoutMS            int
	SleepMS              int
	Device               string
	UserScripts          []string
	UserScriptsTimeoutMS int
	Incognito            bool
	Proxy                string
	ExtraHTTPHeaders     map[string]string
}

// Validate applies the defaults and sanity checks a job needs before it
// can be submitted to an orchestrator.
func (p *CrawlParams) Validate() error {
	if p.SeedURL == "" {
		return fmt.Errorf("crawl params: seed url is required")
	}
	if p.Scope == "" {
		p.Scope = ScopeDomain
	}
	if p.Scope == ScopePathPrefix && p.PathPrefix == "" {
		return fmt.Errorf("crawl params: path_prefix scope requires a path_prefix")
	}
	if p.Scope == ScopeCustom && len(p.Include) == 0 && len(p.Exclude) == 0 {
		return fmt.Errorf("crawl params: custom scope requires include or exclude patterns")
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = 3
	}
	if p.MaxPages <= 0 {
		p.MaxPages = 1000
	}
	if p.MaxDurationSec <= 0 {
		p.MaxDurationSec = 600
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 5
	}
	if p.RateLimitPerDomainPerSec <= 0 {
		p.RateLimitPerDomainPerSec = 1
	}
	if len(p.ContentTypes) == 0 {
		p.ContentTypes = []string{"text/html*"}
	}
	if p.WaitUntil == "" {
		p.WaitUntil = WaitLoad
	}
	if p.TimeoutMS <= 0 {
		p.TimeoutMS = 30000
	}
	if p.MaxAssetSizeMB <= 0 {
		p.MaxAssetSizeMB = 10
	}
	return nil
}

// Stats are the cumulative counters a frontier and orchestrator maintain
// for a job's lifetime.
type Stats struct {
	Queued   int `json:"queued"`
	Visited  int `json:"visited"`
	OK       int `json:"ok"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Enqueued int `json:"enqueued"`
}

// JobState is the mutable record of a crawl job's progress, persisted in
// the job's manifest.json.
type JobState struct {
	JobID      string    `json:"job_id"`
	SeedURL    string    `json:"seed_url"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Status     Status    `json:"status"`
	Stats      Stats     `json:"stats"`
	LastError  string    `json:"last_error,omitempty"`
}

// ElapsedSeconds returns how long the job has been running, using
// FinishedAt when the job is terminal.
func (s JobState) ElapsedSeconds() float64 {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.FinishedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return end.Sub(s.StartedAt).Seconds()
}

// Terminal reports whether the job has reached a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// RenderResult is what the extractor/renderer collaborator returns for a
// single URL.
type RenderResult struct {
	FinalURL      string
	StatusCode    int
	ContentType   string
	Title         string
	Content       string
	TextContent   string
	Length        int
	Meta          map[string]string
	FullContent   string
	ScreenshotRef string
	Links         []Link
	Assets        []AssetCandidate
}

// Link is a discovered outlink with its anchor text and rel attributes.
type Link struct {
	URL      string
	Text     string
	Nofollow bool
}

// AssetCandidate is an inline asset reference discovered during
// extraction (an <img src> or PDF-ending <a href>), paired with a
// best-guess MIME type from its extension.
type AssetCandidate struct {
	URL      string
	MIMEType string
}

// AssetRef records a captured inline asset attached to a page.
type AssetRef struct {
	SourceURL string `json:"source_url"`
	BlobFile  string `json:"blob_file"`
}

// PageRecord is the durable, write-once record of a single processed URL.
type PageRecord struct {
	URL        string            `json:"url"`
	Depth      int               `json:"depth"`
	StatusCode int               `json:"status_code"`
	OK         bool              `json:"ok"`
	Timestamp  time.Time         `json:"timestamp"`
	Reason     string            `json:"reason,omitempty"`
	Title      string            `json:"title,omitempty"`
	Length     int               `json:"length,omitempty"`
	Article    *RenderResult     `json:"article_result,omitempty"`
	Assets     map[string]string `json:"assets,omitempty"`
	CrawlJobID string            `json:"-"`

	// noRecord marks a result that must not be persisted to the store at
	// all (robots-disallowed, rate-limit timeout, or cut short by job
	// cancellation), so no page record exists for a URL rejected before a
	// fetch/render was attempted or abandoned part-way. Never serialized.
	noRecord bool
}
