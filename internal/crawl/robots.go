package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	robotsCacheTTL     = 24 * time.Hour
	robotsFetchTimeout = 10 * time.Second
)

// robotsCacheEntry is what gets written to disk per host.
type robotsCacheEntry struct {
	Body      []byte    `json:"body"`
	Status    int       `json:"status"`
	FetchedAt time.Time `json:"fetched_at"`
}

// RobotsAdvisor fetches, parses and caches robots.txt once per origin,
// both in memory and on disk with a 24h TTL, and reports sitemap
// directives. A fetch failure is cached as an always-allow result so
// repeated failures do not hammer the origin.
type RobotsAdvisor struct {
	fetcher  *Fetcher
	logger   *slog.Logger
	cacheDir string

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
	raw   map[string]robotsCacheEntry
}

// NewRobotsAdvisor creates an advisor. cacheDir may be empty to disable
// the on-disk TTL cache (memory-only for the job's lifetime).
func NewRobotsAdvisor(fetcher *Fetcher, logger *slog.Logger, cacheDir string) *RobotsAdvisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheDir != "" {
		_ = os.MkdirAll(cacheDir, 0o755)
	}
	return &RobotsAdvisor{
		fetcher:  fetcher,
		logger:   logger,
		cacheDir: cacheDir,
		cache:    make(map[string]*robotstxt.RobotsData),
		raw:      make(map[string]robotsCacheEntry),
	}
}

// IsAllowed reports whether targetURL may be fetched by userAgent
// according to the origin's robots.txt.
func (a *RobotsAdvisor) IsAllowed(ctx context.Context, targetURL, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("robots: invalid url: %w", err)
	}
	host := u.Scheme + "://" + u.Host

	data, err := a.getOrFetch(ctx, host)
	if err != nil {
		a.logger.Debug("robots.txt fetch failed, defaulting to allow", "host", host, "err", err)
		return true, nil
	}
	if data == nil {
		return true, nil
	}

	group := data.FindGroup(userAgent)
	return group.Test(u.Path), nil
}

func (a *RobotsAdvisor) getOrFetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	a.mu.RLock()
	data, exists := a.cache[host]
	entry, hasEntry := a.raw[host]
	a.mu.RUnlock()

	if exists && hasEntry && time.Since(entry.FetchedAt) < robotsCacheTTL {
		return data, nil
	}

	if diskEntry, ok := a.readDiskCache(host); ok && time.Since(diskEntry.FetchedAt) < robotsCacheTTL {
		parsed := parseRobotsEntry(diskEntry)
		a.mu.Lock()
		a.cache[host] = parsed
		a.raw[host] = diskEntry
		a.mu.Unlock()
		return parsed, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-check after acquiring the write lock in case another goroutine
	// refreshed it while we were reading the disk cache.
	if data, exists := a.cache[host]; exists {
		if entry, ok := a.raw[host]; ok && time.Since(entry.FetchedAt) < robotsCacheTTL {
			return data, nil
		}
	}

	robotsURL := host + "/robots.txt"
	fetchCtx, cancel := context.WithTimeout(ctx, robotsFetchTimeout)
	result, err := a.fetcher.Get(fetchCtx, robotsURL)
	cancel()

	entry = robotsCacheEntry{FetchedAt: time.Now().UTC()}
	if err != nil || result.Error != "" {
		a.cache[host] = nil
		a.raw[host] = entry
		a.writeDiskCache(host, entry)
		if err != nil {
			return nil, fmt.Errorf("robots: fetch error: %w", err)
		}
		return nil, fmt.Errorf("robots: fetch error: %s", result.Error)
	}

	entry.Status = result.StatusCode
	entry.Body = result.Body

	if result.StatusCode >= 400 {
		a.cache[host] = nil
		a.raw[host] = entry
		a.writeDiskCache(host, entry)
		return nil, nil
	}

	parsed := parseRobotsEntry(entry)
	a.cache[host] = parsed
	a.raw[host] = entry
	a.writeDiskCache(host, entry)
	return parsed, nil
}

func parseRobotsEntry(entry robotsCacheEntry) *robotstxt.RobotsData {
	if len(entry.Body) == 0 {
		return nil
	}
	parsed, err := robotstxt.FromBytes(entry.Body)
	if err != nil {
		return nil
	}
	return parsed
}

func (a *RobotsAdvisor) cacheFile(host string) string {
	if a.cacheDir == "" {
		return ""
	}
	key := strings.NewReplacer("://", "_", "/", "_", ":", "_").Replace(host)
	return filepath.Join(a.cacheDir, key+".json")
}

func (a *RobotsAdvisor) readDiskCache(host string) (robotsCacheEntry, bool) {
	path := a.cacheFile(host)
	if path == "" {
		return robotsCacheEntry{}, false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return robotsCacheEntry{}, false
	}
	var entry robotsCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return robotsCacheEntry{}, false
	}
	return entry, true
}

func (a *RobotsAdvisor) writeDiskCache(host string, entry robotsCacheEntry) {
	path := a.cacheFile(host)
	if path == "" {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, path)
}

// Sitemaps returns the union of Sitemap: directives from the origin's
// robots.txt and a handful of conventional sitemap paths that respond
// to a HEAD request with 2xx.
func (a *RobotsAdvisor) Sitemaps(ctx context.Context, origin string) []string {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		origin = "http://" + origin
	}

	found := make(map[string]struct{})

	if data, err := a.getOrFetch(ctx, origin); err == nil && data != nil {
		for _, sm := range data.Sitemaps {
			found[sm] = struct{}{}
		}
	}

	for _, path := range []string{
		"/sitemap.xml",
		"/sitemap_index.xml",
		"/sitemaps.xml",
		"/sitemap/sitemap.xml",
	} {
		candidate := origin + path
		if res, err := a.fetcher.Head(ctx, candidate); err == nil && res.StatusCode >= 200 && res.StatusCode < 300 {
			found[candidate] = struct{}{}
		}
	}

	out := make([]string, 0, len(found))
	for u := range found {
		out = append(out, u)
	}
	return out
}
