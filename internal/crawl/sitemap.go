package crawl

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	sitemap "github.com/oxffaa/gopher-parse-sitemap"
)

// SitemapFetcher fetches and recursively parses sitemaps (and sitemap
// indexes) to seed a job's frontier beyond what link-following alone
// would discover.
type SitemapFetcher struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewSitemapFetcher creates a SitemapFetcher over an existing Fetcher so
// sitemap requests share the job's proxy/UA/fingerprint configuration.
func NewSitemapFetcher(fetcher *Fetcher, logger *slog.Logger) *SitemapFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapFetcher{fetcher: fetcher, logger: logger}
}

// maxSitemapIndexDepth bounds recursive descent into nested sitemap
// indexes so a misconfigured site cannot loop forever.
const maxSitemapIndexDepth = 1

// FetchSitemap fetches a sitemap URL and returns up to maxURLs <loc>
// entries, recursively descending into nested sitemap indexes up to
// maxSitemapIndexDepth levels. maxURLs <= 0 means unbounded.
func (s *SitemapFetcher) FetchSitemap(ctx context.Context, sitemapURL string, maxURLs int) ([]string, error) {
	urls, err := s.fetchSitemap(ctx, sitemapURL, 0)
	if err != nil {
		return nil, err
	}
	if maxURLs > 0 && len(urls) > maxURLs {
		urls = urls[:maxURLs]
	}
	return urls, nil
}

func (s *SitemapFetcher) fetchSitemap(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	s.logger.Debug("fetching sitemap", "url", sitemapURL, "depth", depth)

	result, err := s.fetcher.Get(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("sitemap: fetch: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("sitemap: fetch error: %s", result.Error)
	}
	if result.StatusCode >= 400 {
		return nil, fmt.Errorf("sitemap: bad status code: %d", result.StatusCode)
	}

	var urls []string
	err = sitemap.Parse(bytes.NewReader(result.Body), func(e sitemap.Entry) error {
		urls = append(urls, e.GetLocation())
		return nil
	})

	if err != nil || len(urls) == 0 {
		var nested []string
		indexErr := sitemap.ParseIndex(bytes.NewReader(result.Body), func(e sitemap.IndexEntry) error {
			if len(nested) < 10 {
				nested = append(nested, e.GetLocation())
			}
			return nil
		})

		if indexErr != nil || (len(urls) == 0 && len(nested) == 0) {
			return nil, fmt.Errorf("sitemap: parse as sitemap or index: %w", err)
		}

		if depth >= maxSitemapIndexDepth {
			s.logger.Warn("sitemap index nesting too deep, stopping descent", "url", sitemapURL)
			return urls, nil
		}

		for _, nestedURL := range nested {
			nestedURLs, fetchErr := s.fetchSitemap(ctx, nestedURL, depth+1)
			if fetchErr != nil {
				s.logger.Warn("failed to fetch nested sitemap", "url", nestedURL, "err", fetchErr)
				continue
			}
			urls = append(urls, nestedURLs...)
		}
	}

	return urls, nil
}
