package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/brackishlabs/burr/internal/crawl"
	"github.com/brackishlabs/burr/internal/fingerprint"
	"github.com/brackishlabs/burr/pkg/useragent"
)

var sitemapFlags struct {
	maxURLs int
}

var sitemapCmd = &cobra.Command{
	Use:   "sitemap <origin>",
	Short: "Discover an origin's sitemaps via robots.txt and list the URLs they advertise",
	Args:  cobra.ExactArgs(1),
	RunE:  runSitemap,
}

func init() {
	sitemapCmd.Flags().IntVar(&sitemapFlags.maxURLs, "max-urls", 0, "cap the number of URLs printed; 0 means unbounded")
	rootCmd.AddCommand(sitemapCmd)
}

func runSitemap(c *cobra.Command, args []string) error {
	origin := args[0]
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fetcher, err := crawl.NewFetcher(crawl.FetchConfig{
		UAPool:      useragent.NewPool(nil),
		Fingerprint: fingerprint.ProfileChrome,
	})
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}

	robots := crawl.NewRobotsAdvisor(fetcher, logger, "")
	sitemapFetcher := crawl.NewSitemapFetcher(fetcher, logger)

	ctx := context.Background()
	sitemaps := robots.Sitemaps(ctx, origin)
	if len(sitemaps) == 0 {
		return fmt.Errorf("no sitemaps discovered at %s: %s", origin, crawl.ReasonSitemapParseError)
	}

	seen := make(map[string]struct{})
	for _, sm := range sitemaps {
		urls, err := sitemapFetcher.FetchSitemap(ctx, sm, sitemapFlags.maxURLs)
		if err != nil {
			logger.Warn("sitemap fetch failed", "url", sm, "reason", crawl.ReasonSitemapParseError, "err", err)
			continue
		}
		for _, u := range urls {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			fmt.Println(u)
		}
	}
	return nil
}
