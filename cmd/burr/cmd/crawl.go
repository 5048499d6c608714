package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brackishlabs/burr/internal/crawl"
	"github.com/brackishlabs/burr/internal/fingerprint"
	"github.com/brackishlabs/burr/internal/metrics"
	"github.com/brackishlabs/burr/internal/report"
	"github.com/brackishlabs/burr/internal/store"
	"github.com/brackishlabs/burr/pkg/proxy"
	"github.com/brackishlabs/burr/pkg/useragent"
)

var crawlFlags struct {
	scope             string
	pathPrefix        string
	include           []string
	exclude           []string
	maxDepth          int
	maxPages          int
	maxDurationSec    int
	concurrency       int
	ratePerDomain     float64
	respectRobots     bool
	followNofollow    bool
	sameProtocolOnly  bool
	ignoreQueryParams []string
	contentTypes      []string
	captureAssets     bool
	captureAssetTypes []string
	maxAssetSizeMB    int
	fullContent       bool
	device            string
	proxyURL          string
	metricsPort       int
	defaultExcludes   bool
	seedSitemaps      bool
	sitemapMaxURLs    int
}

var crawlCmd = &cobra.Command{
	Use:   "crawl <seed-url>",
	Short: "Run a recursive crawl job from a seed URL until it completes",
	Args:  cobra.ExactArgs(1),
	RunE:  runCrawl,
}

func init() {
	f := crawlCmd.Flags()
	f.StringVar(&crawlFlags.scope, "scope", "domain", "scope kind: domain, host, path_prefix, custom")
	f.StringVar(&crawlFlags.pathPrefix, "path-prefix", "", "path prefix for path_prefix scope")
	f.StringSliceVar(&crawlFlags.include, "include", nil, "regular expressions a URL must match (at least one) to be in scope")
	f.StringSliceVar(&crawlFlags.exclude, "exclude", nil, "regular expressions that exclude a URL")
	f.BoolVar(&crawlFlags.defaultExcludes, "default-excludes", true, "fall back to the conventional spider-trap excludes when --exclude is unset")
	f.IntVar(&crawlFlags.maxDepth, "max-depth", 3, "maximum link-following depth from the seed")
	f.IntVar(&crawlFlags.maxPages, "max-pages", 1000, "maximum number of pages to visit")
	f.IntVar(&crawlFlags.maxDurationSec, "max-duration-sec", 600, "maximum job duration in seconds")
	f.IntVar(&crawlFlags.concurrency, "concurrency", 5, "number of concurrent workers")
	f.Float64Var(&crawlFlags.ratePerDomain, "rate-limit-per-domain", 1, "max requests per second per domain")
	f.BoolVar(&crawlFlags.respectRobots, "respect-robots", true, "honor robots.txt disallow rules")
	f.BoolVar(&crawlFlags.followNofollow, "follow-nofollow", false, "follow links marked rel=nofollow")
	f.BoolVar(&crawlFlags.sameProtocolOnly, "same-protocol-only", false, "never cross http<->https when following links")
	f.StringSliceVar(&crawlFlags.ignoreQueryParams, "ignore-query-params", nil, "query params to drop during canonicalization")
	f.StringSliceVar(&crawlFlags.contentTypes, "content-types", []string{"text/html*"}, "content-type globs eligible for rendering")
	f.BoolVar(&crawlFlags.captureAssets, "capture-assets", false, "download and store matching inline assets")
	f.StringSliceVar(&crawlFlags.captureAssetTypes, "capture-asset-types", []string{"image/*", "application/pdf"}, "MIME-type glob patterns eligible for asset capture")
	f.IntVar(&crawlFlags.maxAssetSizeMB, "max-asset-size-mb", 10, "per-asset size cap in megabytes")
	f.BoolVar(&crawlFlags.fullContent, "full-content", false, "retain the full raw page body in each page record")
	f.StringVar(&crawlFlags.device, "device", "", "device label steering the TLS fingerprint, e.g. \"Desktop Firefox\"")
	f.StringVar(&crawlFlags.proxyURL, "proxy", "", "proxy URL, or a path to a newline-delimited proxy list")
	f.IntVar(&crawlFlags.metricsPort, "metrics-port", 0, "expose Prometheus metrics on 127.0.0.1:<port>; 0 disables it")
	f.BoolVar(&crawlFlags.seedSitemaps, "seed-sitemaps", false, "discover the seed origin's sitemaps and enqueue their in-scope URLs alongside the seed")
	f.IntVar(&crawlFlags.sitemapMaxURLs, "sitemap-max-urls", 500, "cap the number of URLs taken from each discovered sitemap")

	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(c *cobra.Command, args []string) error {
	params := crawl.CrawlParams{
		SeedURL:                  args[0],
		Scope:                    crawl.ScopeKind(crawlFlags.scope),
		PathPrefix:               crawlFlags.pathPrefix,
		Include:                  crawlFlags.include,
		Exclude:                  crawlFlags.exclude,
		MaxDepth:                 crawlFlags.maxDepth,
		MaxPages:                 crawlFlags.maxPages,
		MaxDurationSec:           crawlFlags.maxDurationSec,
		Concurrency:              crawlFlags.concurrency,
		RateLimitPerDomainPerSec: crawlFlags.ratePerDomain,
		RespectRobots:            crawlFlags.respectRobots,
		FollowNofollow:           crawlFlags.followNofollow,
		SameProtocolOnly:         crawlFlags.sameProtocolOnly,
		IgnoreQueryParams:        crawlFlags.ignoreQueryParams,
		ContentTypes:             crawlFlags.contentTypes,
		CaptureAssets:            crawlFlags.captureAssets,
		CaptureAssetTypes:        crawlFlags.captureAssetTypes,
		MaxAssetSizeMB:           crawlFlags.maxAssetSizeMB,
		FullContent:              crawlFlags.fullContent,
		Device:                   crawlFlags.device,
		Proxy:                    crawlFlags.proxyURL,
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid crawl params: %w", err)
	}
	if crawlFlags.defaultExcludes {
		params = crawl.ApplyDefaultExcludes(params)
	}
	if errs := crawl.ValidateScopeConfig(params); len(errs) > 0 {
		return fmt.Errorf("invalid scope configuration: %s", strings.Join(errs, "; "))
	}

	s, cfg, err := openStore()
	if err != nil {
		return err
	}
	cfg.ApplyCeilings(&params)

	createdAt := time.Now()
	jobID := store.NewJobID(params.SeedURL, createdAt)
	if err := s.CreateJob(jobID, params, createdAt); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	// Log lines go to stderr and into the job directory's logs.txt, so a
	// finished job's directory is self-describing.
	logOut := io.Writer(os.Stderr)
	if dir, ok := s.JobDir(jobID); ok {
		if lf, err := os.OpenFile(filepath.Join(dir, "logs.txt"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			defer lf.Close()
			logOut = io.MultiWriter(os.Stderr, lf)
		}
	}
	logger := slog.New(slog.NewTextHandler(logOut, nil))

	var metricsSrv *metrics.Server
	if crawlFlags.metricsPort > 0 {
		metricsSrv = metrics.Start(crawlFlags.metricsPort)
		defer func() {
			_ = metricsSrv.Stop(context.Background())
		}()
	}

	var proxyPool *proxy.Pool
	if params.Proxy != "" {
		proxyPool = proxy.NewPool(proxy.Config{})
		if strings.Contains(params.Proxy, "://") {
			if err := proxyPool.Add(params.Proxy); err != nil {
				return fmt.Errorf("add proxy: %w", err)
			}
		} else if err := proxyPool.LoadFile(params.Proxy); err != nil {
			return fmt.Errorf("load proxy list: %w", err)
		}
	}

	fetcher, err := crawl.NewFetcher(crawl.FetchConfig{
		MaxRedirects: 10,
		UseCookieJar: true,
		ProxyPool:    proxyPool,
		UAPool:       useragent.NewPool(useragent.ForDevice(params.Device)),
		Fingerprint:  fingerprint.ProfileFromDevice(params.Device),
		ExtraHeaders: params.ExtraHTTPHeaders,
		OnResult: func(res crawl.FetchResult) {
			metrics.RecordFetch(hostOf(res.URL), res)
			if res.Proxy != "" && res.Error != "" {
				metrics.ProxyFailures.WithLabelValues(res.Proxy).Inc()
			}
		},
	})
	if err != nil {
		return fmt.Errorf("build fetcher: %w", err)
	}

	var robotsAdvisor *crawl.RobotsAdvisor
	if params.RespectRobots {
		robotsAdvisor = crawl.NewRobotsAdvisor(fetcher, logger, filepath.Join(s.Root(), ".robots_cache"))
	}

	orch, err := crawl.NewOrchestrator(jobID, params, crawl.Deps{
		Store:    s,
		Fetcher:  fetcher,
		Renderer: crawl.NewHTMLExtractor(fetcher),
		Robots:   robotsAdvisor,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if crawlFlags.seedSitemaps {
		advisor := robotsAdvisor
		if advisor == nil {
			advisor = crawl.NewRobotsAdvisor(fetcher, logger, "")
		}
		smFetcher := crawl.NewSitemapFetcher(fetcher, logger)

		var discovered []string
		for _, sm := range advisor.Sitemaps(ctx, originOf(params.SeedURL)) {
			urls, err := smFetcher.FetchSitemap(ctx, sm, crawlFlags.sitemapMaxURLs)
			if err != nil {
				logger.Warn("sitemap seeding failed", "url", sm, "err", err)
				continue
			}
			discovered = append(discovered, urls...)
		}
		if added := orch.SeedExtra(discovered); added > 0 {
			fmt.Printf("seeded %d sitemap URLs alongside %s\n", added, params.SeedURL)
		}
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	fmt.Printf("job %s started for %s (%s)\n", jobID, params.SeedURL, crawl.ScopeDescription(params, params.SeedURL))

	return waitForTermination(ctx, orch, s, jobID)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

// waitForTermination drains progress events until the orchestrator's
// job state reaches a terminal status or ctx is cancelled, in which case
// it asks the orchestrator to stop and waits once more for it to settle.
// On completion it prints a report.Summary built from the job's page
// records, the "print a final JobSummary" contract of the crawl command.
func waitForTermination(ctx context.Context, orch *crawl.Orchestrator, s *store.Store, jobID string) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		select {
		case ev, ok := <-orch.Progress():
			if ok {
				metrics.RecordPage(hostOf(ev.Last.URL), ev.Last)
				fmt.Printf("visited=%d ok=%d failed=%d skipped=%d queued=%d last=%s (%d)\n",
					ev.Stats.Visited, ev.Stats.OK, ev.Stats.Failed, ev.Stats.Skipped, ev.Stats.Queued,
					ev.Last.URL, ev.Last.StatusCode)
			}
		case <-done:
			done = nil
			orch.Stop()
		case <-ticker.C:
			state := orch.State()
			if state.Status.Terminal() {
				fmt.Printf("job %s finished: status=%s\n", state.JobID, state.Status)
				if pages, err := s.LoadAllPages(jobID); err == nil {
					_ = report.WriteText(os.Stdout, report.GenerateSummary(pages))
				}
				if state.Status == crawl.StatusFailed {
					return fmt.Errorf("job failed: %s", state.LastError)
				}
				return nil
			}
		}
	}
}
