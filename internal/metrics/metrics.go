package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/brackishlabs/burr/internal/crawl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burr_fetch_requests_total",
			Help: "Total number of fetch requests executed by the crawler",
		},
		[]string{"domain", "status", "detected", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burr_fetch_duration_seconds",
			Help:    "Duration of fetch requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burr_fetch_bytes_total",
			Help: "Total bytes downloaded across all fetches",
		},
		[]string{"domain"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burr_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)

	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burr_pages_total",
			Help: "Total number of pages processed by a crawl job, by outcome",
		},
		[]string{"job_id", "domain", "outcome"},
	)
)

// RecordFetch updates the request-level metrics given a FetchResult and
// the domain it targeted.
func RecordFetch(domain string, res crawl.FetchResult) {
	detectedStr := "false"
	if res.DetectedBot {
		detectedStr = "true"
	}

	statusStr := strconv.Itoa(res.StatusCode)
	if res.Error != "" {
		statusStr = "error"
	}

	FetchRequestsTotal.WithLabelValues(domain, statusStr, detectedStr, res.DetectionSrc).Inc()
	FetchDuration.WithLabelValues(domain).Observe(res.Duration.Seconds())
	FetchBytesTotal.WithLabelValues(domain).Add(float64(len(res.Body)))
}

// RecordPage updates the job-level page-outcome counter from a processed
// PageRecord. outcome is "ok", "skipped", or "failed" following the same
// robots/content-type vs rate-limit/extraction split the orchestrator
// uses to update frontier stats.
func RecordPage(domain string, rec crawl.PageRecord) {
	outcome := "failed"
	switch crawl.Reason(rec.Reason) {
	case crawl.ReasonRobotsDisallowed, crawl.ReasonContentTypeReject, crawl.ReasonCancelled:
		outcome = "skipped"
	case "":
		if rec.OK {
			outcome = "ok"
		}
	}
	PagesTotal.WithLabelValues(rec.CrawlJobID, domain, outcome).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
// The server runs in a background goroutine and must be stopped via Server.Stop()
// to release resources and avoid leaks.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
