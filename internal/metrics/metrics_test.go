package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/brackishlabs/burr/internal/crawl"
)

func TestMetricsServer(t *testing.T) {
	srv := Start(8888)
	// Give it a tiny bit of time to start up
	time.Sleep(100 * time.Millisecond)

	defer srv.Stop(context.Background())

	RecordFetch("example.com", crawl.FetchResult{
		StatusCode: 200,
		Body:       []byte("hello world"), // 11 bytes
		Duration:   1 * time.Second,
	})
	RecordPage("example.com", crawl.PageRecord{CrawlJobID: "deadbeef", OK: true})

	resp, err := http.Get("http://localhost:8888/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	output := string(body)

	if !strings.Contains(output, "burr_fetch_requests_total") {
		t.Errorf("expected burr_fetch_requests_total metric")
	}

	if !strings.Contains(output, `burr_fetch_duration_seconds_bucket`) {
		t.Errorf("expected burr_fetch_duration_seconds metric")
	}

	if !strings.Contains(output, `burr_fetch_bytes_total{domain="example.com"}`) {
		t.Errorf("expected burr_fetch_bytes_total metric for example.com")
	}

	if !strings.Contains(output, `burr_pages_total{domain="example.com",job_id="deadbeef",outcome="ok"}`) {
		t.Errorf("expected burr_pages_total metric for example.com")
	}
}
