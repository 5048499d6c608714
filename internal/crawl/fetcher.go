package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/brackishlabs/burr/internal/bypass"
	"github.com/brackishlabs/burr/internal/fingerprint"
	"github.com/brackishlabs/burr/pkg/httpclient"
	"github.com/brackishlabs/burr/pkg/proxy"
	"github.com/brackishlabs/burr/pkg/useragent"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	ExtraHeaders map[string]string

	// OnResult, when set, observes every FetchResult the fetcher
	// produces, including failed ones. Used to feed request-level
	// metrics without this package depending on a metrics registry.
	OnResult func(FetchResult)
}

// FetchResult is what the fetcher collaborator returns for a single
// request: status, headers, content-type, final URL (post-redirect),
// and body (empty for Head).
type FetchResult struct {
	ID            string
	URL           string
	Proxy         string
	FinalURL      string
	StatusCode    int
	ContentType   string
	ContentLength int64
	Headers       http.Header
	Body          []byte
	Duration      time.Duration
	Error         string
	DetectedBot   bool
	DetectionSrc  string
}

// Fetcher performs HEAD/GET requests against the open web, optionally
// rotating proxies and user agents and presenting a uTLS-fingerprinted
// TLS handshake, and classifying bot-challenge responses.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher builds a Fetcher. Holding a single client across requests
// lets connection pooling and any configured cookie jar persist for the
// life of the Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10 // pass < 0 to disable redirect following
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if string(cfg.Fingerprint) == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}

	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if val := req.Context().Value(proxyKey); val != nil {
			if u, ok := val.(*url.URL); ok {
				return u, nil
			}
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, proxyFunc)
	if err != nil {
		return nil, fmt.Errorf("fetcher: setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("fetcher: create client: %w", err)
	}

	return &Fetcher{config: cfg, client: client}, nil
}

func (f *Fetcher) newRequest(ctx context.Context, method, targetURL string) (*http.Request, *url.URL, error) {
	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		if u, err := url.Parse(targetURL); err == nil && u.Host != "" {
			activeProxy = f.config.ProxyPool.ForHost(u.Host)
		} else {
			activeProxy = f.config.ProxyPool.Next()
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return nil, nil, err
	}
	if activeProxy != nil {
		req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
	}

	req.Header.Set("User-Agent", f.config.UAPool.GetSequential())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for k, v := range f.config.ExtraHeaders {
		req.Header.Set(k, v)
	}

	return req, activeProxy, nil
}

func (f *Fetcher) do(ctx context.Context, method, targetURL string, readBody bool, maxBytes int64) (FetchResult, error) {
	result, err := f.doRequest(ctx, method, targetURL, readBody, maxBytes)
	if f.config.OnResult != nil {
		f.config.OnResult(result)
	}
	return result, err
}

func (f *Fetcher) doRequest(ctx context.Context, method, targetURL string, readBody bool, maxBytes int64) (FetchResult, error) {
	start := time.Now()
	result := FetchResult{ID: uuid.New().String(), URL: targetURL}

	req, activeProxy, err := f.newRequest(ctx, method, targetURL)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	if activeProxy != nil {
		result.Proxy = activeProxy.Host
	}

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
		}
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Duration = time.Since(start)
		return result, nil
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	result.FinalURL = resp.Request.URL.String()
	result.StatusCode = resp.StatusCode
	result.Headers = resp.Header
	result.ContentType = resp.Header.Get("Content-Type")
	result.ContentLength = resp.ContentLength

	if readBody && maxBytes > 0 && resp.ContentLength > maxBytes {
		result.Error = fmt.Sprintf("content-length %d exceeds %d byte cap", resp.ContentLength, maxBytes)
		result.Duration = time.Since(start)
		return result, nil
	}

	if readBody {
		var reader io.Reader = resp.Body
		if maxBytes > 0 {
			reader = io.LimitReader(resp.Body, maxBytes+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			result.Error = fmt.Sprintf("failed to read body: %v", err)
		} else if maxBytes > 0 && int64(len(body)) > maxBytes {
			result.Error = fmt.Sprintf("body exceeds %d byte cap", maxBytes)
			body = nil
		}
		result.Body = body
	}
	result.Duration = time.Since(start)

	detected, source := bypass.Classify(bypass.Result{
		StatusCode: result.StatusCode,
		Headers:    result.Headers,
		Body:       result.Body,
	}, bypass.DefaultDetectors())
	result.DetectedBot = detected
	result.DetectionSrc = source

	return result, nil
}

// Get performs a full GET request and returns the response body.
func (f *Fetcher) Get(ctx context.Context, targetURL string) (FetchResult, error) {
	return f.do(ctx, http.MethodGet, targetURL, true, 0)
}

// GetCapped performs a GET request but aborts with an error once the
// response body exceeds maxBytes, used for asset downloads bounded by a
// job's max_asset_size_mb.
func (f *Fetcher) GetCapped(ctx context.Context, targetURL string, maxBytes int64) (FetchResult, error) {
	return f.do(ctx, http.MethodGet, targetURL, true, maxBytes)
}

// Head performs a HEAD request to cheaply inspect content-type and
// status before paying for a full body/render.
func (f *Fetcher) Head(ctx context.Context, targetURL string) (FetchResult, error) {
	return f.do(ctx, http.MethodHead, targetURL, false, 0)
}
