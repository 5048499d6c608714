// Package ratelimit provides per-domain token-bucket rate limiting for a
// crawl job, with an optional global ceiling checked ahead of the
// per-domain bucket.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// DomainLimiter hands out per-domain rate.Limiter values, creating them
// lazily on first use. It is safe for concurrent use.
type DomainLimiter struct {
	defaultRate float64

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rates   map[string]float64

	global *rate.Limiter
}

// NewDomainLimiter creates a limiter defaulting every unseen domain to
// defaultRate requests/second. If globalRate > 0, an additional bucket
// caps the aggregate request rate across all domains, checked before the
// per-domain bucket.
func NewDomainLimiter(defaultRate float64, globalRate float64) *DomainLimiter {
	if defaultRate <= 0 {
		defaultRate = 1
	}
	dl := &DomainLimiter{
		defaultRate: defaultRate,
		buckets:     make(map[string]*rate.Limiter),
		rates:       make(map[string]float64),
	}
	if globalRate > 0 {
		dl.global = rate.NewLimiter(rate.Limit(globalRate), burstFor(globalRate))
	}
	return dl
}

func burstFor(r float64) int {
	b := int(r + 0.999)
	if b < 1 {
		b = 1
	}
	return b
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}

// SetDomainRate overrides the rate used for a specific domain, creating
// or updating its bucket.
func (d *DomainLimiter) SetDomainRate(domain string, r float64) {
	domain = strings.ToLower(domain)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rates[domain] = r
	if b, ok := d.buckets[domain]; ok {
		b.SetLimit(rate.Limit(r))
		b.SetBurst(burstFor(r))
	}
}

func (d *DomainLimiter) bucketFor(domain string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.buckets[domain]; ok {
		return b
	}
	r := d.defaultRate
	if custom, ok := d.rates[domain]; ok {
		r = custom
	}
	b := rate.NewLimiter(rate.Limit(r), burstFor(r))
	d.buckets[domain] = b
	return b
}

// WaitForPermission blocks until a token is available for url's domain
// (and the global bucket, if configured), or until ctx is cancelled.
// It returns false if the context was cancelled before permission was
// granted, true otherwise.
func (d *DomainLimiter) WaitForPermission(ctx context.Context, rawURL string) bool {
	if d.global != nil {
		if err := d.global.Wait(ctx); err != nil {
			return false
		}
	}

	bucket := d.bucketFor(domainOf(rawURL))
	if err := bucket.Wait(ctx); err != nil {
		return false
	}
	return true
}

// Allow is a non-blocking check: it reports whether a request to url's
// domain may proceed immediately, consuming a token if so.
func (d *DomainLimiter) Allow(rawURL string) bool {
	if d.global != nil && !d.global.Allow() {
		return false
	}
	return d.bucketFor(domainOf(rawURL)).Allow()
}

// ClearDomain drops a domain's bucket and any custom rate, so the next
// request re-creates it from the default rate.
func (d *DomainLimiter) ClearDomain(domain string) {
	domain = strings.ToLower(domain)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buckets, domain)
	delete(d.rates, domain)
}
