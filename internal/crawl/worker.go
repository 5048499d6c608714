package crawl

import (
	"context"
	"net/url"
	"path"
	"strings"
	"time"
)

// robotsUserAgent is the identity an Orchestrator presents to
// robots.txt, independent of whatever browser user agent the fetcher
// spoofs for the actual request.
const robotsUserAgent = "BurrBot"

const (
	rateLimitWaitTimeout = 30 * time.Second
	headProbeTimeout     = 10 * time.Second
	assetFetchTimeout    = 30 * time.Second
)

// runWorker pulls URLs off the frontier and processes each one until the
// frontier closes or ctx is cancelled.
func (o *Orchestrator) runWorker(ctx context.Context) {
	for {
		entry, ok := o.frontier.Dequeue(ctx)
		if !ok {
			return
		}

		rec := o.processURL(ctx, entry)
		o.recordResult(entry, rec)
	}
}

// processURL runs the full per-URL pipeline: robots check, rate-limit
// wait, content-type probe, render, link enqueue, and asset capture. It
// always returns a PageRecord; callers decide how to count it.
func (o *Orchestrator) processURL(ctx context.Context, entry Entry) PageRecord {
	rec := PageRecord{
		URL:        entry.URL,
		Depth:      entry.Depth,
		Timestamp:  time.Now().UTC(),
		CrawlJobID: o.jobID,
	}

	if o.params.RespectRobots && o.robots != nil {
		allowed, err := o.robots.IsAllowed(ctx, entry.URL, robotsUserAgent)
		if err == nil && !allowed {
			rec.OK = false
			rec.Reason = string(ReasonRobotsDisallowed)
			rec.noRecord = true
			return rec
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, rateLimitWaitTimeout)
	granted := o.limiter.WaitForPermission(waitCtx, entry.URL)
	cancel()
	if !granted {
		if ctx.Err() != nil {
			rec.Reason = string(ReasonCancelled)
		} else {
			rec.Reason = string(ReasonRateLimitTimeout)
		}
		rec.noRecord = true
		return rec
	}

	headCtx, headCancel := context.WithTimeout(ctx, headProbeTimeout)
	head, err := o.fetcher.Head(headCtx, entry.URL)
	headCancel()
	if err == nil && head.Error == "" {
		o.logger.Debug("head probe", "request_id", head.ID, "url", entry.URL, "status", head.StatusCode, "content_type", head.ContentType)
		if head.ContentType != "" && !IsContentTypeAllowed(head.ContentType, o.params.ContentTypes) {
			rec.StatusCode = head.StatusCode
			rec.Reason = string(ReasonContentTypeReject)
			return rec
		}
	}

	renderCtx := ctx
	if o.params.TimeoutMS > 0 {
		var renderCancel context.CancelFunc
		renderCtx, renderCancel = context.WithTimeout(ctx, time.Duration(o.params.TimeoutMS)*time.Millisecond)
		defer renderCancel()
	}
	render, err := o.renderer.Render(renderCtx, entry.URL, o.params)
	if err != nil {
		rec.StatusCode = render.StatusCode
		if ctx.Err() != nil {
			rec.Reason = string(ReasonCancelled)
			rec.noRecord = true
		} else {
			rec.Reason = string(ReasonExtractionFailed)
		}
		return rec
	}

	rec.StatusCode = render.StatusCode
	rec.OK = render.StatusCode >= 200 && render.StatusCode < 400
	rec.Title = render.Title
	rec.Length = render.Length
	rec.Article = &render

	if entry.Depth < o.params.MaxDepth {
		links := render.Links
		if len(links) == 0 && render.FullContent != "" {
			base := render.FinalURL
			if base == "" {
				base = entry.URL
			}
			if scraped, err := ScrapeAnchorsFromHTML(render.FullContent, base); err == nil {
				links = scraped
			}
		}
		o.enqueueLinks(entry, links)
	}

	if o.params.CaptureAssets {
		rec.Assets = o.captureAssets(ctx, entry, render)
	}

	return rec
}

func (o *Orchestrator) enqueueLinks(entry Entry, links []Link) {
	for _, link := range links {
		canonical, err := Canonicalize(link.URL, entry.URL, o.params.IgnoreQueryParams)
		if err != nil {
			continue
		}
		if !ShouldFollowLink(canonical, o.params, o.seed, link.Nofollow) {
			continue
		}
		o.frontier.Enqueue(canonical, entry.Depth+1)
	}
}

// captureAssets downloads every <img src>/PDF <a href> the extractor
// found on the page whose guessed MIME type matches capture_asset_types
// and whose URL passes the same scope check as an outlink, bounded by
// max_asset_size_mb each.
func (o *Orchestrator) captureAssets(ctx context.Context, entry Entry, render RenderResult) map[string]string {
	if o.store == nil {
		return nil
	}

	candidates := render.Assets
	if len(candidates) == 0 && render.FullContent != "" {
		base := render.FinalURL
		if base == "" {
			base = entry.URL
		}
		if scraped, err := ScrapeAssetsFromHTML(render.FullContent, base); err == nil {
			candidates = scraped
		}
	}

	capped := int64(o.params.MaxAssetSizeMB) * 1024 * 1024
	assets := make(map[string]string)

	for _, asset := range candidates {
		if !IsAssetTypeAllowed(asset.MIMEType, o.params.CaptureAssetTypes) {
			continue
		}
		canonical, err := Canonicalize(asset.URL, entry.URL, o.params.IgnoreQueryParams)
		if err != nil {
			continue
		}
		if !ShouldFollowLink(canonical, o.params, o.seed, false) {
			continue
		}

		assetCtx, assetCancel := context.WithTimeout(ctx, assetFetchTimeout)
		res, err := o.fetcher.GetCapped(assetCtx, asset.URL, capped)
		assetCancel()
		if err != nil {
			o.logger.Debug("asset download failed", "url", asset.URL, "reason", ReasonAssetDownloadError, "err", err)
			continue
		}
		if res.Error != "" {
			reason := ReasonAssetDownloadError
			if strings.Contains(res.Error, "exceeds") {
				reason = ReasonAssetTooLarge
			}
			o.logger.Debug("asset capture skipped", "url", asset.URL, "reason", reason, "detail", res.Error)
			continue
		}
		if len(res.Body) == 0 {
			continue
		}

		ext := ""
		if u, err := url.Parse(asset.URL); err == nil {
			ext = strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
		}
		blobFile, err := o.store.SaveAsset(o.jobID, res.Body, ext)
		if err != nil {
			o.logger.Warn("failed to save asset", "url", asset.URL, "err", err)
			continue
		}
		assets[asset.URL] = blobFile
	}
	return assets
}

// recordResult updates frontier stats, persists the page record, and
// emits a progress event. It never fails the job: a storage error is
// logged but the crawl continues.
//
// Robots/content-type rejections (and a URL whose rate-limit wait or
// render was cut short by job cancellation) are skipped; rate-limit
// timeouts and extraction failures are failed. Robots-disallowed, rate-limit-timeout, and
// cancelled results never reach the store; content-type rejections and
// extraction failures do, so they show up in exports and the pages
// list.
func (o *Orchestrator) recordResult(entry Entry, rec PageRecord) {
	switch Reason(rec.Reason) {
	case ReasonRobotsDisallowed, ReasonContentTypeReject, ReasonCancelled:
		o.frontier.MarkSkipped()
	case ReasonRateLimitTimeout, ReasonExtractionFailed:
		o.frontier.MarkFailure()
	default:
		if rec.OK {
			o.frontier.MarkSuccess()
		} else {
			o.frontier.MarkFailure()
		}
	}

	if o.store != nil && !rec.noRecord {
		if err := o.store.SavePage(o.jobID, rec); err != nil {
			o.logger.Warn("failed to save page record", "url", entry.URL, "reason", ReasonIOFailure, "err", err)
		}
	}

	o.emit(ProgressEvent{
		JobID: o.jobID,
		Stats: o.frontier.Snapshot(),
		Last:  rec,
	})
}
