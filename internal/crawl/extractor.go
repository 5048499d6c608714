package crawl

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Renderer is the external renderer/extractor collaborator of a crawl
// job. Implementations may be backed by a headless browser;
// this package's HTMLExtractor is a non-headless default grounded on the
// fetcher and goquery.
type Renderer interface {
	Render(ctx context.Context, targetURL string, params CrawlParams) (RenderResult, error)
}

// HTMLExtractor is the default Renderer: it fetches raw HTML via a
// Fetcher and pulls title, meta tags, and outlinks with goquery
// selectors. It never produces a screenshot, since this implementation
// has no headless-browser dependency; a real deployment substitutes its
// own Renderer without the orchestrator noticing.
type HTMLExtractor struct {
	fetcher *Fetcher
}

// NewHTMLExtractor creates a default Renderer over fetcher.
func NewHTMLExtractor(fetcher *Fetcher) *HTMLExtractor {
	return &HTMLExtractor{fetcher: fetcher}
}

// Render fetches targetURL and extracts its content per params.
func (h *HTMLExtractor) Render(ctx context.Context, targetURL string, params CrawlParams) (RenderResult, error) {
	res, err := h.fetcher.Get(ctx, targetURL)
	if err != nil {
		return RenderResult{}, fmt.Errorf("extractor: fetch: %w", err)
	}
	if res.Error != "" {
		return RenderResult{StatusCode: res.StatusCode}, fmt.Errorf("extractor: %s", res.Error)
	}
	if res.DetectedBot {
		return RenderResult{StatusCode: res.StatusCode}, fmt.Errorf("extractor: blocked by bot protection (%s)", res.DetectionSrc)
	}

	result := RenderResult{
		FinalURL:    res.FinalURL,
		StatusCode:  res.StatusCode,
		ContentType: res.ContentType,
		Length:      len(res.Body),
	}
	if params.FullContent {
		result.FullContent = string(res.Body)
	}

	if !strings.Contains(strings.ToLower(res.ContentType), "text/html") {
		return result, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return result, fmt.Errorf("extractor: parse html: %w", err)
	}

	result.Title = strings.TrimSpace(doc.Find("title").First().Text())

	meta := make(map[string]string)
	doc.Find("meta[name], meta[property]").Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr("name")
		if key == "" {
			key, _ = s.Attr("property")
		}
		if key == "" {
			return
		}
		if content, ok := s.Attr("content"); ok {
			meta[key] = content
		}
	})
	result.Meta = meta

	body := doc.Find("body")
	result.TextContent = strings.Join(strings.Fields(body.Text()), " ")
	if html, err := body.Html(); err == nil {
		result.Content = html
	}

	base := res.FinalURL
	if base == "" {
		base = targetURL
	}
	links, err := ExtractLinks(doc, base)
	if err != nil {
		return result, fmt.Errorf("extractor: extract links: %w", err)
	}
	result.Links = links
	result.Assets = ExtractAssets(doc, base)

	return result, nil
}

// ExtractLinks walks every <a href> in doc, resolves it against baseURL,
// and skips anchors, javascript:/mailto:/tel: targets, and empty hrefs.
func ExtractLinks(doc *goquery.Document, baseURL string) ([]Link, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		trimmed := strings.TrimSpace(href)
		lower := strings.ToLower(trimmed)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(lower, "javascript:") ||
			strings.HasPrefix(lower, "mailto:") ||
			strings.HasPrefix(lower, "tel:") {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(u)
		rel, _ := s.Attr("rel")
		links = append(links, Link{
			URL:      resolved.String(),
			Text:     strings.TrimSpace(s.Text()),
			Nofollow: strings.Contains(rel, "nofollow"),
		})
	})
	return links, nil
}

// imageExtMIME maps the image extensions the asset scanner recognizes
// directly to a MIME type; anything else falls back to "image/*".
var imageExtMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
}

// ExtractAssets walks doc for inline asset references — `<img src>` and
// PDF-ending `<a href>` — and resolves each against baseURL, guessing a
// MIME type from the extension the way captureAssets' later
// is_asset_type_allowed filter expects. It does not itself apply
// is_asset_type_allowed or should_follow_link; the worker's captureAssets
// does both before downloading.
func ExtractAssets(doc *goquery.Document, baseURL string) []AssetCandidate {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var assets []AssetCandidate

	add := func(href, mimeType string) {
		trimmed := strings.TrimSpace(href)
		if trimmed == "" || strings.HasPrefix(strings.ToLower(trimmed), "data:") {
			return
		}
		u, err := url.Parse(trimmed)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(u).String()
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		assets = append(assets, AssetCandidate{URL: resolved, MIMEType: mimeType})
	}

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			return
		}
		mimeType := "image/*"
		lower := strings.ToLower(strings.TrimSpace(src))
		for ext, m := range imageExtMIME {
			if strings.HasSuffix(lower, ext) {
				mimeType = m
				break
			}
		}
		add(src, mimeType)
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(href)), ".pdf") {
			return
		}
		add(href, "application/pdf")
	})

	return assets
}

// ScrapeAssetsFromHTML parses raw HTML and extracts its asset
// candidates. It is the asset-capture analogue of
// ScrapeAnchorsFromHTML, used when an external Renderer returned no
// Assets of its own but did return FullContent.
func ScrapeAssetsFromHTML(html, baseURL string) ([]AssetCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("scrape assets: parse html: %w", err)
	}
	return ExtractAssets(doc, baseURL), nil
}

// ScrapeAnchorsFromHTML parses raw HTML and extracts its outlinks. It is
// the fallback used when an external Renderer's own link
// extraction came back empty but the page still produced FullContent.
func ScrapeAnchorsFromHTML(html, baseURL string) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("scrape anchors: parse html: %w", err)
	}
	return ExtractLinks(doc, baseURL)
}
