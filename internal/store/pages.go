package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/brackishlabs/burr/internal/crawl"
)

// pageFilename keys a page record by sha256(canonical_url), so two
// workers racing on the same URL write the same file rather than
// clobbering distinct ones.
func pageFilename(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:]) + ".json"
}

// pageOnDisk adds the crawl_metadata envelope around the bare
// PageRecord fields.
type pageOnDisk struct {
	crawl.PageRecord
	CrawlMetadata crawlMetadata `json:"crawl_metadata"`
}

type crawlMetadata struct {
	JobID     string `json:"job_id"`
	Depth     int    `json:"depth"`
	CrawledAt string `json:"crawled_at"`
}

// SavePage writes rec once under pages/<sha256(url)>.json. Page records
// are write-once: a retry of the same URL overwrites, it never appends.
func (s *Store) SavePage(jobID string, rec crawl.PageRecord) error {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return fmt.Errorf("store: unknown job %q", jobID)
	}

	doc := pageOnDisk{
		PageRecord: rec,
		CrawlMetadata: crawlMetadata{
			JobID:     jobID,
			Depth:     rec.Depth,
			CrawledAt: rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal page record: %w", err)
	}

	path := filepath.Join(dir, "pages", pageFilename(rec.URL))
	if err := writeAtomic(path, raw); err != nil {
		return fmt.Errorf("store: write page record: %w", err)
	}
	return nil
}

// GetPage loads a single page record by its canonical URL.
func (s *Store) GetPage(jobID, canonicalURL string) (crawl.PageRecord, error) {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return crawl.PageRecord{}, fmt.Errorf("store: unknown job %q", jobID)
	}
	return loadPageFile(filepath.Join(dir, "pages", pageFilename(canonicalURL)))
}

func loadPageFile(path string) (crawl.PageRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return crawl.PageRecord{}, err
	}
	var doc pageOnDisk
	if err := json.Unmarshal(raw, &doc); err != nil {
		return crawl.PageRecord{}, err
	}
	return doc.PageRecord, nil
}

// PageSummary is the projection list_pages returns: enough to render a
// table without loading every extractor payload.
type PageSummary struct {
	URL        string `json:"url"`
	Depth      int    `json:"depth"`
	StatusCode int    `json:"status_code"`
	OK         bool   `json:"ok"`
	Reason     string `json:"reason,omitempty"`
	Title      string `json:"title,omitempty"`
}

// ListPages enumerates page files sorted by mtime ascending (crawl
// order), applies an optional ok/not-ok status filter, and returns the
// [offset, offset+limit) window.
func ListPages(jobDir string, offset, limit int, okFilter *bool) ([]PageSummary, error) {
	pagesDir := filepath.Join(jobDir, "pages")
	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read pages dir: %w", err)
	}

	type timedEntry struct {
		name  string
		mtime int64
	}
	timed := make([]timedEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		timed = append(timed, timedEntry{name: e.Name(), mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(timed, func(i, j int) bool { return timed[i].mtime < timed[j].mtime })

	var out []PageSummary
	for _, te := range timed {
		rec, err := loadPageFile(filepath.Join(pagesDir, te.name))
		if err != nil {
			continue
		}
		if okFilter != nil && rec.OK != *okFilter {
			continue
		}
		out = append(out, PageSummary{
			URL: rec.URL, Depth: rec.Depth, StatusCode: rec.StatusCode,
			OK: rec.OK, Reason: rec.Reason, Title: rec.Title,
		})
	}

	if offset >= len(out) {
		return nil, nil
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}

// ListPagesForJob is the JobStore-scoped convenience wrapper over
// ListPages used by callers that only have a job id.
func (s *Store) ListPagesForJob(jobID string, offset, limit int, okFilter *bool) ([]PageSummary, error) {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return nil, fmt.Errorf("store: unknown job %q", jobID)
	}
	return ListPages(dir, offset, limit, okFilter)
}

// LoadAllPages returns every page record for jobID, crawl order, for
// callers (e.g. internal/report) that need the full records rather than
// the ListPages summary projection.
func (s *Store) LoadAllPages(jobID string) ([]crawl.PageRecord, error) {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return nil, fmt.Errorf("store: unknown job %q", jobID)
	}

	pagesDir := filepath.Join(dir, "pages")
	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read pages dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		ii, _ := entries[i].Info()
		jj, _ := entries[j].Info()
		if ii == nil || jj == nil {
			return entries[i].Name() < entries[j].Name()
		}
		return ii.ModTime().Before(jj.ModTime())
	})

	out := make([]crawl.PageRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := loadPageFile(filepath.Join(pagesDir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
