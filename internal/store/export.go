package store

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ExportJSONL rewrites exports/results.jsonl for jobID: one line per page
// record, extractor payload spread at the top level alongside the
// always-present {url, depth, ok, status_code, timestamp} fields.
func (s *Store) ExportJSONL(jobID string) (string, error) {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return "", fmt.Errorf("store: unknown job %q", jobID)
	}

	pagesDir := filepath.Join(dir, "pages")
	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("store: read pages dir: %w", err)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	outPath := filepath.Join(dir, "exports", "results.jsonl")
	tmp := outPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("store: create export file: %w", err)
	}

	for _, e := range entries {
		rec, err := loadPageFile(filepath.Join(pagesDir, e.Name()))
		if err != nil {
			continue
		}

		flat := map[string]any{
			"url":         rec.URL,
			"depth":       rec.Depth,
			"ok":          rec.OK,
			"status_code": rec.StatusCode,
			"timestamp":   rec.Timestamp,
		}
		if rec.Reason != "" {
			flat["reason"] = rec.Reason
		}
		if rec.Article != nil {
			flat["title"] = rec.Article.Title
			flat["content"] = rec.Article.Content
			flat["text_content"] = rec.Article.TextContent
			flat["meta"] = rec.Article.Meta
			flat["links"] = rec.Article.Links
			flat["length"] = rec.Article.Length
			flat["full_content"] = rec.Article.FullContent
			flat["final_url"] = rec.Article.FinalURL
			flat["screenshot_ref"] = rec.Article.ScreenshotRef
		}
		if len(rec.Assets) > 0 {
			flat["assets"] = rec.Assets
		}

		line, err := json.Marshal(flat)
		if err != nil {
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("store: write export line: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("store: close export file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return "", fmt.Errorf("store: rename export file: %w", err)
	}
	return outPath, nil
}

// ExportZIP bundles results.jsonl (regenerated first), the manifest, and
// the entire pages/ and blobs/ trees into exports/results.zip.
func (s *Store) ExportZIP(jobID string) (string, error) {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return "", fmt.Errorf("store: unknown job %q", jobID)
	}

	jsonlPath, err := s.ExportJSONL(jobID)
	if err != nil {
		return "", err
	}

	zipPath := filepath.Join(dir, "exports", "results.zip")
	tmp := zipPath + ".tmp"

	zf, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("store: create zip file: %w", err)
	}
	w := zip.NewWriter(zf)

	add := func(srcPath, zipName string) error {
		info, err := os.Stat(srcPath)
		if err != nil {
			return nil // missing is not fatal for an optional directory entry
		}
		if info.IsDir() {
			return nil
		}
		src, err := os.Open(srcPath)
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := w.Create(zipName)
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		return err
	}

	if err := add(jsonlPath, "results.jsonl"); err != nil {
		_ = w.Close()
		_ = zf.Close()
		return "", fmt.Errorf("store: zip jsonl: %w", err)
	}
	if err := add(filepath.Join(dir, "manifest.json"), "manifest.json"); err != nil {
		_ = w.Close()
		_ = zf.Close()
		return "", fmt.Errorf("store: zip manifest: %w", err)
	}

	for _, sub := range []string{"pages", "blobs"} {
		subDir := filepath.Join(dir, sub)
		entries, err := os.ReadDir(subDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := add(filepath.Join(subDir, e.Name()), filepath.Join(sub, e.Name())); err != nil {
				_ = w.Close()
				_ = zf.Close()
				return "", fmt.Errorf("store: zip %s: %w", sub, err)
			}
		}
	}

	if err := w.Close(); err != nil {
		_ = zf.Close()
		return "", fmt.Errorf("store: finalize zip: %w", err)
	}
	if err := zf.Close(); err != nil {
		return "", fmt.Errorf("store: close zip file: %w", err)
	}
	if err := os.Rename(tmp, zipPath); err != nil {
		return "", fmt.Errorf("store: rename zip file: %w", err)
	}
	return zipPath, nil
}
