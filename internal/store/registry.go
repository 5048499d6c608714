package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/brackishlabs/burr/internal/crawl"
)

// JobSummary is the projection list_jobs returns: the manifest's
// identity and status fields without the full CrawlParams payload.
type JobSummary struct {
	JobID      string       `json:"job_id"`
	SeedURL    string       `json:"seed_url"`
	Domain     string       `json:"domain"`
	Status     crawl.Status `json:"status"`
	Stats      crawl.Stats  `json:"stats"`
	ElapsedSec float64      `json:"elapsed_sec"`
}

// ListJobs returns job summaries sorted by mtime descending. When the
// store has a RegistryIndex it answers from there; otherwise it falls
// back to a full scan of every domain subdirectory under root (also used
// when the index query fails). The index path orders by the time of each
// job's last manifest write, matching the scan's mtime order, but it
// lists only the jobs the index has recorded: nothing rebuilds the index
// from the manifest tree.
func (s *Store) ListJobs(limit, offset int) ([]JobSummary, error) {
	if s.index != nil {
		summaries, err := s.index.List(limit, offset)
		if err == nil {
			return summaries, nil
		}
	}
	return s.listJobsByScan(limit, offset)
}

func (s *Store) listJobsByScan(limit, offset int) ([]JobSummary, error) {
	domains, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("store: read root: %w", err)
	}

	type found struct {
		summary JobSummary
		mtime   int64
	}
	var all []found

	for _, d := range domains {
		if !d.IsDir() {
			continue
		}
		domainDir := filepath.Join(s.root, d.Name())
		jobDirs, err := os.ReadDir(domainDir)
		if err != nil {
			continue
		}
		for _, jd := range jobDirs {
			if !jd.IsDir() {
				continue
			}
			manifestPath := filepath.Join(domainDir, jd.Name(), "manifest.json")
			info, err := os.Stat(manifestPath)
			if err != nil {
				continue
			}
			params, state, err := loadManifestFile(manifestPath)
			if err != nil {
				continue
			}
			all = append(all, found{
				summary: JobSummary{
					JobID: state.JobID, SeedURL: params.SeedURL, Domain: d.Name(),
					Status: state.Status, Stats: state.Stats, ElapsedSec: state.ElapsedSeconds(),
				},
				mtime: info.ModTime().UnixNano(),
			})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].mtime > all[j].mtime })

	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]JobSummary, 0, end-offset)
	for _, f := range all[offset:end] {
		out = append(out, f.summary)
	}
	return out, nil
}

// scanForJobDir walks the domain tree for the directory whose name
// carries jobID's 8-char prefix. It is the fallback for jobs that
// predate the current .job_registry.json (deleted or corrupt); a hit
// repairs the registry entry so the next lookup is O(1) again.
func (s *Store) scanForJobDir(jobID string) (string, bool) {
	if len(jobID) < 8 {
		return "", false
	}

	domains, err := os.ReadDir(s.root)
	if err != nil {
		return "", false
	}
	for _, d := range domains {
		if !d.IsDir() {
			continue
		}
		jobDirs, err := os.ReadDir(filepath.Join(s.root, d.Name()))
		if err != nil {
			continue
		}
		for _, jd := range jobDirs {
			if !jd.IsDir() || !strings.HasSuffix(jd.Name(), "_"+jobID[:8]) {
				continue
			}
			dir := filepath.Join(s.root, d.Name(), jd.Name())
			ts, _ := time.Parse("2006-01-02_15-04-05", strings.TrimSuffix(jd.Name(), "_"+jobID[:8]))

			s.mu.Lock()
			s.registry[jobID] = registryEntry{Domain: d.Name(), Timestamp: ts, Dir: dir}
			_ = s.saveRegistryLocked()
			s.mu.Unlock()
			return dir, true
		}
	}
	return "", false
}
