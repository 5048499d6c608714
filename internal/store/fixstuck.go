package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brackishlabs/burr/internal/crawl"
)

// FixStuckJobs scans every manifest found "running" at store startup
// (before any job is resubmitted to a live orchestrator) and reconciles
// it: "completed" if at least one page record exists under pages/,
// otherwise "failed" with a last_error explaining the interruption. It
// runs once, synchronously, before the store accepts new jobs.
func FixStuckJobs(s *Store) error {
	domains, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("fixstuck: read root: %w", err)
	}

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
			jobDir := filepath.Join(domainDir, jd.Name())
			manifestPath := filepath.Join(jobDir, "manifest.json")
			params, state, err := loadManifestFile(manifestPath)
			if err != nil {
				continue
			}
			if state.Status != crawl.StatusRunning {
				continue
			}

			hasPages := false
			if entries, err := os.ReadDir(filepath.Join(jobDir, "pages")); err == nil {
				hasPages = len(entries) > 0
			}

			if hasPages {
				state.Status = crawl.StatusCompleted
			} else {
				state.Status = crawl.StatusFailed
				state.LastError = "interrupted without completing"
			}
			state.FinishedAt = time.Now().UTC()

			if err := reconcileManifest(jobDir, params, state); err != nil {
				return fmt.Errorf("fixstuck: reconcile %s: %w", state.JobID, err)
			}
			if s.index != nil {
				_ = s.index.Upsert(state.JobID, d.Name(), params.SeedURL, string(state.Status), state.CreatedAt, time.Now().UTC(), state.Stats.Visited, state.ElapsedSeconds())
			}
		}
	}
	return nil
}

// reconcileManifest rewrites manifest.json directly from a job
// directory, bypassing Store.SaveManifest since FixStuckJobs runs before
// a job necessarily has a live registry entry pointing at jobDir.
func reconcileManifest(jobDir string, params crawl.CrawlParams, state crawl.JobState) error {
	doc := manifestOnDisk{
		JobID:     state.JobID,
		CreatedAt: state.CreatedAt,
		Params:    params,
		Status: manifestStatus{
			State:      state.Status,
			StartedAt:  state.StartedAt,
			FinishedAt: state.FinishedAt,
			ElapsedSec: state.ElapsedSeconds(),
			Stats:      state.Stats,
			LastError:  state.LastError,
		},
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(jobDir, "manifest.json"), raw)
}
