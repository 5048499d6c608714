package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/brackishlabs/burr/internal/crawl"
	_ "modernc.org/sqlite"
)

// RegistryIndex is a secondary sqlite index over job manifests, used only
// to make ListJobs pagination fast; the manifest tree under Store.root
// remains authoritative. The index learns about a job only through
// CreateJob, SaveManifest and FixStuckJobs on a Store opened with it;
// nothing rebuilds it from the manifest tree, so a job written while the
// index was absent is not listed by it.
type RegistryIndex struct {
	db *sql.DB
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	domain TEXT NOT NULL,
	seed_url TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	visited INTEGER NOT NULL DEFAULT 0,
	elapsed_sec REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);
`

// OpenRegistryIndex opens (creating if needed) the sqlite index at dsn,
// e.g. a file path under the store root.
func OpenRegistryIndex(dsn string) (*RegistryIndex, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry index: open: %w", err)
	}
	if _, err := db.Exec(registrySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry index: schema: %w", err)
	}
	return &RegistryIndex{db: db}, nil
}

// Upsert records or updates a job's indexed fields. Called by the store
// on CreateJob and every SaveManifest, passing updatedAt as the time of
// that write so List's ordering tracks manifest.json's mtime the same
// way Store.listJobsByScan does.
func (r *RegistryIndex) Upsert(jobID, domain, seedURL, status string, createdAt, updatedAt time.Time, visited int, elapsedSec float64) error {
	_, err := r.db.Exec(`
		INSERT INTO jobs (job_id, domain, seed_url, status, created_at, updated_at, visited, elapsed_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			visited = excluded.visited,
			elapsed_sec = excluded.elapsed_sec
	`, jobID, domain, seedURL, status, createdAt, updatedAt, visited, elapsedSec)
	if err != nil {
		return fmt.Errorf("registry index: upsert: %w", err)
	}
	return nil
}

// List returns job summaries ordered by updated_at descending, agreeing
// with Store.listJobsByScan's manifest-mtime-descending order.
func (r *RegistryIndex) List(limit, offset int) ([]JobSummary, error) {
	query := `SELECT job_id, domain, seed_url, status, visited, elapsed_sec FROM jobs ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 || offset > 0 {
		if limit <= 0 {
			limit = -1 // sqlite: no limit, offset still applies
		}
		query += ` LIMIT ?`
		args = append(args, limit)
		if offset > 0 {
			query += ` OFFSET ?`
			args = append(args, offset)
		}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("registry index: query: %w", err)
	}
	defer rows.Close()

	var out []JobSummary
	for rows.Next() {
		var s JobSummary
		var status string
		var visited int
		var elapsedSec float64
		if err := rows.Scan(&s.JobID, &s.Domain, &s.SeedURL, &status, &visited, &elapsedSec); err != nil {
			return nil, fmt.Errorf("registry index: scan: %w", err)
		}
		s.Status = crawl.Status(status)
		s.Stats.Visited = visited
		s.ElapsedSec = elapsedSec
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (r *RegistryIndex) Close() error {
	return r.db.Close()
}
