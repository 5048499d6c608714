// Package store implements the on-disk, content-addressed job store: one
// directory per job under <root>/<domain>/<timestamp>_<job_id[:8]>/,
// holding an atomically-written manifest, one JSON page record per
// canonical URL, a sha256-addressed blob directory for captured assets,
// and JSONL/ZIP exports. A root-level .job_registry.json accelerates job
// lookup without requiring a directory walk.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brackishlabs/burr/internal/crawl"
)

var _ crawl.JobStore = (*Store)(nil)

// registryEntry is what .job_registry.json remembers about a job so its
// directory can be found without scanning every domain subtree.
type registryEntry struct {
	Domain    string    `json:"domain"`
	Timestamp time.Time `json:"timestamp"`
	Dir       string    `json:"dir"`
}

// Store is the on-disk job store rooted at a single directory (by
// default "${USER_DATA_DIR}/crawls", though the caller chooses root).
type Store struct {
	root  string
	index *RegistryIndex // optional, accelerates ListJobs; nil disables it

	mu       sync.Mutex
	registry map[string]registryEntry
}

// Open creates (if needed) the store root, loads the job registry, runs
// FixStuckJobs once, and returns a ready Store. index may be nil.
func Open(root string, index *RegistryIndex) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root: %w", err)
	}

	s := &Store{root: root, index: index, registry: make(map[string]registryEntry)}
	if err := s.loadRegistry(); err != nil {
		return nil, fmt.Errorf("store: load registry: %w", err)
	}

	if err := FixStuckJobs(s); err != nil {
		return nil, fmt.Errorf("store: fix stuck jobs: %w", err)
	}
	return s, nil
}

func (s *Store) registryPath() string {
	return filepath.Join(s.root, ".job_registry.json")
}

func (s *Store) loadRegistry() error {
	raw, err := os.ReadFile(s.registryPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(raw, &s.registry)
}

func (s *Store) saveRegistryLocked() error {
	raw, err := json.MarshalIndent(s.registry, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.registryPath(), raw)
}

// writeAtomic writes data to a temp file next to path and renames it
// into place, so a crash never leaves a half-written file at path.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// domainFromSeed strips a leading "www." from the seed URL's host when
// deriving a job's directory name.
func domainFromSeed(seedURL string) string {
	comps, err := crawl.Components(seedURL, nil)
	if err != nil {
		return "unknown"
	}
	return strings.TrimPrefix(comps.Host, "www.")
}

// NewJobID derives the job id from the seed URL and a timestamp: the
// first 16 hex chars of sha256(seed_url || RFC3339Nano UTC timestamp).
func NewJobID(seedURL string, at time.Time) string {
	sum := sha256.Sum256([]byte(seedURL + at.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}

// CreateJob allocates a job directory, writes the initial pending
// manifest, and registers the job so later lookups by id are O(1). The
// caller (an orchestrator's owner) picks `at`; store.CreateJob never
// calls time.Now itself so job creation is deterministic given its
// inputs.
func (s *Store) CreateJob(jobID string, params crawl.CrawlParams, at time.Time) error {
	domain := domainFromSeed(params.SeedURL)
	dirName := fmt.Sprintf("%s_%s", at.UTC().Format("2006-01-02_15-04-05"), jobID[:8])
	jobDir := filepath.Join(s.root, domain, dirName)

	for _, sub := range []string{"pages", "blobs", "exports"} {
		if err := os.MkdirAll(filepath.Join(jobDir, sub), 0o755); err != nil {
			return fmt.Errorf("store: create job dir: %w", err)
		}
	}

	s.mu.Lock()
	s.registry[jobID] = registryEntry{Domain: domain, Timestamp: at.UTC(), Dir: jobDir}
	err := s.saveRegistryLocked()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store: save registry: %w", err)
	}

	if s.index != nil {
		_ = s.index.Upsert(jobID, domain, params.SeedURL, string(crawl.StatusPending), at.UTC(), at.UTC(), 0, 0)
	}

	state := crawl.JobState{JobID: jobID, SeedURL: params.SeedURL, CreatedAt: at.UTC(), Status: crawl.StatusPending}
	return s.SaveManifest(jobID, params, state)
}

func (s *Store) dirFor(jobID string) (string, bool) {
	s.mu.Lock()
	entry, ok := s.registry[jobID]
	s.mu.Unlock()
	if ok {
		return entry.Dir, true
	}
	return s.scanForJobDir(jobID)
}

// manifestOnDisk is the stable JSON shape of manifest.json: params
// nested verbatim, status split into its own object mirroring JobState
// plus a derived elapsed_sec.
type manifestOnDisk struct {
	JobID     string            `json:"job_id"`
	CreatedAt time.Time         `json:"created_at"`
	Params    crawl.CrawlParams `json:"params"`
	Status    manifestStatus    `json:"status"`
}

type manifestStatus struct {
	State      crawl.Status `json:"state"`
	StartedAt  time.Time    `json:"started_at,omitempty"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
	ElapsedSec float64      `json:"elapsed_sec"`
	Stats      crawl.Stats  `json:"stats"`
	LastError  string       `json:"last_error,omitempty"`
}

// SaveManifest rewrites manifest.json atomically for jobID.
func (s *Store) SaveManifest(jobID string, params crawl.CrawlParams, state crawl.JobState) error {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return fmt.Errorf("store: unknown job %q", jobID)
	}

	doc := manifestOnDisk{
		JobID:     jobID,
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
		return fmt.Errorf("store: marshal manifest: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, "manifest.json"), raw); err != nil {
		return fmt.Errorf("store: write manifest: %w", err)
	}

	if s.index != nil {
		entry, _ := s.registryEntryFor(jobID)
		_ = s.index.Upsert(jobID, entry.Domain, params.SeedURL, string(state.Status), entry.Timestamp, time.Now().UTC(), state.Stats.Visited, state.ElapsedSeconds())
	}
	return nil
}

func (s *Store) registryEntryFor(jobID string) (registryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.registry[jobID]
	return e, ok
}

// LoadManifest reads and parses manifest.json for jobID.
func (s *Store) LoadManifest(jobID string) (crawl.CrawlParams, crawl.JobState, error) {
	dir, ok := s.dirFor(jobID)
	if !ok {
		return crawl.CrawlParams{}, crawl.JobState{}, fmt.Errorf("store: unknown job %q", jobID)
	}
	return loadManifestFile(filepath.Join(dir, "manifest.json"))
}

func loadManifestFile(path string) (crawl.CrawlParams, crawl.JobState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return crawl.CrawlParams{}, crawl.JobState{}, err
	}
	var doc manifestOnDisk
	if err := json.Unmarshal(raw, &doc); err != nil {
		return crawl.CrawlParams{}, crawl.JobState{}, err
	}
	state := crawl.JobState{
		JobID:      doc.JobID,
		SeedURL:    doc.Params.SeedURL,
		CreatedAt:  doc.CreatedAt,
		StartedAt:  doc.Status.StartedAt,
		FinishedAt: doc.Status.FinishedAt,
		Status:     doc.Status.State,
		Stats:      doc.Status.Stats,
		LastError:  doc.Status.LastError,
	}
	return doc.Params, state, nil
}

// Root returns the store's root directory, for callers that keep their
// own files under it (the crawl command's robots.txt cache).
func (s *Store) Root() string {
	return s.root
}

// JobDir returns the on-disk directory for jobID, for callers that write
// auxiliary files (a per-job log, say) alongside the store's own.
func (s *Store) JobDir(jobID string) (string, bool) {
	return s.dirFor(jobID)
}
