package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brackishlabs/burr/pkg/ratelimit"
)

// Orchestrator drives a single crawl job through its lifecycle: pending
// -> running -> {paused <-> running} -> {completed | failed | stopped}.
// It owns the frontier, the worker pool, and the job's JobState; nothing
// else mutates JobState while the orchestrator is alive.
type Orchestrator struct {
	jobID  string
	params CrawlParams
	seed   URLComponents

	store    JobStore
	fetcher  *Fetcher
	renderer Renderer
	robots   *RobotsAdvisor
	limiter  *ratelimit.DomainLimiter
	logger   *slog.Logger

	frontier *Frontier
	progress chan ProgressEvent

	mu     sync.Mutex
	state  JobState
	cancel context.CancelFunc
	group  *errgroup.Group
	runGen int
}

// Deps bundles the collaborators an Orchestrator needs. Renderer and
// RobotsAdvisor may be nil only if RespectRobots is false / params never
// need rendering, which is never the case for a real crawl.
type Deps struct {
	Store    JobStore
	Fetcher  *Fetcher
	Renderer Renderer
	Robots   *RobotsAdvisor
	Logger   *slog.Logger
}

// NewOrchestrator constructs an orchestrator for one job. params must
// already have passed CrawlParams.Validate.
func NewOrchestrator(jobID string, params CrawlParams, deps Deps) (*Orchestrator, error) {
	seed, err := Components(params.SeedURL, params.IgnoreQueryParams)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: invalid seed url: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		jobID:    jobID,
		params:   params,
		seed:     seed,
		store:    deps.Store,
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		robots:   deps.Robots,
		limiter:  ratelimit.NewDomainLimiter(params.RateLimitPerDomainPerSec, 0),
		logger:   logger.With("job_id", jobID),
		frontier: NewFrontier(0),
		progress: make(chan ProgressEvent, 64),
		state: JobState{
			JobID:     jobID,
			SeedURL:   params.SeedURL,
			CreatedAt: time.Now().UTC(),
			Status:    StatusPending,
		},
	}
	return o, nil
}

// Progress returns the channel on which the orchestrator reports a
// ProgressEvent after every processed URL. Callers that do not drain it
// still make progress: sends are non-blocking, and an event that finds
// the channel's 64-event buffer full is dropped rather than stall a
// worker.
func (o *Orchestrator) Progress() <-chan ProgressEvent {
	return o.progress
}

// State returns a snapshot of the job's current state.
func (o *Orchestrator) State() JobState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state
	s.Stats = o.frontier.Snapshot()
	return s
}

// SeedExtra enqueues additional start URLs (typically a sitemap listing)
// at depth 1 alongside the seed, applying the same canonicalization and
// scope rules as a discovered link. It returns how many were accepted.
func (o *Orchestrator) SeedExtra(urls []string) int {
	accepted := make([]string, 0, len(urls))
	for _, raw := range urls {
		canonical, err := Canonicalize(raw, o.seed.Canonical, o.params.IgnoreQueryParams)
		if err != nil || !ShouldFollowLink(canonical, o.params, o.seed, false) {
			continue
		}
		accepted = append(accepted, canonical)
	}
	return o.frontier.AddBulk(accepted, 1)
}

// Start transitions a pending job to running, seeds the frontier with
// the canonical seed URL, and launches the worker pool and monitor.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Status != StatusPending {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: cannot start job in status %q", o.state.Status)
	}
	o.state.Status = StatusRunning
	o.state.StartedAt = time.Now().UTC()
	o.mu.Unlock()

	o.frontier.Enqueue(o.seed.Canonical, 0)
	o.persist()

	return o.run(ctx)
}

// Resume transitions a paused job back to running and relaunches workers
// against the frontier's existing (unclosed) queue.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if o.state.Status != StatusPaused {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: cannot resume job in status %q", o.state.Status)
	}
	o.state.Status = StatusRunning
	o.mu.Unlock()

	o.persist()
	return o.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) error {
	cancelCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(cancelCtx)

	o.mu.Lock()
	o.cancel = cancel
	o.group = g
	o.runGen++
	gen := o.runGen
	o.mu.Unlock()

	concurrency := o.params.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	for i := 0; i < concurrency; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					o.fail(fmt.Errorf("worker panic: %v", r))
					o.frontier.Close()
					err = fmt.Errorf("worker panic: %v", r)
				}
			}()
			o.runWorker(runCtx)
			return nil
		})
	}

	g.Go(func() error {
		o.monitor(runCtx)
		return nil
	})

	go func() {
		_ = g.Wait()
		o.finalize(gen)
	}()

	return nil
}

// Pause cancels the running context, waits for workers and the monitor
// to drain, and marks the job paused. The frontier is left intact so
// Resume can continue from where the job left off.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	if o.state.Status != StatusRunning {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: cannot pause job in status %q", o.state.Status)
	}
	o.state.Status = StatusPaused
	cancel := o.cancel
	group := o.group
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}
	o.persist()
	return nil
}

// Stop cancels the job permanently: it marks the job stopped at once,
// closes the frontier and cancels the workers. A URL whose rate-limit
// wait or render is cut short gets no page record; FinishedAt is stamped
// and the manifest persisted once the workers drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	o.state.Status = StatusStopped
	cancel := o.cancel
	o.mu.Unlock()

	o.frontier.Close()
	if cancel != nil {
		cancel()
	}
}

// monitor watches termination conditions: the duration cap, the page
// cap, and an exhausted frontier with no workers busy. Any of these
// closes the frontier, which drains the worker pool without treating the
// in-flight work as cancelled.
func (o *Orchestrator) monitor(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			startedAt := o.state.StartedAt
			o.mu.Unlock()

			elapsed := time.Since(startedAt).Seconds()
			stats := o.frontier.Snapshot()

			if elapsed > float64(o.params.MaxDurationSec) {
				o.logger.Info("job hit duration cap", "elapsed_sec", elapsed)
				o.frontier.Close()
				return
			}
			if o.params.MaxPages > 0 && stats.Visited >= o.params.MaxPages {
				o.logger.Info("job hit page cap", "visited", stats.Visited)
				o.frontier.Close()
				return
			}
			if o.frontier.Idle() {
				o.logger.Info("frontier exhausted, job complete")
				o.frontier.Close()
				return
			}
		}
	}
}

// finalize runs once all workers and the monitor of one run have
// exited. It sets the terminal status (unless Stop/Pause already
// claimed it) and persists the final manifest. gen guards against a
// stale finalize from a paused run racing a Resume that has already
// started the next one.
func (o *Orchestrator) finalize(gen int) {
	o.mu.Lock()
	if gen != o.runGen {
		o.mu.Unlock()
		return
	}
	if o.state.Status == StatusRunning {
		o.state.Status = StatusCompleted
	}
	if o.state.Status.Terminal() {
		o.state.FinishedAt = time.Now().UTC()
	}
	o.state.Stats = o.frontier.Snapshot()
	o.mu.Unlock()

	o.persist()
}

func (o *Orchestrator) persist() {
	if o.store == nil {
		return
	}
	state := o.State()
	if err := o.store.SaveManifest(o.jobID, o.params, state); err != nil {
		o.logger.Error("failed to persist manifest", "err", err)
	}
}

func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	o.state.Status = StatusFailed
	o.state.LastError = err.Error()
	o.state.FinishedAt = time.Now().UTC()
	o.mu.Unlock()
	o.persist()
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	select {
	case o.progress <- ev:
	default:
	}
}
