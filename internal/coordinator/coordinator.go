// Package coordinator drives a matching run end to end: queue population,
// dispatch to the worker pool, result aggregation, periodic checkpoints and
// the copies of matched files.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-sorter/internal/constants"
	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/facematch"
	"github.com/kozaktomas/face-sorter/internal/fingerprint"
	"github.com/kozaktomas/face-sorter/internal/identity"
	"github.com/kozaktomas/face-sorter/internal/logging"
	"github.com/kozaktomas/face-sorter/internal/pipeline"
	"github.com/kozaktomas/face-sorter/internal/queue"
)

var (
	ErrNoOutputFolder = errors.New("no output folder selected")
	ErrCancelled      = errors.New("run cancelled")
	ErrRunning        = errors.New("a run is already in progress")
)

// Extractor is the face extractor a run depends on.
type Extractor interface {
	pipeline.Extractor
	Health(ctx context.Context) (*fingerprint.HealthResponse, error)
}

// Options tunes a Coordinator. Zero values select the defaults.
type Options struct {
	Workers            int
	CheckpointInterval time.Duration
	BreakerThreshold   int
	MaxImageDimension  int
	Recursive          bool
	Matching           facematch.Options
	Logger             *slog.Logger
}

// Request names the inputs of one run.
type Request struct {
	Folders   []string
	OutputDir string
	// KnownFacesDir holds one sub-folder of reference images per person. It is
	// registered after the extractor health check and before the candidate set
	// is loaded. Empty or missing directories are skipped.
	KnownFacesDir string
}

// Failure is a file that could not be processed.
type Failure struct {
	Path string
	Err  error
}

// Summary is the outcome of a run.
type Summary struct {
	RunID          string
	Resumed        bool
	Total          int
	Processed      int
	Matched        int // includes AlreadyHandled
	AlreadyHandled int
	NoMatch        int
	Failed         int
	NotStarted     int
	CacheHits      int
	Extractions    int64
	Remaining      int // paths left in the queue snapshot, -1 if it was not written
	MatchedFiles   []string
	Failures       []Failure
	Duration       time.Duration
	Registered     []*identity.Registered
}

// Coordinator runs one matching run at a time.
type Coordinator struct {
	store     database.Store
	extractor Extractor
	queue     *queue.Queue
	opts      Options
	logger    *slog.Logger

	running   atomic.Bool
	state     atomic.Int32
	processed atomic.Int64
	total     atomic.Int64
	matched   atomic.Int64
	failed    atomic.Int64

	mu     sync.Mutex
	runID  string
	cancel context.CancelFunc
	// cancelRequested keeps a Cancel that arrives before the run context
	// exists. It is only set while a run is active.
	cancelRequested bool
}

func New(store database.Store, extractor Extractor, q *queue.Queue, opts Options) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = constants.CheckpointInterval
	}
	return &Coordinator{
		store:     store,
		extractor: extractor,
		queue:     q,
		opts:      opts,
		logger:    logging.Component(opts.Logger, "coordinator"),
	}
}

// State returns the phase of the current run.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Progress never blocks on the processing path.
func (c *Coordinator) Progress() Progress {
	c.mu.Lock()
	runID := c.runID
	c.mu.Unlock()
	return Progress{
		RunID:     runID,
		State:     c.State().String(),
		Processed: c.processed.Load(),
		Total:     c.total.Load(),
		Matched:   c.matched.Load(),
		Failed:    c.failed.Load(),
	}
}

// Cancel asks the current run to stop. Files already being processed
// finish; files not started are skipped.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.Load() {
		return
	}
	c.cancelRequested = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// Run performs one matching run. Precondition failures return before any
// queue state is written. On cancellation and on a broken pool the queue
// snapshot is rewritten as the resume point and the partial summary is
// returned with ErrCancelled or pipeline.ErrPoolBroken.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Summary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer func() {
		c.mu.Lock()
		c.cancelRequested = false
		c.running.Store(false)
		c.mu.Unlock()
	}()
	defer c.setState(Idle)

	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, ErrNoOutputFolder
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}
	if _, err := c.extractor.Health(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrExtractorUnavailable, err)
	}
	registered, err := c.registerKnownFaces(ctx, req.KnownFacesDir)
	if err != nil {
		return nil, err
	}
	candidates, err := identity.Candidates(ctx, c.store)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runID := uuid.NewString()
	c.mu.Lock()
	c.runID = runID
	c.cancel = cancel
	if c.cancelRequested {
		cancel()
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()
	c.processed.Store(0)
	c.total.Store(0)
	c.matched.Store(0)
	c.failed.Store(0)

	log := c.logger.With("run_id", runID)
	started := time.Now()
	summary := &Summary{RunID: runID, Registered: registered}

	c.setState(Scanning)
	if err := c.queue.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.queue.Unlock(); err != nil {
			log.Warn("failed to release queue lock", "error", err)
		}
	}()
	resumed, err := c.queue.EnqueueFromScan(req.Folders, c.opts.Recursive)
	if err != nil {
		return nil, fmt.Errorf("populate queue: %w", err)
	}
	summary.Resumed = resumed

	matcher := facematch.NewMatcher(candidates, c.opts.Matching)
	encoder := pipeline.NewEncoder(c.store, c.extractor, c.opts.MaxImageDimension, c.opts.Logger)
	processor := pipeline.NewProcessor(encoder, c.store, matcher, req.OutputDir, c.opts.Logger)
	pool := pipeline.NewPool(runCtx, processor.Process, pipeline.PoolOptions{
		Workers:          c.opts.Workers,
		BreakerThreshold: c.opts.BreakerThreshold,
		Logger:           c.opts.Logger,
	})

	c.setState(Queuing)
	for {
		path, ok := c.queue.Dequeue()
		if !ok {
			break
		}
		if _, err := pool.Submit(path); err != nil {
			break
		}
		summary.Total++
		c.total.Add(1)
	}
	pool.Close()
	log.Info("run started", "files", summary.Total, "resumed", resumed,
		"candidates", matcher.Len(), "indexed", matcher.Indexed(), "workers", c.opts.Workers)

	c.setState(Processing)
	agg := &aggregator{
		coordinator: c,
		summary:     summary,
		outputDir:   req.OutputDir,
		completed:   make(map[string]struct{}),
		logger:      log,
	}

	done := make(chan struct{})
	g := new(errgroup.Group)
	g.Go(func() error {
		defer close(done)
		cancelling := false
		for res := range pool.Results() {
			agg.handle(res)
			if !cancelling && runCtx.Err() != nil {
				cancelling = true
				c.setState(Cancelling)
				n := pool.CancelPending()
				log.Info("cancelling run", "not_started", n)
			}
		}
		if !cancelling && runCtx.Err() != nil {
			c.setState(Cancelling)
			pool.CancelPending()
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(c.opts.CheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-ticker.C:
				agg.checkpoint()
			}
		}
	})
	_ = g.Wait()

	if c.State() != Cancelling {
		c.setState(Finalizing)
	}
	summary.Extractions = encoder.Extractions()
	summary.NotStarted = summary.Total - summary.Processed
	summary.Duration = time.Since(started)
	summary.Remaining = agg.checkpoint()

	if err := pool.Err(); err != nil {
		log.Error("run aborted", "error", err, "processed", summary.Processed, "remaining", summary.Remaining)
		return summary, err
	}
	if runCtx.Err() != nil {
		log.Info("run cancelled", "processed", summary.Processed, "remaining", summary.Remaining)
		return summary, ErrCancelled
	}
	if summary.Remaining == 0 {
		if err := c.queue.Clear(); err != nil {
			log.Warn("failed to clear queue snapshot", "error", err)
		}
	}
	log.Info("run finished", "processed", summary.Processed, "matched", summary.Matched,
		"failed", summary.Failed, "extractions", summary.Extractions, "duration", summary.Duration)
	return summary, nil
}

// registerKnownFaces binds the reference images under dir to their persons.
// Images registered by earlier runs are cache hits.
func (c *Coordinator) registerKnownFaces(ctx context.Context, dir string) ([]*identity.Registered, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); err != nil {
		c.logger.Info("known faces directory not found, using registered persons only", "path", dir)
		return nil, nil
	}
	encoder := pipeline.NewEncoder(c.store, c.extractor, c.opts.MaxImageDimension, c.opts.Logger)
	registered, err := identity.NewRegistry(c.store, encoder, c.opts.Logger).RegisterDirectory(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("register known faces: %w", err)
	}
	return registered, nil
}

// aggregator holds the run's shared result state. Every field is guarded by mu.
type aggregator struct {
	coordinator *Coordinator
	outputDir   string
	logger      *slog.Logger

	mu        sync.Mutex
	summary   *Summary
	completed map[string]struct{}
}

func (a *aggregator) handle(res pipeline.Result) {
	c := a.coordinator
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summary.Processed++
	c.processed.Add(1)
	if res.CacheHit {
		a.summary.CacheHits++
	}

	done := true
	switch res.Outcome {
	case pipeline.Matched:
		dst := pipeline.OutputPath(a.outputDir, res.Path)
		copied, err := copyOutput(res.Path, dst)
		if err != nil {
			a.logger.Warn("failed to copy matched file", "path", res.Path, "error", err)
			a.fail(res.Path, fmt.Errorf("copy to output: %w", err))
			done = false
			break
		}
		if !copied {
			a.logger.Debug("output already exists", "path", dst)
		}
		a.summary.Matched++
		a.summary.MatchedFiles = append(a.summary.MatchedFiles, dst)
		c.matched.Add(1)
	case pipeline.AlreadyHandled:
		a.summary.Matched++
		a.summary.AlreadyHandled++
		a.summary.MatchedFiles = append(a.summary.MatchedFiles, pipeline.OutputPath(a.outputDir, res.Path))
		c.matched.Add(1)
	case pipeline.Failed:
		a.fail(res.Path, res.Err)
		// Outages say nothing about the file, so it stays queued.
		done = !res.Unavailable
	default:
		a.summary.NoMatch++
	}
	if done {
		a.completed[res.Path] = struct{}{}
	}
}

func (a *aggregator) fail(path string, err error) {
	a.summary.Failed++
	a.summary.Failures = append(a.summary.Failures, Failure{Path: path, Err: err})
	a.coordinator.failed.Add(1)
}

// checkpoint rewrites the queue snapshot without the completed paths and
// returns how many remain, or -1 when it could not be written. The file is
// written outside mu.
func (a *aggregator) checkpoint() int {
	a.mu.Lock()
	completed := make(map[string]struct{}, len(a.completed))
	for p := range a.completed {
		completed[p] = struct{}{}
	}
	a.mu.Unlock()

	remaining, err := a.coordinator.queue.Checkpoint(completed)
	if err != nil {
		a.logger.Warn("checkpoint failed", "error", err)
		return -1
	}
	return remaining
}
