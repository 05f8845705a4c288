package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-sorter/internal/logging"
)

var (
	// ErrPoolBroken means the pool stopped accepting and running work. Tasks
	// not yet completed are abandoned.
	ErrPoolBroken = errors.New("worker pool broken")
	// ErrExtractorUnavailable is the cause of ErrPoolBroken when the face
	// extractor kept failing to respond.
	ErrExtractorUnavailable = errors.New("face extractor unavailable")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker pool closed")
)

// ProcessFunc runs the per-image stage for one file.
type ProcessFunc func(ctx context.Context, worker, path string) Result

// TaskState is the lifecycle of a submitted task.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskDone
	TaskCancelled
)

// Task is a handle to a submitted file.
type Task struct {
	Path  string
	state atomic.Int32
	done  chan struct{}
}

func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

// Cancel prevents the task from starting. It reports false when a worker
// already picked it up.
func (t *Task) Cancel() bool {
	if t.state.CompareAndSwap(int32(TaskPending), int32(TaskCancelled)) {
		close(t.done)
		return true
	}
	return false
}

// Done is closed once the task finished or was cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers          int
	BreakerThreshold int
	Logger           *slog.Logger
}

// Pool runs submitted files on a fixed number of workers and delivers the
// results in completion order. Workers stop taking new tasks once the
// context passed to NewPool is done; tasks already running finish.
type Pool struct {
	ctx     context.Context
	process ProcessFunc
	breaker *Breaker
	logger  *slog.Logger

	mu      sync.Mutex
	pending []*Task
	closed  bool
	err     error

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	results  chan Result
	wg       sync.WaitGroup
}

// NewPool starts the workers. They are named face_worker_1..n.
func NewPool(ctx context.Context, process ProcessFunc, opts PoolOptions) *Pool {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		ctx:     ctx,
		process: process,
		breaker: NewBreaker(opts.BreakerThreshold),
		logger:  logging.Component(opts.Logger, "pool"),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		results: make(chan Result, workers),
	}
	p.wg.Add(workers)
	for i := 1; i <= workers; i++ {
		go p.worker(fmt.Sprintf("face_worker_%d", i))
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
	return p
}

// Submit queues path and returns immediately.
func (p *Pool) Submit(path string) (*Task, error) {
	t := &Task{Path: path, done: make(chan struct{})}

	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.pending = append(p.pending, t)
	p.mu.Unlock()

	p.signal()
	return t, nil
}

// Results delivers one Result per completed task, in completion order. The
// channel is closed when every worker has exited.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// CancelPending cancels every task that did not start yet and returns how
// many were cancelled.
func (p *Pool) CancelPending() int {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	n := 0
	for _, t := range pending {
		if t.Cancel() {
			n++
		}
	}
	return n
}

// Close stops accepting tasks. Workers exit once the pending tasks ran.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })
}

// Err returns the error that broke the pool, or nil.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pool) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = fmt.Errorf("%w: %w", ErrPoolBroken, err)
		p.logger.Error("worker pool broken", "error", err)
	}
	p.closed = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// next blocks until a task can start. ok is false when the worker should exit.
func (p *Pool) next() (*Task, bool) {
	for {
		if p.ctx.Err() != nil {
			return nil, false
		}
		p.mu.Lock()
		if p.err != nil {
			p.mu.Unlock()
			return nil, false
		}
		for len(p.pending) > 0 {
			t := p.pending[0]
			p.pending = p.pending[1:]
			if t.state.CompareAndSwap(int32(TaskPending), int32(TaskRunning)) {
				more := len(p.pending) > 0
				p.mu.Unlock()
				if more {
					p.signal()
				}
				return t, true
			}
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-p.wake:
		case <-p.stop:
		case <-p.ctx.Done():
		}
	}
}

func (p *Pool) worker(name string) {
	defer p.wg.Done()
	for {
		t, ok := p.next()
		if !ok {
			return
		}
		res, ok := p.run(name, t)
		if !ok {
			return
		}
		p.results <- res
		if res.Unavailable {
			if p.breaker.RecordFailure() {
				p.fail(ErrExtractorUnavailable)
			}
		} else {
			p.breaker.RecordSuccess()
		}
	}
}

// run executes one task. ok is false when the worker panicked.
func (p *Pool) run(name string, t *Task) (res Result, ok bool) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			p.fail(fmt.Errorf("%s panicked on %s: %v", name, t.Path, r))
			ok = false
		}
	}()
	res = p.process(context.WithoutCancel(p.ctx), name, t.Path)
	res.Path = t.Path
	res.Worker = name
	t.state.Store(int32(TaskDone))
	return res, true
}
