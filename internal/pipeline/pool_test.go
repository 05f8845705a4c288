package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
)

func drain(p *Pool) []Result {
	var out []Result
	for r := range p.Results() {
		out = append(out, r)
	}
	return out
}

func TestPoolProcessesEverything(t *testing.T) {
	process := func(_ context.Context, worker, path string) Result {
		return Result{Outcome: NoMatch}
	}
	p := NewPool(context.Background(), process, PoolOptions{Workers: 3})
	for i := 0; i < 20; i++ {
		if _, err := p.Submit(fmt.Sprintf("/img/%d.jpg", i)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	p.Close()

	results := drain(p)
	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.Path] {
			t.Errorf("path %s processed twice", r.Path)
		}
		seen[r.Path] = true
		if !strings.HasPrefix(r.Worker, "face_worker_") {
			t.Errorf("expected worker name face_worker_<n>, got %q", r.Worker)
		}
	}
	if p.Err() != nil {
		t.Errorf("expected no pool error, got %v", p.Err())
	}
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p := NewPool(context.Background(), func(context.Context, string, string) Result { return Result{} }, PoolOptions{Workers: 1})
	p.Close()
	if _, err := p.Submit("/a.jpg"); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
	drain(p)
}

func TestPoolCancelPending(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	process := func(_ context.Context, _, _ string) Result {
		started <- struct{}{}
		<-release
		return Result{}
	}
	p := NewPool(context.Background(), process, PoolOptions{Workers: 1})

	var tasks []*Task
	for i := 0; i < 5; i++ {
		task, err := p.Submit(fmt.Sprintf("/img/%d.jpg", i))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		tasks = append(tasks, task)
	}
	<-started

	if n := p.CancelPending(); n != 4 {
		t.Errorf("expected 4 cancelled tasks, got %d", n)
	}
	close(release)
	p.Close()

	if n := len(drain(p)); n != 1 {
		t.Errorf("expected only the running task to complete, got %d", n)
	}
	if tasks[0].State() != TaskDone {
		t.Errorf("expected first task done, got %d", tasks[0].State())
	}
	for _, task := range tasks[1:] {
		if task.State() != TaskCancelled {
			t.Errorf("expected %s cancelled, got %d", task.Path, task.State())
		}
		<-task.Done()
	}
}

func TestPoolStopsTakingTasksWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	process := func(ctx context.Context, _, _ string) Result {
		if calls.Add(1) == 2 {
			cancel()
		}
		if ctx.Err() != nil {
			t.Error("expected running task context to stay live")
		}
		return Result{}
	}
	p := NewPool(ctx, process, PoolOptions{Workers: 1})
	for i := 0; i < 5; i++ {
		if _, err := p.Submit(fmt.Sprintf("/img/%d.jpg", i)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	p.Close()

	if n := len(drain(p)); n != 2 {
		t.Errorf("expected 2 results, got %d", n)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 tasks started, got %d", calls.Load())
	}
}

func TestPoolPanicBreaksPool(t *testing.T) {
	process := func(_ context.Context, _, path string) Result {
		panic("extractor crashed")
	}
	p := NewPool(context.Background(), process, PoolOptions{Workers: 1})
	if _, err := p.Submit("/boom.jpg"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if n := len(drain(p)); n != 0 {
		t.Errorf("expected no results, got %d", n)
	}
	if !errors.Is(p.Err(), ErrPoolBroken) {
		t.Errorf("expected ErrPoolBroken, got %v", p.Err())
	}
	if _, err := p.Submit("/next.jpg"); !errors.Is(err, ErrPoolBroken) {
		t.Errorf("expected Submit to fail with ErrPoolBroken, got %v", err)
	}
}

func TestPoolBreakerOpens(t *testing.T) {
	process := func(context.Context, string, string) Result {
		return Result{Outcome: Failed, Err: errors.New("connection refused"), Unavailable: true}
	}
	p := NewPool(context.Background(), process, PoolOptions{Workers: 1, BreakerThreshold: 3})
	for i := 0; i < 10; i++ {
		if _, err := p.Submit(fmt.Sprintf("/img/%d.jpg", i)); err != nil {
			break
		}
	}

	if n := len(drain(p)); n != 3 {
		t.Errorf("expected 3 results before the breaker opened, got %d", n)
	}
	if !errors.Is(p.Err(), ErrExtractorUnavailable) {
		t.Errorf("expected ErrExtractorUnavailable, got %v", p.Err())
	}
	if !errors.Is(p.Err(), ErrPoolBroken) {
		t.Errorf("expected ErrPoolBroken, got %v", p.Err())
	}
}
