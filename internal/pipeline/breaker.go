package pipeline

import "sync"

// Breaker counts consecutive extractor outages. Once open it stays open for
// the rest of the run.
type Breaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	open      bool
}

// NewBreaker returns a breaker that opens after threshold consecutive
// failures. A threshold below 1 disables it.
func NewBreaker(threshold int) *Breaker {
	return &Breaker{threshold: threshold}
}

// RecordSuccess resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// RecordFailure counts one outage and reports whether the breaker is open.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.threshold > 0 && b.failures >= b.threshold {
		b.open = true
	}
	return b.open
}

func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
