package engine

import "sync"

// Allocator hands out transaction ids to workers.
//
// Ids start at 0 and are strictly increasing between resets: within one pass
// over the trace every id is handed out exactly once. The id doubles as the
// 0-based index into the trace store.
//
// Thread-safety: all methods take the allocation lock, which is the only
// cross-worker ordering point in a run.
//
// Reinit is racy at the protocol level. In repeat mode every worker that runs
// off the end of the trace calls it, so the counter can be reset several
// times per pass and the start of the trace may be replayed more than once
// while its tail is still being handed out. Callers needing a single reset
// per pass must coordinate it themselves.
type Allocator struct {
	mu   sync.Mutex
	next uint64

	metrics *Metrics
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithAllocatorMetrics counts allocations in m.
func WithAllocatorMetrics(m *Metrics) AllocatorOption {
	return func(a *Allocator) {
		a.metrics = m
	}
}

// NewAllocator creates an allocator whose first id is 0.
func NewAllocator(opts ...AllocatorOption) *Allocator {
	a := &Allocator{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns the next transaction id.
func (a *Allocator) Allocate() uint64 {
	a.mu.Lock()
	id := a.next
	a.next++
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.TxnsAllocated.Inc()
	}
	return id
}

// Reinit resets the counter so the next Allocate returns 0.
func (a *Allocator) Reinit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next = 0
}

// Last returns the id the next Allocate call would return. At the end of a
// run this is logged as the last transaction requested.
func (a *Allocator) Last() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}
