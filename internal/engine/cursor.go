package engine

import (
	"math/rand"
	"time"

	"github.com/roach88/txreplay/internal/trace"
)

// Step is one statement handed to a worker, with the pause to take after
// executing it.
type Step struct {
	Statement trace.Statement
	Txn       uint64
	Sleep     time.Duration
}

// Cursor walks the trace for a single worker: it holds the worker's
// current transaction and position and pulls new transaction ids from the
// shared Allocator as each one is exhausted.
//
// Thread-safety: owned by one worker goroutine.
type Cursor struct {
	store  *trace.Store
	alloc  *Allocator
	policy SleepPolicy
	rng    *rand.Rand

	txn    uint64
	pos    int
	newTxn bool
}

// NewCursor creates a cursor and allocates its first transaction.
func NewCursor(store *trace.Store, alloc *Allocator, policy SleepPolicy, rng *rand.Rand) *Cursor {
	return &Cursor{
		store:  store,
		alloc:  alloc,
		policy: policy,
		rng:    rng,
		txn:    alloc.Allocate(),
	}
}

// Next returns the next statement.
//
// When the current transaction is exhausted a new id is allocated and
// NewTxn reports true until the following call. Empty transactions are
// skipped. If the allocated id is past the end of the trace, Next returns
// ok=false; calling Next again allocates again, which after an
// Allocator.Reinit starts a new pass.
func (c *Cursor) Next() (step Step, ok bool) {
	if c.exhausted() {
		c.newTxn = true
		for {
			c.txn = c.alloc.Allocate()
			c.pos = 0
			if c.txn >= uint64(c.store.Len()) {
				return Step{Txn: c.txn}, false
			}
			if c.store.Transaction(int(c.txn)).Len() > 0 {
				break
			}
		}
	} else {
		c.newTxn = false
	}

	stmt := c.store.Statement(int(c.txn), c.pos)
	c.pos++

	return Step{
		Statement: stmt,
		Txn:       c.txn,
		Sleep:     c.sleep(),
	}, true
}

// NewTxn reports whether the statement returned by the last Next call
// started a new transaction.
func (c *Cursor) NewTxn() bool {
	return c.newTxn
}

// Txn returns the current transaction id.
func (c *Cursor) Txn() uint64 {
	return c.txn
}

func (c *Cursor) exhausted() bool {
	if c.txn >= uint64(c.store.Len()) {
		return true
	}
	return c.pos >= c.store.Transaction(int(c.txn)).Len()
}

func (c *Cursor) sleep() time.Duration {
	var r float64
	if c.policy.Mode == SleepThinkTime {
		r = c.rng.Float64()
	}
	return c.policy.Duration(r)
}
