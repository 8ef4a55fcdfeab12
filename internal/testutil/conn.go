package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/txreplay/internal/target"
)

// Call is one operation observed by a RecordingConn.
type Call struct {
	Conn  int    `json:"conn" yaml:"conn"`
	Op    string `json:"op" yaml:"op"`
	Text  string `json:"text,omitempty" yaml:"text,omitempty"`
	Param int64  `json:"-" yaml:"-"`
}

// String renders the call as "<op> <text>".
func (c Call) String() string {
	if c.Text == "" {
		return c.Op
	}
	return c.Op + " " + c.Text
}

// Operation names recorded in Call.Op.
const (
	OpDial     = "dial"
	OpBegin    = "begin"
	OpCommit   = "commit"
	OpRollback = "rollback"
	OpExec     = "exec"
	OpSelect   = "select"
	OpClose    = "close"
)

// ErrInjected is returned for calls configured to fail.
var ErrInjected = errors.New("injected failure")

// RecordingDialer hands out RecordingConns that append every call to a
// shared log. It stands in for a database in engine and scheduler tests.
//
// Thread-safety: safe for concurrent use.
type RecordingDialer struct {
	// Host is reported by every connection. Defaults to "testhost".
	Host string

	// Rows is the row count returned by Select.
	Rows int

	// FailDial makes Dial fail.
	FailDial error

	mu     sync.Mutex
	nextID int
	calls  []Call
	fail   map[string]error
	hook   func(Call)
}

// NewRecordingDialer creates a dialer with an empty log.
func NewRecordingDialer() *RecordingDialer {
	return &RecordingDialer{Host: "testhost", fail: make(map[string]error)}
}

// FailOn makes any call whose op and text match fail with err. An empty
// text matches every call of that op. A nil err uses ErrInjected.
func (d *RecordingDialer) FailOn(op, text string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	d.fail[op+"\x00"+text] = err
}

// OnCall registers a function run after every recorded call, outside the
// dialer lock.
func (d *RecordingDialer) OnCall(fn func(Call)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = fn
}

// Dial implements target.Dialer.
func (d *RecordingDialer) Dial(ctx context.Context) (target.Conn, error) {
	d.mu.Lock()
	if d.FailDial != nil {
		err := d.FailDial
		d.mu.Unlock()
		return nil, err
	}
	id := d.nextID
	d.nextID++
	d.mu.Unlock()

	if err := d.record(Call{Conn: id, Op: OpDial}); err != nil {
		return nil, err
	}
	return &RecordingConn{id: id, dialer: d}, nil
}

// Calls returns a copy of the log.
func (d *RecordingDialer) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallsFor returns the calls made on connection id, in order.
func (d *RecordingDialer) CallsFor(id int) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Conn == id {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many calls of op were made. If text is non-empty only
// calls with that exact text count.
func (d *RecordingDialer) Count(op, text string) int {
	n := 0
	for _, c := range d.Calls() {
		if c.Op == op && (text == "" || c.Text == text) {
			n++
		}
	}
	return n
}

// Dialed returns the number of connections handed out.
func (d *RecordingDialer) Dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextID
}

// Transcript renders the per-connection call sequences, one call per line,
// connections in dial order.
func (d *RecordingDialer) Transcript() string {
	var b strings.Builder
	for id := 0; id < d.Dialed(); id++ {
		fmt.Fprintf(&b, "conn %d:\n", id)
		for _, c := range d.CallsFor(id) {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}
	return b.String()
}

func (d *RecordingDialer) record(c Call) error {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	err := d.fail[c.Op+"\x00"+c.Text]
	if err == nil {
		err = d.fail[c.Op+"\x00"]
	}
	hook := d.hook
	d.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	return err
}

// RecordingConn is a target.Conn that records calls instead of talking to a
// database.
type RecordingConn struct {
	id     int
	dialer *RecordingDialer
}

// ID returns the connection's dial order.
func (c *RecordingConn) ID() int { return c.id }

func (c *RecordingConn) Host() string { return c.dialer.Host }

func (c *RecordingConn) Begin(ctx context.Context) error {
	return c.dialer.record(Call{Conn: c.id, Op: OpBegin})
}

func (c *RecordingConn) Commit(ctx context.Context) error {
	return c.dialer.record(Call{Conn: c.id, Op: OpCommit})
}

func (c *RecordingConn) Rollback(ctx context.Context) error {
	return c.dialer.record(Call{Conn: c.id, Op: OpRollback})
}

func (c *RecordingConn) Exec(ctx context.Context, text string) error {
	return c.dialer.record(Call{Conn: c.id, Op: OpExec, Text: text})
}

func (c *RecordingConn) Select(ctx context.Context, text string, param int64) (int, error) {
	if err := c.dialer.record(Call{Conn: c.id, Op: OpSelect, Text: text, Param: param}); err != nil {
		return 0, err
	}
	return c.dialer.Rows, nil
}

func (c *RecordingConn) Close() error {
	return c.dialer.record(Call{Conn: c.id, Op: OpClose})
}
