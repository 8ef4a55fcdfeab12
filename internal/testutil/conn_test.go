package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingDialer_RecordsCallsPerConnection(t *testing.T) {
	ctx := context.Background()
	d := NewRecordingDialer()
	d.Rows = 4

	c0, err := d.Dial(ctx)
	require.NoError(t, err)
	c1, err := d.Dial(ctx)
	require.NoError(t, err)

	require.NoError(t, c0.Begin(ctx))
	n, err := c0.Select(ctx, "select 1", 7)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, c1.Exec(ctx, "insert into t values (1)"))
	require.NoError(t, c0.Commit(ctx))
	require.NoError(t, c0.Close())

	assert.Equal(t, 2, d.Dialed())
	assert.Equal(t, "testhost", c1.Host())
	assert.Equal(t, 1, d.Count(OpSelect, "select 1"))
	assert.Equal(t, 2, d.Count(OpDial, ""))

	assert.Equal(t, []Call{
		{Conn: 0, Op: OpDial},
		{Conn: 0, Op: OpBegin},
		{Conn: 0, Op: OpSelect, Text: "select 1", Param: 7},
		{Conn: 0, Op: OpCommit},
		{Conn: 0, Op: OpClose},
	}, d.CallsFor(0))

	assert.Equal(t, "conn 0:\n  dial\n  begin\n  select select 1\n  commit\n  close\n"+
		"conn 1:\n  dial\n  exec insert into t values (1)\n", d.Transcript())
}

func TestRecordingDialer_FailOn(t *testing.T) {
	ctx := context.Background()
	d := NewRecordingDialer()
	boom := errors.New("boom")
	d.FailOn(OpExec, "bad", boom)
	d.FailOn(OpBegin, "", nil)

	c, err := d.Dial(ctx)
	require.NoError(t, err)

	assert.NoError(t, c.Exec(ctx, "good"))
	assert.ErrorIs(t, c.Exec(ctx, "bad"), boom)
	assert.ErrorIs(t, c.Begin(ctx), ErrInjected)

	// Failed calls are still logged.
	assert.Equal(t, 1, d.Count(OpExec, "bad"))
}

func TestRecordingDialer_FailDial(t *testing.T) {
	d := NewRecordingDialer()
	d.FailDial = errors.New("refused")

	_, err := d.Dial(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, d.Dialed())
}

func TestRecordingDialer_OnCall(t *testing.T) {
	ctx := context.Background()
	d := NewRecordingDialer()

	var ops []string
	d.OnCall(func(c Call) { ops = append(ops, c.Op) })

	c, err := d.Dial(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Rollback(ctx))

	assert.Equal(t, []string{OpDial, OpRollback}, ops)
}

func TestLoadTrace(t *testing.T) {
	s := LoadTrace(t, "a b B 1", "a b S 1 select 1", "a b C 1")
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 3, s.Transaction(0).Len())
}
