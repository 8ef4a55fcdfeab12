package trace

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTrace(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestStore_LoadGroupsByTransaction(t *testing.T) {
	path := writeTrace(t, strings.Join([]string{
		"t0 c1 B 2",
		"t0 c1 S 2 select * from t2",
		"t0 c2 B 1",
		"t0 c2 W 1 create temporary table tmp (a int)",
		"t0 c1 C 2",
		"garbage line",
		"",
		"t0 c2 W 1 insert into t values (1)",
		"t0 c2 R 1",
		"t0 c3 B 4",
	}, "\n")+"\n")

	s := NewStore(quietLogger())
	require.NoError(t, s.Load(path))

	require.Equal(t, 4, s.Len())

	assert.Equal(t, []Statement{
		{Kind: KindBegin},
		{Kind: KindTempTable, Text: "create temporary table tmp (a int)"},
		{Kind: KindWrite, Text: "insert into t values (1)"},
		{Kind: KindRollback},
	}, s.Transaction(0).Statements)

	assert.Equal(t, []Statement{
		{Kind: KindBegin},
		{Kind: KindSelect, Text: "select * from t2"},
		{Kind: KindCommit},
	}, s.Transaction(1).Statements)

	// Gap at 3 is an empty transaction.
	assert.Equal(t, 3, s.Transaction(2).Number)
	assert.Zero(t, s.Transaction(2).Len())
	assert.Equal(t, KindBegin, s.Statement(3, 0).Kind)

	stats := s.Stats()
	assert.Equal(t, 4, stats.Transactions)
	assert.Equal(t, 8, stats.Statements)
	assert.Equal(t, 1, stats.Ignored)
	assert.Equal(t, 10, stats.Lines)
	assert.Equal(t, 3, stats.ByKind[KindBegin])
	assert.Equal(t, 1, stats.ByKind[KindTempTable])
	assert.Equal(t, 1, stats.KindCounts()["write"])
	assert.Equal(t, 1, stats.KindCounts()["temp_table"])
}

func TestStore_LoadIsIdempotent(t *testing.T) {
	first := writeTrace(t, "a b B 1\na b C 1\n")
	second := writeTrace(t, "a b B 1\na b B 2\na b B 3\n")

	s := NewStore(quietLogger())
	require.NoError(t, s.Load(first))
	require.NoError(t, s.Load(second))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, first, s.Source())
	assert.True(t, s.Loaded())
}

func TestStore_ConcurrentLoadParsesOnce(t *testing.T) {
	path := writeTrace(t, "a b B 1\na b S 1 select 1\na b C 1\n")
	s := NewStore(quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Load(path))
		}()
	}
	wg.Wait()

	require.Equal(t, 1, s.Len())
	assert.Equal(t, 3, s.Transaction(0).Len())
	assert.Equal(t, 3, s.Stats().Statements)
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := NewStore(quietLogger())
	err := s.Load(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open trace")
	assert.False(t, s.Loaded())
}

func TestStore_LoadReader(t *testing.T) {
	s := NewStore(quietLogger())
	require.NoError(t, s.LoadReader(strings.NewReader("x y S 3 select 3\n"), "inline"))

	assert.Equal(t, 3, s.Len())
	assert.Zero(t, s.Transaction(0).Len())
	assert.Zero(t, s.Transaction(1).Len())
	assert.Equal(t, "select 3", s.Statement(2, 0).Text)
	assert.Equal(t, "inline", s.Source())
}

func TestStore_LineTooLong(t *testing.T) {
	long := "a b S 1 select '" + strings.Repeat("x", maxLineBytes) + "'\n"
	s := NewStore(quietLogger())
	err := s.LoadReader(strings.NewReader(long), "long")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "longer than")
}

func TestStore_LoadLargeAscendingTrace(t *testing.T) {
	const n = 100_000

	var b strings.Builder
	for i := 1; i <= n; i++ {
		id := strconv.Itoa(i)
		b.WriteString("t0 c1 B " + id + "\n")
		b.WriteString("t0 c1 S " + id + " select " + id + "\n")
		b.WriteString("t0 c1 C " + id + "\n")
	}

	s := NewStore(quietLogger())
	start := time.Now()
	require.NoError(t, s.LoadReader(strings.NewReader(b.String()), "ascending"))
	elapsed := time.Since(start)

	assert.Equal(t, n, s.Len())
	assert.Equal(t, 3*n, s.Stats().Statements)
	assert.Equal(t, n, s.Transaction(n-1).Number)
	assert.Equal(t, "select "+strconv.Itoa(n), s.Statement(n-1, 1).Text)
	assert.Less(t, elapsed, 10*time.Second, "loading grows linearly with the trace")
}

func TestStore_GapsAreNumberedEmptyTransactions(t *testing.T) {
	s := NewStore(quietLogger())
	require.NoError(t, s.LoadReader(strings.NewReader("t0 c1 B 5\nt0 c1 B 2\n"), "gaps"))

	require.Equal(t, 5, s.Len())
	for i := 0; i < 5; i++ {
		assert.Equal(t, i+1, s.Transaction(i).Number)
	}
	assert.Zero(t, s.Transaction(0).Len())
	assert.Equal(t, 1, s.Transaction(1).Len())
	assert.Equal(t, 1, s.Transaction(4).Len())
}
