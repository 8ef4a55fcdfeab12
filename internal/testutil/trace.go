package testutil

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/roach88/txreplay/internal/trace"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// LoadTrace parses lines into a new store, failing the test on error.
func LoadTrace(t testing.TB, lines ...string) *trace.Store {
	t.Helper()
	s := trace.NewStore(DiscardLogger())
	if err := s.LoadReader(strings.NewReader(strings.Join(lines, "\n")+"\n"), t.Name()); err != nil {
		t.Fatalf("load trace: %v", err)
	}
	return s
}
