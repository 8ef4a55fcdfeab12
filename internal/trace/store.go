package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
)

// maxLineBytes caps the length of a single trace line.
const maxLineBytes = 1 << 20

// Store holds the parsed trace: transactions indexed by number-1.
//
// Thread-safety: Load is serialized by an internal mutex and populates the
// store at most once. After Load returns, the store is read-only and all read
// methods are safe for concurrent use without locking.
type Store struct {
	mu     sync.Mutex
	loaded bool
	source string

	txns  []Transaction
	stats Stats

	logger *slog.Logger
}

// Stats summarizes a loaded trace.
type Stats struct {
	Transactions int          `json:"transactions"`
	Statements   int          `json:"statements"`
	ByKind       map[Kind]int `json:"-"`
	Ignored      int          `json:"ignored_lines"`
	Lines        int          `json:"lines"`
}

// KindCounts returns per-kind counts keyed by kind name, in a form suitable
// for JSON output.
func (s Stats) KindCounts() map[string]int {
	out := make(map[string]int, len(Kinds))
	for _, k := range Kinds {
		out[k.String()] = s.ByKind[k]
	}
	return out
}

// NewStore creates an empty store. A nil logger falls back to slog.Default.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// Load reads and parses the trace file at path.
//
// Returns an error if the file cannot be opened or read; this is fatal to a
// run. Unrecognized lines are logged and skipped. Calling Load on a store
// that is already populated is a no-op.
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		s.logger.Debug("trace already loaded", "path", path, "loaded_from", s.source)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	if err := s.parse(f, path); err != nil {
		return err
	}
	return nil
}

// LoadReader parses a trace from r. name is used only in diagnostics.
// Same once-only semantics as Load.
func (s *Store) LoadReader(r io.Reader, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		s.logger.Debug("trace already loaded", "path", name, "loaded_from", s.source)
		return nil
	}
	return s.parse(r, name)
}

// parse must be called with mu held.
func (s *Store) parse(r io.Reader, name string) error {
	var (
		txns  []Transaction
		stats = Stats{ByKind: make(map[Kind]int, len(Kinds))}
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}

		line, err := ParseLine(raw)
		if err != nil {
			stats.Ignored++
			s.logger.Warn("ignored unknown trace line",
				"source", name,
				"line", lineNo,
				"reason", err,
			)
			continue
		}

		if line.Txn > len(txns) {
			txns = slices.Grow(txns, line.Txn-len(txns))
			for len(txns) < line.Txn {
				txns = append(txns, Transaction{Number: len(txns) + 1})
			}
		}
		t := &txns[line.Txn-1]
		t.Statements = append(t.Statements, line.Statement)

		stats.Statements++
		stats.ByKind[line.Statement.Kind]++
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("read trace %s: line %d longer than %d bytes: %w", name, lineNo+1, maxLineBytes, err)
		}
		return fmt.Errorf("read trace %s: %w", name, err)
	}

	stats.Transactions = len(txns)
	stats.Lines = lineNo

	s.txns = txns
	s.stats = stats
	s.source = name
	s.loaded = true

	s.logger.Info("trace loaded",
		"source", name,
		"transactions", stats.Transactions,
		"statements", stats.Statements,
		"ignored", stats.Ignored,
	)
	return nil
}

// Loaded reports whether the store has been populated.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Len returns the number of transaction slots, which is the highest
// transaction number referenced by the trace. Gaps count as empty
// transactions.
func (s *Store) Len() int {
	return len(s.txns)
}

// Transaction returns the transaction at 0-based index idx.
// The returned value shares its statement slice with the store and must not
// be modified.
func (s *Store) Transaction(idx int) *Transaction {
	return &s.txns[idx]
}

// Statement returns statement pos of the transaction at 0-based index idx.
func (s *Store) Statement(idx, pos int) Statement {
	return s.txns[idx].Statements[pos]
}

// Stats returns a summary of the loaded trace.
func (s *Store) Stats() Stats {
	return s.stats
}

// Source returns the name the trace was loaded from.
func (s *Store) Source() string {
	return s.source
}
