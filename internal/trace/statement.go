package trace

import "fmt"

// Kind classifies a replayed statement.
//
// The numeric values are part of the report format: report lines print the
// kind as an integer, so the order below must not change.
type Kind int

const (
	KindBegin Kind = iota
	KindCommit
	KindRollback
	KindSelect
	KindTempTable
	KindWrite
)

var kindNames = [...]string{
	KindBegin:     "begin",
	KindCommit:    "commit",
	KindRollback:  "rollback",
	KindSelect:    "select",
	KindTempTable: "temp_table",
	KindWrite:     "write",
}

// Kinds lists every statement kind in report order.
var Kinds = []Kind{KindBegin, KindCommit, KindRollback, KindSelect, KindTempTable, KindWrite}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind is the inverse of String.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown statement kind %q", s)
}

// HasText reports whether statements of this kind carry SQL text.
func (k Kind) HasText() bool {
	return k == KindSelect || k == KindTempTable || k == KindWrite
}

// Statement is one replayable unit. Text is empty for begin/commit/rollback.
// Statements are immutable once the trace is loaded.
type Statement struct {
	Kind Kind
	Text string
}

// Transaction is the ordered list of statements recorded under one
// transaction number. Number is 1-based, as it appears in the trace file.
type Transaction struct {
	Number     int
	Statements []Statement
}

// Len returns the number of statements in the transaction.
func (t *Transaction) Len() int {
	return len(t.Statements)
}
