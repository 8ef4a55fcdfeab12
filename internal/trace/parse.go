package trace

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrUnrecognized marks a trace line that matches none of the five statement
// patterns. Such lines are skipped by the loader.
var ErrUnrecognized = errors.New("unrecognized trace line")

// MaxTxnNumber bounds transaction numbers so a corrupt line cannot force a
// huge allocation.
const MaxTxnNumber = 1 << 26

// Temp-table prefixes. Matching is case-sensitive and anchored at the start of
// the statement text.
var tempTablePrefixes = []string{
	"create temporary",
	"drop table",
}

// Line is the tagged result of tokenizing one trace line.
type Line struct {
	// Txn is the 1-based destination transaction number.
	Txn int

	Statement Statement
}

// ParseLine tokenizes a single trace line.
//
// Layout: <ignored> <ignored> <code> <txn> [<text...>]
//
// The code is one of B, C, R, S, W. For S and W the text is everything after
// the transaction number with leading whitespace removed; interior whitespace
// is kept verbatim. W statements are passed through Reclassify.
//
// Returns an error wrapping ErrUnrecognized for anything else.
func ParseLine(line string) (Line, error) {
	line = strings.TrimRight(line, "\r\n")

	rest := line
	var fields [4]string
	for i := range fields {
		var ok bool
		fields[i], rest, ok = nextField(rest)
		if !ok {
			return Line{}, fmt.Errorf("%w: expected at least 4 fields, got %d", ErrUnrecognized, i)
		}
	}

	code := fields[2]
	if len(code) != 1 {
		return Line{}, fmt.Errorf("%w: kind code %q is not a single character", ErrUnrecognized, code)
	}

	txn, err := parseTxnNumber(fields[3])
	if err != nil {
		return Line{}, err
	}

	text := strings.TrimLeftFunc(rest, unicode.IsSpace)

	var stmt Statement
	switch code[0] {
	case 'B':
		stmt = Statement{Kind: KindBegin}
	case 'C':
		stmt = Statement{Kind: KindCommit}
	case 'R':
		stmt = Statement{Kind: KindRollback}
	case 'S':
		if text == "" {
			return Line{}, fmt.Errorf("%w: select without statement text", ErrUnrecognized)
		}
		stmt = Statement{Kind: KindSelect, Text: text}
	case 'W':
		if text == "" {
			return Line{}, fmt.Errorf("%w: write without statement text", ErrUnrecognized)
		}
		stmt = Reclassify(Statement{Kind: KindWrite, Text: text})
	default:
		return Line{}, fmt.Errorf("%w: unknown kind code %q", ErrUnrecognized, code)
	}

	return Line{Txn: txn, Statement: stmt}, nil
}

// Reclassify turns a write whose text starts with a temp-table prefix into a
// KindTempTable statement. Other statements are returned unchanged.
func Reclassify(stmt Statement) Statement {
	if stmt.Kind != KindWrite {
		return stmt
	}
	if IsTempTableText(stmt.Text) {
		stmt.Kind = KindTempTable
	}
	return stmt
}

// IsTempTableText reports whether text begins with a temp-table prefix.
func IsTempTableText(text string) bool {
	for _, prefix := range tempTablePrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// nextField splits off the next whitespace-delimited token.
func nextField(s string) (field, rest string, ok bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if s == "" {
		return "", "", false
	}
	end := strings.IndexFunc(s, unicode.IsSpace)
	if end < 0 {
		return s, "", true
	}
	return s[:end], s[end:], true
}

func parseTxnNumber(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: transaction number %q is not a decimal", ErrUnrecognized, s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: transaction number %q: %v", ErrUnrecognized, s, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: transaction number must be positive, got %d", ErrUnrecognized, n)
	}
	if n > MaxTxnNumber {
		return 0, fmt.Errorf("%w: transaction number %d exceeds %d", ErrUnrecognized, n, MaxTxnNumber)
	}
	return n, nil
}
