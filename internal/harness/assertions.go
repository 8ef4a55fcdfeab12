package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/txreplay/internal/testutil"
)

// transcriptLimit caps how many calls an AssertionError prints.
const transcriptLimit = 40

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Calls    []testutil.Call // Call log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Calls) > 0 {
		fmt.Fprintf(&buf, "\nCalls:\n")
		for i, c := range e.Calls {
			if i == transcriptLimit {
				fmt.Fprintf(&buf, "  ... %d more\n", len(e.Calls)-transcriptLimit)
				break
			}
			fmt.Fprintf(&buf, "  [%d] conn %d: %s\n", i+1, c.Conn, c)
		}
	}

	return buf.String()
}

// assertCallCount checks how often an operation was called.
func assertCallCount(calls []testutil.Call, a Assertion) error {
	count := 0
	for _, c := range calls {
		if c.Op == a.Op && (a.Text == "" || c.Text == a.Text) {
			count++
		}
	}

	what := a.Op
	if a.Text != "" {
		what = fmt.Sprintf("%s %q", a.Op, a.Text)
	}

	if a.Count != nil && count != *a.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d calls of %s", *a.Count, what),
			Actual:   fmt.Sprintf("%d calls", count),
			Calls:    calls,
		}
	}
	if a.Min != nil && count < *a.Min {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("at least %d calls of %s", *a.Min, what),
			Actual:   fmt.Sprintf("%d calls", count),
			Calls:    calls,
		}
	}
	return nil
}

// assertCallOrder checks that the calls first appear in the given order.
// Calls don't need to be consecutive (intervening calls are allowed).
func assertCallOrder(calls []testutil.Call, a Assertion) error {
	positions := make(map[string]int)
	for i, c := range calls {
		s := c.String()
		if _, seen := positions[s]; !seen {
			positions[s] = i + 1 // 1-indexed for readability
		}
	}

	for _, want := range a.Calls {
		if positions[want] == 0 {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("all calls present: %v", a.Calls),
				Actual:   fmt.Sprintf("missing call: %s", want),
				Calls:    calls,
			}
		}
	}

	for i := 1; i < len(a.Calls); i++ {
		prev, curr := a.Calls[i-1], a.Calls[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("calls in order: %v", a.Calls),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Calls: calls,
			}
		}
	}

	return nil
}

func assertStopCause(r *Result, a Assertion) error {
	if r.Cause != a.Cause {
		return &AssertionError{
			Type:     AssertStopCause,
			Expected: a.Cause,
			Actual:   r.Cause,
		}
	}
	return nil
}

func assertErrorCode(r *Result, a Assertion) error {
	if r.ErrorCode != a.Code {
		return &AssertionError{
			Type:     AssertErrorCode,
			Expected: a.Code,
			Actual:   r.ErrorCode,
			Calls:    r.Calls,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCallCount:
			err = assertCallCount(result.Calls, assertion)
		case AssertCallOrder:
			err = assertCallOrder(result.Calls, assertion)
		case AssertStopCause:
			err = assertStopCause(result, assertion)
		case AssertErrorCode:
			err = assertErrorCode(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
