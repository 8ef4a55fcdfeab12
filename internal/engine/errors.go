package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/txreplay/internal/trace"
)

// ExecError is a fatal error raised by a worker. It aborts the run: latencies
// measured after a failed statement would be misleading.
type ExecError struct {
	// Code identifies the error category.
	Code ExecErrorCode

	// Worker is the id of the worker that failed.
	Worker int

	// Txn is the transaction id being replayed, if any.
	Txn uint64

	// Statement is the statement that failed (zero for connect errors).
	Statement trace.Statement

	// Err is the driver error.
	Err error
}

// ExecErrorCode categorizes fatal worker errors.
type ExecErrorCode string

const (
	ErrCodeConnect   ExecErrorCode = "CONNECT_FAILED"
	ErrCodeBegin     ExecErrorCode = "BEGIN_FAILED"
	ErrCodeSelect    ExecErrorCode = "SELECT_FAILED"
	ErrCodeTempTable ExecErrorCode = "TEMP_TABLE_FAILED"
	ErrCodeWrite     ExecErrorCode = "WRITE_FAILED"
)

// codeFor maps a statement kind to the code used when it fails.
func codeFor(k trace.Kind) ExecErrorCode {
	switch k {
	case trace.KindBegin:
		return ErrCodeBegin
	case trace.KindSelect:
		return ErrCodeSelect
	case trace.KindTempTable:
		return ErrCodeTempTable
	}
	return ErrCodeWrite
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Statement.Text != "" {
		return fmt.Sprintf("%s: worker %d txn %d: %q: %v", e.Code, e.Worker, e.Txn, e.Statement.Text, e.Err)
	}
	return fmt.Sprintf("%s: worker %d: %v", e.Code, e.Worker, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// IsExecError reports whether err is (or wraps) an ExecError.
func IsExecError(err error) bool {
	var ee *ExecError
	return errors.As(err, &ee)
}

// ExecErrorCodeOf returns the code of a wrapped ExecError, or "" if err is
// not one.
func ExecErrorCodeOf(err error) ExecErrorCode {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
