package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/txreplay/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // run completed, trace valid, scenarios passed
	ExitFailure      = 1 // run aborted by an execution error, or scenarios failed
	ExitCommandError = 2 // bad flags, unreadable trace, missing database
)

// ErrCodeRunAborted is reported when a worker's statement fails and the run
// stops without a report.
const ErrCodeRunAborted = "E_RUN_ABORTED"

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without an underlying error.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not
// ExitErrors map to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool

	// RunID is stamped on every envelope once the run has been recorded.
	RunID string
}

// CLIResponse is the JSON envelope written with --format json.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	RunID  string    `json:"run_id,omitempty"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed command.
type CLIError struct {
	Code    string `json:"code"` // E_TRACE_EMPTY, E_RUN_ABORTED, ...
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// AbortDetails describes the statement that aborted a run.
type AbortDetails struct {
	Cause     string `json:"cause"`
	ExecCode  string `json:"exec_code,omitempty"`
	Worker    int    `json:"worker"`
	Txn       uint64 `json:"txn"`
	Kind      string `json:"kind,omitempty"`
	Statement string `json:"statement,omitempty"`
}

// abortDetails extracts the failing worker and statement from err.
func abortDetails(cause engine.StopCause, err error) AbortDetails {
	d := AbortDetails{Cause: cause.String()}
	var ee *engine.ExecError
	if errors.As(err, &ee) {
		d.ExecCode = string(ee.Code)
		d.Worker = ee.Worker
		d.Txn = ee.Txn
		if ee.Code != engine.ErrCodeConnect {
			d.Kind = ee.Statement.Kind.String()
			d.Statement = ee.Statement.Text
		}
	}
	return d
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			RunID:  f.RunID,
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format. Text output shows details
// only in verbose mode.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			RunID:  f.RunID,
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.RunID != "" {
		fmt.Fprintf(f.Writer, "Run: %s\n", f.RunID)
	}
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %+v\n", details)
	}
	return nil
}

// VerboseLog writes a diagnostic line in verbose mode. It goes to ErrWriter
// so JSON on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter, or Writer when none is set.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
