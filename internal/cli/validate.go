package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/txreplay/internal/trace"
)

// Error codes reported by validate.
const (
	ErrCodeTraceUnreadable = "E_TRACE_UNREADABLE"
	ErrCodeTraceEmpty      = "E_TRACE_EMPTY"
	ErrCodeTraceIgnored    = "E_TRACE_IGNORED_LINES"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Strict bool // unrecognized lines fail validation
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool           `json:"valid"`
	Source       string         `json:"source"`
	Lines        int            `json:"lines"`
	Transactions int            `json:"transactions"`
	Statements   int            `json:"statements"`
	Ignored      int            `json:"ignored_lines"`
	Kinds        map[string]int `json:"kinds"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <trace>",
		Short: "Parse a trace and print its statistics",
		Long: `Parse a trace file without connecting to a database.

Reports the number of transactions, statements per kind and unrecognized
lines. Unrecognized lines are skipped during a run; with --strict they fail
validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail on unrecognized lines")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	// Skipped lines are reported in the stats; per-line warnings only with -v.
	level := slog.LevelError
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(formatter.GetErrWriter(), &slog.HandlerOptions{Level: level}))

	store := trace.NewStore(logger)
	if err := store.Load(path); err != nil {
		_ = formatter.Error(ErrCodeTraceUnreadable, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeTraceUnreadable, err)
	}

	stats := store.Stats()
	result := ValidationResult{
		Valid:        true,
		Source:       path,
		Lines:        stats.Lines,
		Transactions: stats.Transactions,
		Statements:   stats.Statements,
		Ignored:      stats.Ignored,
		Kinds:        stats.KindCounts(),
	}
	formatter.VerboseLog("Parsed %d line(s) from %s", stats.Lines, path)

	var failure *CLIError
	switch {
	case stats.Statements == 0:
		failure = &CLIError{Code: ErrCodeTraceEmpty, Message: "trace has no statements"}
	case opts.Strict && stats.Ignored > 0:
		failure = &CLIError{
			Code:    ErrCodeTraceIgnored,
			Message: fmt.Sprintf("%d unrecognized line(s)", stats.Ignored),
		}
	}
	if failure != nil {
		result.Valid = false
		return outputValidationFailure(formatter, result, failure)
	}

	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Trace valid: %s\n", result.Source)
	writeTraceStats(formatter, result)
	return nil
}

// outputValidationFailure reports a trace that parsed but cannot be used.
func outputValidationFailure(formatter *OutputFormatter, result ValidationResult, failure *CLIError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error:  failure,
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, failure.Message)
	}

	fmt.Fprintf(formatter.Writer, "✗ Validation failed: %s\n", result.Source)
	fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", failure.Code, failure.Message)
	writeTraceStats(formatter, result)

	return NewExitError(ExitFailure, failure.Message)
}

func writeTraceStats(formatter *OutputFormatter, result ValidationResult) {
	w := formatter.Writer
	fmt.Fprintf(w, "  lines:         %d\n", result.Lines)
	fmt.Fprintf(w, "  transactions:  %d\n", result.Transactions)
	fmt.Fprintf(w, "  statements:    %d\n", result.Statements)
	fmt.Fprintf(w, "  ignored lines: %d\n", result.Ignored)
	for _, k := range trace.Kinds {
		fmt.Fprintf(w, "    %-10s %d\n", k.String(), result.Kinds[k.String()])
	}
}
