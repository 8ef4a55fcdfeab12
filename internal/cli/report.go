package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/txreplay/internal/result"
	"github.com/roach88/txreplay/internal/store"
)

// Error codes reported by report.
const (
	ErrCodeRunNotFound   = "E_RUN_NOT_FOUND"
	ErrCodeRunIncomplete = "E_RUN_INCOMPLETE"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	RunID    string // empty means the latest run
	Summary  bool
	List     bool
}

// StoredReport is the JSON payload of the report command.
type StoredReport struct {
	Run     store.Run       `json:"run"`
	Records int             `json:"records"`
	Summary *result.Summary `json:"summary,omitempty"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a stored run's report",
		Long: `Print the report of a run recorded with 'txreplay run --db'.

The latest run is used unless --run selects one. The text output is the same
report format that run writes.

Examples:
  txreplay report --db results.db
  txreplay report --db results.db --run 0190a1b2-... --summary
  txreplay report --db results.db --list`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite results database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default latest)")
	cmd.Flags().BoolVar(&opts.Summary, "summary", false, "print per-kind latency statistics")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list stored runs")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// store.Open creates missing files; a report needs an existing one.
	if _, err := os.Stat(opts.Database); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.List {
		return listRuns(ctx, formatter, st)
	}

	var run store.Run
	if opts.RunID != "" {
		run, err = st.GetRun(ctx, opts.RunID)
	} else {
		run, err = st.LatestRun(ctx)
	}
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeRunNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeRunNotFound, err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}
	formatter.VerboseLog("Run %s: status=%s cause=%s last_txn=%d", run.ID, run.Status, run.StopCause, run.LastTxn)

	if run.Status != store.StatusCompleted {
		msg := fmt.Sprintf("run %s is %s", run.ID, run.Status)
		if run.Error != "" {
			msg += ": " + run.Error
		}
		_ = formatter.Error(ErrCodeRunIncomplete, msg, run)
		return NewExitError(ExitFailure, msg)
	}

	report, err := st.ReadReport(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read report", err)
	}

	if opts.Format == "json" {
		out := StoredReport{Run: run, Records: report.Records()}
		if opts.Summary {
			sum := result.Summarize(report)
			out.Summary = &sum
		}
		return formatter.Success(out)
	}

	if err := report.WriteText(formatter.Writer); err != nil {
		return err
	}
	if opts.Summary {
		return result.Summarize(report).WriteText(formatter.Writer)
	}
	return nil
}

func listRuns(ctx context.Context, formatter *OutputFormatter, st *store.Store) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tCAUSE\tTHREADS\tLAST TXN\tTRACE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.StopCause, r.Threads, r.LastTxn, r.TracePath)
	}
	return tw.Flush()
}
