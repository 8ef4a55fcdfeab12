package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/txreplay/internal/config"
	"github.com/roach88/txreplay/internal/engine"
	"github.com/roach88/txreplay/internal/monitor"
	"github.com/roach88/txreplay/internal/result"
	"github.com/roach88/txreplay/internal/scheduler"
	"github.com/roach88/txreplay/internal/store"
	"github.com/roach88/txreplay/internal/target"
	"github.com/roach88/txreplay/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile string

	// flags receives flag values; only flags set on the command line are
	// copied onto the loaded configuration.
	flags *config.Config

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunResult is the JSON payload of a completed run.
type RunResult struct {
	RunID        string          `json:"run_id,omitempty"`
	Cause        string          `json:"cause"`
	LastTxn      uint64          `json:"last_txn"`
	Records      int             `json:"records"`
	StartedAt    time.Time       `json:"started_at"`
	WindowOpenAt time.Time       `json:"window_open_at,omitzero"`
	FinishedAt   time.Time       `json:"finished_at"`
	Summary      *result.Summary `json:"summary,omitempty"`
}

func newRunOptions(rootOpts *RootOptions) *RunOptions {
	return &RunOptions{RootOptions: rootOpts, flags: config.DefaultConfig()}
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(newRunOptions(rootOpts))
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [trace]",
		Short: "Replay a trace against a database",
		Long: `Replay a transaction trace with a pool of workers.

The run goes through three phases: rampup, run and rampdown. Only statements
that start while the measurement window is open (after rampup, before stop)
are reported. Without --repeat the run ends as soon as one worker reaches
the end of the trace.

Configuration is read from --config (YAML, JSON or TOML), then TXREPLAY_*
environment variables, then command-line flags.

Exit codes:
  0 - Run completed and the report was written
  1 - Run aborted by a database error
  2 - Command error (bad configuration, unreadable trace, etc.)

Examples:
  txreplay run outc.txt --threads 16 --rampup 30s --run 5m --rampdown 30s
  txreplay run --config bench.yaml --out report.txt --db results.db
  txreplay run outc.txt --driver sqlite3 --database ./bench.db --summary`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd.Flags(), args)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			return runReplay(cmd, opts, cfg)
		},
	}

	opts.addFlags(cmd.Flags())

	return cmd
}

// addFlags registers one flag per configuration field. Defaults shown in
// help are the built-in defaults, not the config file's.
func (o *RunOptions) addFlags(f *pflag.FlagSet) {
	c := o.flags
	f.StringVar(&o.ConfigFile, "config", "", "configuration file (.yaml, .json, .toml)")

	f.StringVar(&c.TracePath, "trace", c.TracePath, "trace file to replay")
	f.IntVarP(&c.Threads, "threads", "t", c.Threads, "number of workers")
	f.Int64Var(&c.Seed, "seed", c.Seed, "random seed for stagger offsets and think time")
	f.BoolVar(&c.Repeat, "repeat", c.Repeat, "restart the trace when it is exhausted")
	f.BoolVar(&c.AllowWrite, "write", c.AllowWrite, "execute write statements instead of skipping them")
	f.BoolVar(&c.DelayedStart, "delayed-start", c.DelayedStart, "stagger worker starts over the first half of rampup")
	f.StringVar(&c.Sleep.Mode, "sleep", c.Sleep.Mode, "pause after each statement (off|fixed|thinktime)")
	f.Var(&c.Sleep.Fixed, "sleep-fixed", "pause used by --sleep fixed")
	f.Var(&c.Rampup, "rampup", "rampup duration (bare numbers are seconds)")
	f.Var(&c.Run, "run", "measurement duration")
	f.Var(&c.Rampdown, "rampdown", "rampdown duration")

	f.StringVar(&c.Target.Driver, "driver", c.Target.Driver, "database driver (mysql|sqlite3)")
	f.StringVar(&c.Target.Host, "host", c.Target.Host, "database host")
	f.IntVar(&c.Target.Port, "port", c.Target.Port, "database port")
	f.StringVar(&c.Target.User, "user", c.Target.User, "database user")
	f.StringVar(&c.Target.Password, "pass", c.Target.Password, "database password")
	f.StringVar(&c.Target.Database, "database", c.Target.Database, "database name, or file for sqlite3")
	f.StringVar(&c.Target.Socket, "socket", c.Target.Socket, "unix socket used when host is localhost")
	f.StringVar(&c.Target.DSN, "dsn", c.Target.DSN, "driver DSN; overrides the connection flags")

	f.StringVarP(&c.Output.Report, "out", "o", c.Output.Report, "report file (default stdout)")
	f.StringVar(&c.Output.ResultsDB, "db", c.Output.ResultsDB, "SQLite results database to record the run in")
	f.BoolVar(&c.Output.Summary, "summary", c.Output.Summary, "print per-kind latency statistics")
	f.StringVar(&c.Metrics.Addr, "metrics-addr", c.Metrics.Addr, "serve Prometheus metrics on this address")
	f.BoolVar(&c.Monitor.Enabled, "monitor", c.Monitor.Enabled, "sample host CPU, memory, load and network during the run")
	f.StringVar(&c.Monitor.Path, "monitor-path", c.Monitor.Path, "host monitor output file")
	f.Var(&c.Monitor.Interval, "monitor-interval", "host monitor sampling interval")
}

// flagFields copies one command-line setting from src to dst, keyed by flag
// name.
var flagFields = map[string]func(dst, src *config.Config){
	"trace":            func(d, s *config.Config) { d.TracePath = s.TracePath },
	"threads":          func(d, s *config.Config) { d.Threads = s.Threads },
	"seed":             func(d, s *config.Config) { d.Seed = s.Seed },
	"repeat":           func(d, s *config.Config) { d.Repeat = s.Repeat },
	"write":            func(d, s *config.Config) { d.AllowWrite = s.AllowWrite },
	"delayed-start":    func(d, s *config.Config) { d.DelayedStart = s.DelayedStart },
	"sleep":            func(d, s *config.Config) { d.Sleep.Mode = s.Sleep.Mode },
	"sleep-fixed":      func(d, s *config.Config) { d.Sleep.Fixed = s.Sleep.Fixed },
	"rampup":           func(d, s *config.Config) { d.Rampup = s.Rampup },
	"run":              func(d, s *config.Config) { d.Run = s.Run },
	"rampdown":         func(d, s *config.Config) { d.Rampdown = s.Rampdown },
	"driver":           func(d, s *config.Config) { d.Target.Driver = s.Target.Driver },
	"host":             func(d, s *config.Config) { d.Target.Host = s.Target.Host },
	"port":             func(d, s *config.Config) { d.Target.Port = s.Target.Port },
	"user":             func(d, s *config.Config) { d.Target.User = s.Target.User },
	"pass":             func(d, s *config.Config) { d.Target.Password = s.Target.Password },
	"database":         func(d, s *config.Config) { d.Target.Database = s.Target.Database },
	"socket":           func(d, s *config.Config) { d.Target.Socket = s.Target.Socket },
	"dsn":              func(d, s *config.Config) { d.Target.DSN = s.Target.DSN },
	"out":              func(d, s *config.Config) { d.Output.Report = s.Output.Report },
	"db":               func(d, s *config.Config) { d.Output.ResultsDB = s.Output.ResultsDB },
	"summary":          func(d, s *config.Config) { d.Output.Summary = s.Output.Summary },
	"metrics-addr":     func(d, s *config.Config) { d.Metrics.Addr = s.Metrics.Addr },
	"monitor":          func(d, s *config.Config) { d.Monitor.Enabled = s.Monitor.Enabled },
	"monitor-path":     func(d, s *config.Config) { d.Monitor.Path = s.Monitor.Path },
	"monitor-interval": func(d, s *config.Config) { d.Monitor.Interval = s.Monitor.Interval },
}

// loadConfig layers the config file, the environment and explicitly set
// flags, in that order, and validates the result.
func (o *RunOptions) loadConfig(flags *pflag.FlagSet, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.ConfigFile != "" {
		loaded, err := config.LoadFromFile(o.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	flags.Visit(func(f *pflag.Flag) {
		if apply, ok := flagFields[f.Name]; ok {
			apply(cfg, o.flags)
		}
	})
	if len(args) == 1 {
		cfg.TracePath = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runReplay(cmd *cobra.Command, opts *RunOptions, cfg *config.Config) error {
	logger := opts.newLogger()
	slog.SetDefault(logger)

	params, err := cfg.JSON()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger.Info("parameters", "config", params)

	traceStore := trace.NewStore(logger)
	if err := traceStore.Load(cfg.TracePath); err != nil {
		return WrapExitError(ExitCommandError, "failed to load trace", err)
	}

	dialer, err := target.Open(cfg.TargetOptions())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open target", err)
	}
	defer func() {
		if closeErr := dialer.Close(); closeErr != nil {
			logger.Error("error closing target", "error", closeErr)
		}
	}()

	metrics := engine.NewMetrics()
	if cfg.Metrics.Addr != "" {
		_, stop, err := serveMetrics(cfg.Metrics.Addr, metrics, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics endpoint", err)
		}
		defer stop()
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var results *store.Store
	var runID string
	if cfg.Output.ResultsDB != "" {
		results, err = store.Open(cfg.Output.ResultsDB)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open results database", err)
		}
		defer func() {
			if closeErr := results.Close(); closeErr != nil {
				logger.Error("error closing results database", "error", closeErr)
			}
		}()

		ids := opts.RunIDs
		if ids == nil {
			ids = engine.UUIDv7Generator{}
		}
		runID = ids.Generate()
		if err := results.CreateRun(ctx, store.Run{
			ID:        runID,
			TracePath: cfg.TracePath,
			Threads:   cfg.Threads,
			Config:    params,
			StartedAt: time.Now(),
		}); err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		formatter.RunID = runID
		logger.Info("recording run", "run_id", runID, "db", cfg.Output.ResultsDB)
	}

	life := engine.NewLifecycle()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan) // Prevent signal handler leak
	signal.Ignore(ignoredSignals...)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			life.Stop(engine.StopSignal)
		case <-ctx.Done():
		}
	}()

	monCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	monitorDone := make(chan struct{})
	if cfg.Monitor.Enabled {
		go func() {
			defer close(monitorDone)
			runMonitor(monCtx, cfg.Monitor, life.Done(), logger)
		}()
	} else {
		close(monitorDone)
	}

	sched := scheduler.New(cfg.SchedulerConfig(), scheduler.Deps{
		Store:     traceStore,
		Dialer:    dialer,
		Lifecycle: life,
		Metrics:   metrics,
		Logger:    logger,
	})

	logger.Info("run starting", "trace", cfg.TracePath, "threads", cfg.Threads,
		"rampup", cfg.Rampup, "run", cfg.Run, "rampdown", cfg.Rampdown)
	out, runErr := sched.Run(ctx)
	stopMonitor()
	<-monitorDone

	if runErr != nil {
		if results != nil {
			finishRun(results, runID, store.Finish{
				Status:     store.StatusFailed,
				FinishedAt: time.Now(),
				StopCause:  life.Cause().String(),
				LastTxn:    sched.Allocator().Last(),
				Error:      runErr.Error(),
			}, logger)
		}
		if errors.Is(runErr, scheduler.ErrEmptyTrace) {
			return WrapExitError(ExitCommandError, "nothing to replay", runErr)
		}
		if opts.Format == "json" {
			_ = formatter.Error(ErrCodeRunAborted, runErr.Error(), abortDetails(life.Cause(), runErr))
		}
		return WrapExitError(ExitFailure, "run aborted", runErr)
	}

	if err := writeReport(cmd, opts, cfg, out.Report); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}

	if results != nil {
		if err := results.WriteReport(ctx, runID, out.Report); err != nil {
			return WrapExitError(ExitCommandError, "failed to store report", err)
		}
		finishRun(results, runID, store.Finish{
			Status:       store.StatusCompleted,
			WindowOpenAt: out.WindowOpenAt,
			FinishedAt:   out.FinishedAt,
			StopCause:    out.Cause.String(),
			LastTxn:      out.LastTxn,
		}, logger)
	}

	logger.Info("run finished", "cause", out.Cause, "records", out.Report.Records(),
		"elapsed", out.FinishedAt.Sub(out.StartedAt).Round(time.Millisecond))

	if opts.Format == "json" {
		res := RunResult{
			RunID:        runID,
			Cause:        out.Cause.String(),
			LastTxn:      out.LastTxn,
			Records:      out.Report.Records(),
			StartedAt:    out.StartedAt,
			WindowOpenAt: out.WindowOpenAt,
			FinishedAt:   out.FinishedAt,
		}
		if cfg.Output.Summary {
			sum := result.Summarize(out.Report)
			res.Summary = &sum
		}
		return formatter.Success(res)
	}

	if cfg.Output.Summary {
		if err := result.Summarize(out.Report).WriteText(cmd.OutOrStdout()); err != nil {
			return WrapExitError(ExitCommandError, "failed to write summary", err)
		}
	}
	return nil
}

// writeReport writes the report to the configured file. Without a file the
// report goes to stdout, except in JSON mode where stdout carries the
// response.
func writeReport(cmd *cobra.Command, opts *RunOptions, cfg *config.Config, report *result.Report) error {
	path := cfg.Output.Report
	if path == "" || path == "-" {
		if opts.Format == "json" {
			return nil
		}
		return report.WriteText(cmd.OutOrStdout())
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteText(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// finishRun records the end of a run. The run already happened, so a
// failure here is logged rather than returned.
func finishRun(results *store.Store, runID string, f store.Finish, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := results.FinishRun(ctx, runID, f); err != nil {
		logger.Error("failed to record run result", "run_id", runID, "error", err)
	}
}

// serveMetrics serves the run's registry on /metrics until the returned
// stop function is called. It returns the bound address.
func serveMetrics(addr string, metrics *engine.Metrics, logger *slog.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("error stopping metrics endpoint", "error", err)
		}
	}, nil
}

// runMonitor samples the host into cfg.Path until done is closed.
func runMonitor(ctx context.Context, cfg config.MonitorConfig, done <-chan struct{}, logger *slog.Logger) {
	f, err := os.Create(cfg.Path)
	if err != nil {
		logger.Error("host monitor disabled", "path", cfg.Path, "error", err)
		return
	}
	defer f.Close()

	m := monitor.New(cfg.Interval.Std(), monitor.WithLogger(logger))
	n, err := m.Run(ctx, f, done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("host monitor failed", "error", err)
	}
	logger.Info("host monitor stopped", "samples", n, "path", cfg.Path)
}
