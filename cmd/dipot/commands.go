package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rosechou/dipot/internal/config"
	"github.com/rosechou/dipot/internal/logger"
	"github.com/rosechou/dipot/internal/supervisor"
)

// buildOptions folds defaults, the optional config file, flags, and the
// short environment variables into one Options record.
func buildOptions(f *RunFlags, cmd *cobra.Command) (*config.Options, error) {
	opts := config.Default()
	if f.ConfigPath != "" {
		if err := opts.FromFile(f.ConfigPath); err != nil {
			return nil, err
		}
	}

	set := cmd.Flags().Changed
	if set("testdir") {
		opts.TestDir = f.TestDir
	}
	if set("outdir") {
		opts.OutDir = f.OutDir
	}
	if set("workdir") {
		opts.WorkDir = f.WorkDir
	}
	if set("continue") {
		opts.Continue = f.Continue
	}
	if set("only") {
		opts.Only = append(opts.Only, config.SplitCSV(f.Only)...)
	}
	if set("skip") {
		opts.Skip = append(opts.Skip, config.SplitCSV(f.Skip)...)
	}
	if set("flavours") {
		opts.Flavours = config.SplitCSV(f.Flavours)
	}
	if set("flavour-var") {
		opts.FlavourVar = f.FlavourVar
	}
	if set("watch") {
		opts.Watch = config.SplitCSV(f.Watch)
	}
	for _, m := range f.Interpreters {
		if err := opts.AddInterpreter(m); err != nil {
			return nil, err
		}
	}
	opts.SortHints = append(opts.SortHints, f.SortHints...)
	if set("timeout") {
		opts.Timeout = time.Duration(f.TimeoutSec) * time.Second
	}
	if set("total-timeout") {
		opts.TotalTimeout = time.Duration(f.TotalTimeoutSec) * time.Second
	}
	if set("jobs") {
		opts.Jobs = f.Jobs
	}
	if f.Batch {
		opts.Batch = true
	}
	if f.Verbose {
		opts.Verbose = true
	}
	if f.Interactive {
		opts.Interactive = true
	}
	if f.KMsg {
		opts.KMsg = true
	}
	if set("heartbeat") {
		opts.Heartbeat = f.Heartbeat
	}
	if f.FatalTimeouts {
		opts.FatalTimeouts = true
	}
	if set("history-dsn") {
		opts.HistoryDSN = f.HistoryDSN
	}
	if set("listen") {
		opts.Listen = f.Listen
	}
	if set("log-dir") {
		opts.LogDir = f.LogDir
	}
	if set("log-level") {
		opts.LogLevel = f.LogLevel
	}

	opts.ApplyEnv()
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	return &opts, nil
}

func addRunFlags(cmd *cobra.Command, f *RunFlags) {
	fl := cmd.Flags()
	fl.StringVar(&f.ConfigPath, "config", "", "config file (TOML or YAML)")
	fl.StringVar(&f.TestDir, "testdir", "", "root of the test tree (required)")
	fl.StringVar(&f.OutDir, "outdir", ".", "journal, heartbeat and per-test logs")
	fl.StringVar(&f.WorkDir, "workdir", "", "child chdir target (default testdir)")
	fl.BoolVar(&f.Continue, "continue", false, "resume from the journal; skip finished tests")
	fl.StringVar(&f.Only, "only", "", "csv of include regexes")
	fl.StringVar(&f.Skip, "skip", "", "csv of exclude regexes")
	fl.StringVar(&f.Flavours, "flavours", "vanilla", "csv of suite flavours to run")
	fl.StringVar(&f.FlavourVar, "flavour-var", "TEST_FLAVOUR", "env var carrying the flavour into the child")
	fl.StringVar(&f.Watch, "watch", "", "csv of extra files to tail per test")
	fl.StringArrayVar(&f.Interpreters, "interpreter", nil, "ext:script mapping (repeatable)")
	fl.StringArrayVar(&f.SortHints, "sort-hint", nil, "primary ordering regex (repeatable)")
	fl.IntVar(&f.TimeoutSec, "timeout", 60, "per-test inactivity timeout, seconds")
	fl.IntVar(&f.TotalTimeoutSec, "total-timeout", 10800, "total wall-clock budget, seconds")
	fl.IntVar(&f.Jobs, "jobs", 1, "parallel slots (>1 forces --batch)")
	fl.BoolVar(&f.Batch, "batch", false, "batch UI mode")
	fl.BoolVar(&f.Verbose, "verbose", false, "stream test output to stdout")
	fl.BoolVar(&f.Interactive, "interactive", false, "leave the child on the terminal")
	fl.BoolVar(&f.KMsg, "kmsg", false, "tap the kernel log while tests run")
	fl.StringVar(&f.Heartbeat, "heartbeat", "", "append '.' to this file every 20s while running")
	fl.BoolVar(&f.FatalTimeouts, "fatal-timeouts", false, "stop after two consecutive timeouts")
	fl.StringVar(&f.HistoryDSN, "history-dsn", "", "export results (sqlite://, postgres://, clickhouse://, opensearch://)")
	fl.StringVar(&f.Listen, "listen", "", "serve the status API and /metrics on this address")
	fl.StringVar(&f.LogDir, "log-dir", "", "rotate the runner's own log into this directory")
	fl.StringVar(&f.LogLevel, "log-level", "info", "runner log level")
}

func runSuite(f *RunFlags, cmd *cobra.Command) (int, error) {
	opts, err := buildOptions(f, cmd)
	if err != nil {
		return 2, err
	}
	log := logger.New(opts.LogLevel, opts.LogDir)
	sup, err := supervisor.New(opts, log)
	if err != nil {
		return 2, err
	}
	if err := sup.Setup(); err != nil {
		return 2, err
	}
	return sup.Run(), nil
}

func buildRoot() *cobra.Command {
	rf := &RunFlags{}
	root := &cobra.Command{
		Use:           "dipot",
		Short:         "supervising runner for shell-based functional tests",
		SilenceUsage:  true,
		SilenceErrors: true,
		// wrapper scripts pass suite-specific flags through; ignore them
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runSuite(rf, cmd)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	addRunFlags(root, rf)

	runCmd := &cobra.Command{
		Use:                "run",
		Short:              "discover and run the suite (the default command)",
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE:               root.RunE,
	}
	runCmd.Flags().AddFlagSet(root.Flags())

	repf := &ReportFlags{}
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "print the banner and details of an existing journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Default()
			opts.OutDir = repf.OutDir
			return supervisor.Report(&opts, os.Stdout)
		},
	}
	reportCmd.Flags().StringVar(&repf.OutDir, "outdir", ".", "directory holding the journal")

	root.AddCommand(runCmd, reportCmd)
	return root
}
