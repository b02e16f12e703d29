// Package dipot exposes the suite runner for embedding: build an Options
// record, construct a Runner, and drive it the same way the CLI does.
package dipot

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/rosechou/dipot/internal/config"
	"github.com/rosechou/dipot/internal/history"
	"github.com/rosechou/dipot/internal/journal"
	"github.com/rosechou/dipot/internal/logger"
	"github.com/rosechou/dipot/internal/server"
	"github.com/rosechou/dipot/internal/supervisor"
)

// Re-export core types for external consumers. These are aliases, so
// conversions are zero-cost.

type Options = config.Options

type Code = journal.Code

type HistorySink = history.Sink

const (
	Started     = journal.Started
	Retried     = journal.Retried
	Unknown     = journal.Unknown
	Failed      = journal.Failed
	Interrupted = journal.Interrupted
	KnownFail   = journal.KnownFail
	Passed      = journal.Passed
	Skipped     = journal.Skipped
	Timeout     = journal.Timeout
	Warned      = journal.Warned
)

// DefaultOptions returns the built-in defaults; callers overlay their own
// values and then hand the record to New.
func DefaultOptions() Options { return config.Default() }

// Runner is a thin facade over the internal supervisor.
type Runner struct {
	inner *supervisor.Supervisor
}

// New validates opts and builds a Runner. A nil log discards runner
// diagnostics (test output still goes wherever opts says).
func New(opts Options, log *slog.Logger) (*Runner, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	sup, err := supervisor.New(&opts, log)
	if err != nil {
		return nil, err
	}
	if err := sup.Setup(); err != nil {
		return nil, err
	}
	return &Runner{inner: sup}, nil
}

// Run executes the suite and returns the process exit code the CLI would
// use: 0 on full success, 1 when anything failed or the run was cut short.
func (r *Runner) Run() int { return r.inner.Run() }

// SetHistorySink routes result events to a caller-provided sink. It
// replaces any sink configured through HistoryDSN.
func (r *Runner) SetHistorySink(s HistorySink) { r.inner.SetHistory(s) }

// StatusHandler returns the live status router (status, journal, metrics)
// mounted at basePath, for embedding in the caller's own HTTP server.
func (r *Runner) StatusHandler(basePath string) http.Handler {
	return server.NewRouter(r.inner.Board(), basePath).Handler()
}

// Report prints the banner and per-test details of the journal in
// opts.OutDir without running anything.
func Report(opts Options, w io.Writer) error {
	if opts.OutDir == "" {
		opts.OutDir = "."
	}
	return supervisor.Report(&opts, w)
}
