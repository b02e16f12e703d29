package supervisor

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rosechou/dipot/internal/config"
	"github.com/rosechou/dipot/internal/history"
	"github.com/rosechou/dipot/internal/history/factory"
	"github.com/rosechou/dipot/internal/journal"
	"github.com/rosechou/dipot/internal/metrics"
	"github.com/rosechou/dipot/internal/progress"
	"github.com/rosechou/dipot/internal/server"
	"github.com/rosechou/dipot/internal/sigplane"
	"github.com/rosechou/dipot/internal/testcase"
)

const (
	firstSlotWait = 500 * time.Millisecond
	fatalExitCode = 201
)

// Supervisor owns one suite run: the filtered ordered queue of cases, the
// slot scheduler, the journal, the progress printer, and the global timers.
type Supervisor struct {
	opts *config.Options
	log  *slog.Logger

	jr    *journal.Journal
	prog  *progress.Printer
	board *server.Board
	hist  history.Sink

	cases   []*testcase.Case
	byID    map[string]*testcase.Case
	slots   []*testcase.Case
	httpSrv *http.Server

	suiteStart time.Time
	lastDone   *testcase.Case
	die        bool

	// FatalSleep is how long the runner lingers after --fatal-timeouts
	// trips, so the VM host notices the heartbeat stop. Tests shorten it.
	FatalSleep time.Duration
}

func New(opts *config.Options, log *slog.Logger) (*Supervisor, error) {
	s := &Supervisor{
		opts:       opts,
		log:        log,
		byID:       make(map[string]*testcase.Case),
		slots:      make([]*testcase.Case, opts.Jobs),
		board:      server.NewBoard(),
		FatalSleep: time.Hour,
	}
	s.jr = journal.New(opts.OutDir)
	s.prog = progress.New(opts.Jobs, opts.Batch, os.Stdout)

	if opts.HistoryDSN != "" {
		sink, err := factory.NewSinkFromDSN(opts.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		s.hist = sink
	}
	s.jr.Notify = s.observe
	return s, nil
}

// observe mirrors every journal change into the board, metrics, and the
// history sink. Export failures never affect the run.
func (s *Supervisor) observe(id string, c journal.Code) {
	word := c.String()
	s.board.Record(id, word)

	ca := s.byID[id]
	flavour, path, _ := strings.Cut(id, ":")
	slot, durMS := 0, int64(0)
	if ca != nil {
		slot = ca.Slot()
		durMS = ca.Duration().Milliseconds()
	}
	switch c {
	case journal.Started, journal.Retried:
		metrics.IncStarted(flavour)
	default:
		metrics.IncFinished(flavour, word)
		if ca != nil {
			metrics.ObserveDuration(flavour, ca.Duration().Seconds())
		}
	}
	metrics.SetConsecutiveTimeouts(s.jr.ConsecutiveTimeouts())

	if s.hist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.hist.Send(ctx, history.Event{
			OccurredAt: time.Now(),
			ID:         id,
			Flavour:    flavour,
			Path:       path,
			Code:       word,
			Slot:       slot,
			DurationMS: durMS,
		})
		if err != nil {
			s.log.Warn("history export failed", "id", id, "err", err)
		}
	}
}

// runnable decides whether a file is a test: extension .sh, or one of the
// configured interpreter mappings.
func (s *Supervisor) runnable(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "sh" {
		return true
	}
	_, ok := s.opts.Interpreters[ext]
	return ok
}

// discover lists the test tree, skipping lib/ and data/ subtrees.
func (s *Supervisor) discover() ([]string, error) {
	var files []string
	root := s.opts.TestDir
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && (d.Name() == "lib" || d.Name() == "data") {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	return files, nil
}

func compileAll(exprs []string) ([]*regexp.Regexp, error) {
	var res []*regexp.Regexp
	for _, e := range exprs {
		re, err := regexp.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("bad regex %q: %w", e, err)
		}
		res = append(res, re)
	}
	return res, nil
}

// anyMatch uses search semantics: an unanchored hit anywhere counts.
func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.FindStringIndex(s) != nil {
			return true
		}
	}
	return false
}

// sortKey assembles the ordering vector for one file: sort-hint captures
// first, then the filename components split on [-_ .], then the whole
// path. The extension counts as a component, which is what places test.sh
// ahead of test-special.sh.
func sortKey(hints []*regexp.Regexp, path string) []string {
	var key []string
	for _, re := range hints {
		m := re.FindStringSubmatch(path)
		switch {
		case m == nil:
			key = append(key, "")
		case len(m) > 1 && m[1] != "":
			key = append(key, m[1])
		default:
			key = append(key, m[0])
		}
	}
	key = append(key, splitParts(filepath.Base(path))...)
	key = append(key, path)
	return key
}

var partSep = regexp.MustCompile(`[-_ .]`)

func splitParts(s string) []string {
	return partSep.Split(s, -1)
}

// Setup discovers and filters the test tree, orders the queue, and either
// resumes from or resets the journal.
func (s *Supervisor) Setup() error {
	files, err := s.discover()
	if err != nil {
		return err
	}

	only, err := compileAll(s.opts.Only)
	if err != nil {
		return err
	}
	skip, err := compileAll(s.opts.Skip)
	if err != nil {
		return err
	}
	hints, err := compileAll(s.opts.SortHints)
	if err != nil {
		return err
	}
	var flavourRe *regexp.Regexp
	if s.opts.FlavourFilter != "" {
		if flavourRe, err = regexp.Compile(s.opts.FlavourFilter); err != nil {
			return fmt.Errorf("bad flavour filter %q: %w", s.opts.FlavourFilter, err)
		}
	}

	var selected []string
	for _, f := range files {
		if !s.runnable(f) {
			continue
		}
		if len(only) > 0 && !anyMatch(only, f) {
			continue
		}
		if anyMatch(skip, f) {
			continue
		}
		selected = append(selected, f)
	}

	keys := make(map[string][]string, len(selected))
	for _, f := range selected {
		keys[f] = sortKey(hints, f)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return slices.Compare(keys[selected[i]], keys[selected[j]]) < 0
	})

	for _, flavour := range s.opts.Flavours {
		if flavourRe != nil && flavourRe.FindStringIndex(flavour) == nil {
			continue
		}
		for _, f := range selected {
			ca := testcase.New(flavour, f, s.opts, s.jr, s.prog, s.log)
			s.cases = append(s.cases, ca)
			s.byID[ca.ID()] = ca
		}
	}

	if err := os.MkdirAll(s.opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("outdir: %w", err)
	}
	if s.opts.Continue {
		if err := s.jr.Read(); err != nil {
			return err
		}
	} else {
		s.jr.Remove()
	}

	if s.opts.Listen != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		s.httpSrv = server.NewServer(s.opts.Listen, "", s.board)
		s.log.Info("status server listening", "addr", s.opts.Listen)
	}

	sigplane.Install()
	return nil
}

// tick gives every occupied slot one monitor pass. The first occupied slot
// gets the real wait so the loop blocks somewhere; the rest poll, which
// rotates attention fairly across slots.
func (s *Supervisor) tick() bool {
	freed := false
	wait := firstSlotWait
	for i, ca := range s.slots {
		if ca == nil {
			continue
		}
		if ca.Finished(wait) {
			s.finish(i, ca)
			freed = true
		}
		wait = 0
	}
	return freed
}

func (s *Supervisor) finish(slot int, ca *testcase.Case) {
	s.slots[slot] = nil
	s.board.ClearSlot(slot)
	s.lastDone = ca
	metrics.SetRunning(s.runningCount())
}

func (s *Supervisor) runningCount() int {
	n := 0
	for _, ca := range s.slots {
		if ca != nil {
			n++
		}
	}
	return n
}

// checkGlobal drives the suite-wide timers.
func (s *Supervisor) checkGlobal() {
	if s.die {
		return
	}
	if s.opts.FatalTimeouts && s.jr.ConsecutiveTimeouts() >= 2 {
		// Leave the victim re-startable on resume, then stall so the
		// heartbeat goes quiet and the VM host intervenes.
		if s.lastDone != nil {
			_ = s.jr.Started(s.lastDone.ID())
		}
		fmt.Println("### two consecutive timeouts, giving up")
		s.log.Error("two consecutive timeouts, giving up")
		time.Sleep(s.FatalSleep)
		s.die = true
		return
	}
	if time.Since(s.suiteStart) > s.opts.TotalTimeout {
		s.log.Error("total timeout exceeded", "budget", s.opts.TotalTimeout)
		s.die = true
	}
}

// freeSlot blocks until a slot is available, or returns -1 when the run
// must stop.
func (s *Supervisor) freeSlot() int {
	for {
		for i, ca := range s.slots {
			if ca == nil {
				return i
			}
		}
		s.tick()
		s.checkGlobal()
		if s.die || sigplane.Fatal() {
			return -1
		}
	}
}

// Run executes the queue and renders the final report. The return value is
// the process exit code.
func (s *Supervisor) Run() int {
	s.suiteStart = time.Now()

	for _, ca := range s.cases {
		if s.opts.Continue && s.jr.IsDone(ca.ID()) {
			continue
		}
		s.checkGlobal()
		if s.die || sigplane.Fatal() {
			break
		}
		slot := s.freeSlot()
		if slot < 0 {
			break
		}
		if err := ca.Run(slot); err != nil {
			if testcase.SpawnFatal(err) {
				fmt.Fprintln(os.Stderr, err)
				s.log.Error("cannot spawn child", "err", err)
				return fatalExitCode
			}
			// the moral equivalent of the child failing exec
			s.log.Warn("cannot execute test", "id", ca.ID(), "err", err)
			_ = s.jr.Done(ca.ID(), journal.Failed)
			continue
		}
		s.slots[slot] = ca
		s.board.SetRunning(slot, ca.ID())
		metrics.SetRunning(s.runningCount())
	}

	for s.runningCount() > 0 {
		s.tick()
	}

	s.prog.Flush()
	s.jr.Banner(os.Stdout)
	s.jr.Each(func(id string, c journal.Code) {
		if c.Terminal() && c != journal.Passed && c != journal.Skipped {
			fmt.Printf("%-12s %s\n", c, id)
		}
	})
	s.shutdown()

	bad := s.jr.Count(journal.Failed) + s.jr.Count(journal.Timeout) + s.jr.Count(journal.Interrupted)
	if s.die || sigplane.Fatal() || bad > 0 {
		return 1
	}
	return 0
}

func (s *Supervisor) shutdown() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(ctx)
	}
	if c, ok := s.hist.(interface{ Close() error }); ok && s.hist != nil {
		_ = c.Close()
	}
}

// Journal exposes the run's journal for the report command and tests.
func (s *Supervisor) Journal() *journal.Journal { return s.jr }

// SetHistory replaces the result-export sink; embedding callers use it to
// route events somewhere a DSN cannot describe.
func (s *Supervisor) SetHistory(sink history.Sink) { s.hist = sink }

// Board exposes the live status board so embedding callers can mount the
// HTTP router themselves instead of using --listen.
func (s *Supervisor) Board() *server.Board { return s.board }

// Report prints the banner and details of an existing journal without
// running anything.
func Report(opts *config.Options, w io.Writer) error {
	jr := journal.New(opts.OutDir)
	if err := jr.Read(); err != nil {
		return err
	}
	jr.Banner(w)
	jr.Details(w)
	return nil
}
