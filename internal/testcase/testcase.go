package testcase

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"al.essio.dev/pkg/shellescape"
	"golang.org/x/sys/unix"

	"github.com/rosechou/dipot/internal/config"
	"github.com/rosechou/dipot/internal/journal"
	"github.com/rosechou/dipot/internal/output"
	"github.com/rosechou/dipot/internal/progress"
	"github.com/rosechou/dipot/internal/sigplane"
)

const (
	heartbeatEvery = 20 * time.Second
	killGrace      = 5 * time.Second
	pulseEvery     = time.Second
)

// Case is one test invocation: it spawns the child in its own process
// group, wires the output hub, runs the monitor loop, and translates the
// child's end into a journal code.
type Case struct {
	Flavour string
	Path    string // relative to the test directory

	opts *config.Options
	jr   *journal.Journal
	prog *progress.Printer
	log  *slog.Logger

	cmd      *exec.Cmd
	pid      int
	waitDone chan struct{}
	hub      *output.Hub
	buf      *output.BufSink
	timeout  bool
	slot     int

	start         time.Time
	end           time.Time
	silentStart   time.Time
	lastUpdate    time.Time
	lastHeartbeat time.Time
}

func New(flavour, path string, opts *config.Options, jr *journal.Journal, prog *progress.Printer, log *slog.Logger) *Case {
	return &Case{Flavour: flavour, Path: path, opts: opts, jr: jr, prog: prog, log: log}
}

// ID is the journal identifier, flavour:path.
func (c *Case) ID() string { return c.Flavour + ":" + c.Path }

// Pretty is the human form of the identifier.
func (c *Case) Pretty() string { return c.ID() }

// Slot returns the slot the case is running in.
func (c *Case) Slot() int { return c.slot }

// Started returns when the case began running.
func (c *Case) Started() time.Time { return c.start }

// Duration is the wall time of a finished case.
func (c *Case) Duration() time.Duration {
	if c.end.IsZero() {
		return 0
	}
	return c.end.Sub(c.start)
}

// LogPath is the per-test log file, outdir/<id> with slashes flattened.
func (c *Case) LogPath() string {
	return filepath.Join(c.opts.OutDir, strings.ReplaceAll(c.ID(), "/", "_")+".txt")
}

// Tag renders the short result marker used on non-batch Last lines.
func (c *Case) Tag(code journal.Code) string {
	switch code {
	case journal.Passed:
		return "ok"
	case journal.Skipped:
		return "skip"
	case journal.Timeout:
		return "TIMEOUT"
	case journal.Interrupted:
		return "INTR"
	case journal.Warned:
		return "warn"
	default:
		return "FAIL"
	}
}

// argv builds the child command line: the configured interpreter for the
// file's extension, or a bare bash invocation.
func (c *Case) argv() []string {
	full := filepath.Join(c.opts.TestDir, c.Path)
	ext := strings.TrimPrefix(filepath.Ext(c.Path), ".")
	if script, ok := c.opts.Interpreters[ext]; ok {
		return []string{filepath.Join(c.opts.TestDir, script), full}
	}
	return []string{"bash", "-noprofile", "-norc", full}
}

// SpawnFatal reports whether a Run error means the runner itself must stop
// (resource exhaustion) rather than the one test failing. An unrunnable
// command (missing file, bad interpreter, unrecognised executable format)
// is the test's problem, the same way an exec failure inside a forked
// child would be.
func SpawnFatal(err error) bool {
	return !errors.Is(err, exec.ErrNotFound) &&
		!errors.Is(err, fs.ErrNotExist) &&
		!errors.Is(err, fs.ErrPermission) &&
		!errors.Is(err, syscall.ENOEXEC)
}

// Run spawns the child into slot and wires the hub. On return the case is
// running and must be driven by Finished until it reports true.
func (c *Case) Run(slot int) error {
	c.slot = slot
	argv := c.argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = c.opts.WorkDir
	cmd.Env = append(os.Environ(),
		"TEST_SLOT="+strconv.Itoa(slot),
		c.opts.FlavourVar+"="+c.Flavour)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	c.hub = output.NewHub()
	c.timeout = false
	c.buf = nil
	start := time.Now()

	var childEnd *os.File
	if c.opts.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("socketpair: %w", err)
		}
		childEnd = os.NewFile(uintptr(fds[1]), "child-sock")
		cmd.Stdout = childEnd
		cmd.Stderr = childEnd
		c.hub.AddSource(output.NewSockSource(fds[0]))
	}

	switch {
	case c.opts.Verbose || c.opts.Interactive:
		c.hub.AddSink(output.NewFdSink(os.Stdout, start))
	case c.opts.Batch:
		// progress lines only; per-test log still captures everything
	default:
		c.buf = output.NewBufSink(start)
		c.hub.AddSink(c.buf)
	}
	c.hub.AddSink(output.NewFileSink(c.LogPath(), start))
	for _, w := range c.opts.Watch {
		c.hub.AddSource(output.NewFileSource(w))
	}
	if c.opts.KMsg {
		c.hub.AddSource(output.NewKMsg())
	}
	// Open the watched files (seeked to their end) before the child starts,
	// so nothing the test writes to them is skipped.
	c.hub.Sync()

	err := cmd.Start()
	if childEnd != nil {
		_ = childEnd.Close()
	}
	if err != nil {
		c.hub.Close()
		return fmt.Errorf("spawn %s: %w", c.ID(), err)
	}

	c.cmd = cmd
	c.pid = cmd.Process.Pid
	sigplane.SetKillPid(c.pid)
	c.waitDone = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(c.waitDone)
	}()

	c.log.Debug("spawned test", "id", c.ID(), "pid", c.pid, "slot", slot,
		"cmd", shellescape.QuoteCommand(argv))

	if err := c.jr.Started(c.ID()); err != nil {
		c.log.Warn("journal write failed", "id", c.ID(), "err", err)
	}
	c.start, c.silentStart = start, start
	c.lastUpdate, c.lastHeartbeat = start, start

	if c.opts.Batch {
		fmt.Fprintf(c.prog.Stream(slot, progress.First), "%s ", c.Pretty())
	} else {
		fmt.Fprintf(c.prog.Stream(slot, progress.First), "### running: %s", c.Pretty())
	}
	return nil
}

// beat appends one '.' to the heartbeat file and makes it durable; external
// watchers use it to tell a hung suite from a dead VM.
func (c *Case) beat() {
	f, err := os.OpenFile(c.opts.Heartbeat, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	_, _ = f.WriteString(".")
	_ = f.Sync()
	_ = f.Close()
}

// monitor runs one tick and reports whether the child is still running.
func (c *Case) monitor(wait time.Duration) bool {
	now := time.Now()
	sigplane.Tick(now)

	if c.opts.Heartbeat != "" && now.Sub(c.lastHeartbeat) >= heartbeatEvery {
		c.beat()
		c.lastHeartbeat = now
	}

	select {
	case <-c.waitDone:
		c.hub.Sync()
		return false
	default:
	}

	if !c.opts.Interactive && now.Sub(c.silentStart) > c.opts.Timeout {
		c.killAfterTimeout()
		c.hub.Sync()
		return false
	}

	if !c.opts.Verbose && !c.opts.Interactive && !c.opts.Batch &&
		now.Sub(c.lastUpdate) >= pulseEvery {
		fmt.Fprintf(c.prog.Stream(c.slot, progress.Update), "### running: %s %s",
			c.Pretty(), output.Timefmt(now.Sub(c.start)))
		c.lastUpdate = now
	}

	if wait > 0 {
		select {
		case <-c.waitDone:
		case <-time.After(wait):
		}
	}

	if c.hub.Sync() {
		c.silentStart = time.Now()
	}
	return true
}

// killAfterTimeout escalates on inactivity: SIGINT to the child, a grace
// period, then a best-effort sysrq task dump and SIGKILL to the whole
// process group.
func (c *Case) killAfterTimeout() {
	c.log.Warn("inactivity timeout", "id", c.ID(), "pid", c.pid,
		"silent", time.Since(c.silentStart).Round(time.Second))
	_ = unix.Kill(c.pid, unix.SIGINT)
	select {
	case <-c.waitDone:
	case <-time.After(killGrace):
	}
	select {
	case <-c.waitDone:
	default:
		sysrqTaskDump()
		_ = unix.Kill(-c.pid, unix.SIGKILL)
		<-c.waitDone
	}
	c.timeout = true
}

// sysrqTaskDump asks the kernel for a task-state dump so a hung test leaves
// a trace in the kernel log.
func sysrqTaskDump() {
	f, err := os.OpenFile("/proc/sysrq-trigger", os.O_WRONLY, 0)
	if err != nil {
		return
	}
	_, _ = f.WriteString("t")
	_ = f.Close()
}

// Finished gives the case one monitor tick; when the child has ended it
// classifies the outcome, records it, prints the Last progress line, and
// releases the hub. True means the slot is free again.
func (c *Case) Finished(wait time.Duration) bool {
	if c.monitor(wait) {
		return false
	}
	c.end = time.Now()

	st := c.cmd.ProcessState
	var code journal.Code
	switch {
	case c.timeout:
		code = journal.Timeout
	case st == nil:
		code = journal.Failed
	case st.Exited():
		switch st.ExitCode() {
		case 0:
			code = journal.Passed
		case 200:
			// convention: scripts exit 200 to skip themselves
			code = journal.Skipped
		default:
			code = journal.Failed
		}
	default:
		code = journal.Failed
		if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			sig := ws.Signal()
			if (sig == syscall.SIGINT || sig == syscall.SIGTERM) && sigplane.Interrupted() {
				code = journal.Interrupted
			}
		}
	}

	if sigplane.Interrupted() {
		sigplane.ArmDecay(time.Second)
		if c.opts.Batch {
			sigplane.SetFatal()
		}
	}
	sigplane.ClearKillPid()

	c.hub.CloseSources()
	if c.buf != nil && (code == journal.Failed || code == journal.Timeout) {
		c.buf.Dump(os.Stdout)
	}
	if err := c.jr.Done(c.ID(), code); err != nil {
		c.log.Warn("journal write failed", "id", c.ID(), "err", err)
	}

	last := c.prog.Stream(c.slot, progress.Last)
	if c.opts.Batch {
		dots := 64 - len(c.Pretty()) - 1
		if dots < 1 {
			dots = 1
		}
		fmt.Fprintf(last, "%s %s\n", strings.Repeat(".", dots), code)
		if code == journal.Passed {
			fmt.Fprintf(last, "  %s\n", c.RusageLine())
		}
	} else {
		fmt.Fprintf(last, "%-8s %s\n", c.Tag(code), c.Pretty())
	}
	c.hub.ClearSinks()
	return true
}
