package sigplane

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Process-wide signal state. The handler goroutine raises the flags; the
// supervisor and monitor loops read them, arm and apply the interrupt
// decay, and may force the fatal flag. Atomics, not a lock: the
// readers poll every tick and must never block on a handler.
var (
	killPid       atomic.Int64
	interruptFlag atomic.Bool
	decayAt       atomic.Int64 // unix nanos; 0 = no decay armed
	fatalFlag     atomic.Bool
	installed     atomic.Bool
)

// forwarded is the set of signals that are relayed once to the running
// child's process group before the runner reacts itself.
var forwarded = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGQUIT,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
}

// Install registers the process-wide handlers. A first SIGINT marks the run
// interrupted and is forwarded to the current child's process group; a
// second SIGINT while the flag is still set is fatal. Other fatal signals
// forward once, set the fatal flag, and re-arm the default disposition so
// the next delivery kills the runner.
func Install() {
	if !installed.CompareAndSwap(false, true) {
		return
	}
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, forwarded...)
	go func() {
		for sig := range ch {
			Forward(sig)
			if sig == syscall.SIGINT {
				if interruptFlag.Load() {
					fatalFlag.Store(true)
					continue
				}
				interruptFlag.Store(true)
				decayAt.Store(0)
				continue
			}
			fatalFlag.Store(true)
			signal.Reset(sig.(syscall.Signal))
		}
	}()
}

// Forward relays sig to the current child's process group, if any.
func Forward(sig os.Signal) {
	pid := killPid.Load()
	if pid <= 0 {
		return
	}
	if s, ok := sig.(syscall.Signal); ok {
		_ = unix.Kill(-int(pid), s)
	}
}

// SetKillPid nominates the process group that receives forwarded signals.
func SetKillPid(pid int) { killPid.Store(int64(pid)) }

// ClearKillPid detaches signal forwarding when no child is running.
func ClearKillPid() { killPid.Store(0) }

// Interrupted reports whether a SIGINT is pending interpretation.
func Interrupted() bool { return interruptFlag.Load() }

// ArmDecay schedules the interrupt flag to clear after d; until then a
// second SIGINT is treated as fatal.
func ArmDecay(d time.Duration) {
	decayAt.Store(time.Now().Add(d).UnixNano())
}

// Tick ages the interrupt flag; call once per monitor/supervisor tick.
func Tick(now time.Time) {
	at := decayAt.Load()
	if at != 0 && now.UnixNano() >= at {
		decayAt.Store(0)
		interruptFlag.Store(false)
	}
}

// Fatal reports whether the runner must stop.
func Fatal() bool { return fatalFlag.Load() }

// SetFatal forces the fatal flag (batch mode treats an interrupt as fatal).
func SetFatal() { fatalFlag.Store(true) }

// ResetForTest clears all flags. Test helper only.
func ResetForTest() {
	killPid.Store(0)
	interruptFlag.Store(false)
	decayAt.Store(0)
	fatalFlag.Store(false)
}
