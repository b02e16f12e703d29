package dipot

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/rosechou/dipot/internal/history"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require bash on Unix-like systems")
	}
}

// memorySink collects exported events for assertions.
type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func TestFacadeRunAndReport(t *testing.T) {
	requireUnix(t)
	testdir, outdir := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(testdir, "a.sh"), []byte("exit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.TestDir = testdir
	opts.OutDir = outdir
	opts.Batch = true

	r, err := New(opts, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sink := &memorySink{}
	r.SetHistorySink(sink)

	if code := r.Run(); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if len(sink.events) != 2 {
		t.Fatalf("history saw %d events, want started+passed", len(sink.events))
	}
	if sink.events[1].Code != "passed" || sink.events[1].Flavour != "vanilla" {
		t.Fatalf("terminal event = %+v", sink.events[1])
	}

	var sb strings.Builder
	if err := Report(opts, &sb); err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(sb.String(), "1 tests: 1 passed") {
		t.Fatalf("report = %q", sb.String())
	}
}

func TestFacadeRejectsBadOptions(t *testing.T) {
	if _, err := New(Options{}, nil); err == nil {
		t.Fatalf("missing testdir must be rejected")
	}
}

func TestStatusHandlerServes(t *testing.T) {
	requireUnix(t)
	testdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(testdir, "a.sh"), []byte("exit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	opts.TestDir = testdir
	opts.OutDir = t.TempDir()
	opts.Batch = true

	r, err := New(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.StatusHandler("/api") == nil {
		t.Fatalf("nil status handler")
	}
}
