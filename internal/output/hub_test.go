package output

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require socketpair on Unix-like systems")
	}
}

// memSink collects raw pushes for assertions.
type memSink struct {
	bytes.Buffer
	synced int
}

func (m *memSink) Push(p []byte)     { m.Buffer.Write(p) }
func (m *memSink) Outline(bool) bool { return false }
func (m *memSink) Sync()             { m.synced++ }
func (m *memSink) Close()            {}

func TestHubFansOutToEverySink(t *testing.T) {
	h := NewHub()
	a, b := &memSink{}, &memSink{}
	h.AddSink(a)
	h.AddSink(b)
	h.Push([]byte("data"))
	if a.String() != "data" || b.String() != "data" {
		t.Fatalf("fanout a=%q b=%q", a.String(), b.String())
	}
}

func TestSockSourceDrains(t *testing.T) {
	requireUnix(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	src := NewSockSource(fds[0])
	defer src.Close()

	h := NewHub()
	m := &memSink{}
	h.AddSink(m)
	h.AddSource(src)

	if h.Sync() {
		t.Fatalf("idle socket reported activity")
	}
	if _, err := unix.Write(fds[1], []byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for !h.Sync() {
		if time.Now().After(deadline) {
			t.Fatalf("no activity seen after write")
		}
	}
	if m.String() != "hello\n" {
		t.Fatalf("sink got %q", m.String())
	}
	_ = unix.Close(fds[1])
}

func TestFileSourceReadsOnlyNewData(t *testing.T) {
	requireUnix(t)
	path := filepath.Join(t.TempDir(), "watched.log")
	if err := os.WriteFile(path, []byte("stale\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewFileSource(path)
	defer src.Close()
	m := &memSink{}

	if src.Sync(m) {
		t.Fatalf("first sync must see nothing (seeked to end)")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("fresh\n")
	_ = f.Close()

	if !src.Sync(m) {
		t.Fatalf("appended data not seen")
	}
	if m.String() != "fresh\n" {
		t.Fatalf("watched data = %q, want only the fresh part", m.String())
	}
}

func TestHubCloseSourcesKeepsSinks(t *testing.T) {
	requireUnix(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[1])

	h := NewHub()
	m := &memSink{}
	h.AddSink(m)
	h.AddSource(NewSockSource(fds[0]))

	h.CloseSources()
	h.Push([]byte("still works"))
	if m.String() != "still works" {
		t.Fatalf("sinks must survive CloseSources")
	}
	h.ClearSinks()
}
