package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileSinkWritesFormattedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case.txt")
	s := NewFileSink(path, time.Now())

	s.Push([]byte("hi\n"))
	s.Sync()
	s.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := string(b); got != "[ 0:00] hi\n" {
		t.Fatalf("log content = %q", got)
	}
}

func TestFileSinkLazyOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lazy.txt")
	s := NewFileSink(path, time.Now())
	s.Push([]byte("x"))

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file must not exist before first sync")
	}
	s.Sync() // partial line: still nothing to write, but open is allowed to wait too
	s.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file missing after close: %v", err)
	}
}

func TestFileSinkTruncatesOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.txt")
	if err := os.WriteFile(path, []byte("old attempt\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileSink(path, time.Now())
	s.Push([]byte("new\n"))
	s.Sync()
	s.Close()
	b, _ := os.ReadFile(path)
	if strings.Contains(string(b), "old attempt") {
		t.Fatalf("previous attempt's log not truncated: %q", b)
	}
}

func TestFileSinkKilledOnOpenFailure(t *testing.T) {
	s := NewFileSink(filepath.Join(t.TempDir(), "no", "such", "dir", "x.txt"), time.Now())
	s.Push([]byte("dropped\n"))
	s.Sync() // open fails, sink is killed
	s.Push([]byte("also dropped\n"))
	s.Sync()
	s.Close()
	if !s.killed {
		t.Fatalf("sink should be killed after open failure")
	}
}

func TestBufSinkDumpPrefix(t *testing.T) {
	b := NewBufSink(time.Now())
	b.Push([]byte("one\ntwo"))
	var out bytes.Buffer
	b.Dump(&out)
	got := out.String()
	if !strings.HasPrefix(got, "| [ 0:00] one\n") {
		t.Fatalf("dump = %q", got)
	}
	if !strings.Contains(got, "| [ 0:00] two") {
		t.Fatalf("forced tail missing from dump: %q", got)
	}
}

func TestFdSinkSuppressesStampMidline(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "fd.txt"))
	if err != nil {
		t.Fatal(err)
	}
	s := NewFdSink(f, time.Now())

	s.Push([]byte("partial"))
	if !s.Outline(true) {
		t.Fatalf("forced outline should emit the tail")
	}
	s.Push([]byte(" rest\n"))
	s.Sync()
	s.Close()
	_ = f.Close()

	b, _ := os.ReadFile(f.Name())
	if got := string(b); got != "[ 0:00] partial rest\n" {
		t.Fatalf("midline continuation got a second stamp: %q", got)
	}
}

func TestObserverIsInert(t *testing.T) {
	var o Observer
	o.Push([]byte("x"))
	if o.Outline(true) {
		t.Fatalf("observer never emits")
	}
	o.Sync()
	o.Close()
}
