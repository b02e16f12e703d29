package output

import (
	"io"
	"os"
	"time"

	"github.com/rosechou/dipot/internal/buffer"
)

// Sink consumes the combined output of one test. Push hands it raw bytes;
// Outline emits at most one complete line (force also flushes the partial
// tail); Sync flushes whatever is ready; Close releases resources after a
// final forced flush.
type Sink interface {
	Push(p []byte)
	Outline(force bool) bool
	Sync()
	Close()
}

// Observer is the hub's default no-op consumer, so fan-out never has an
// empty target list.
type Observer struct{}

func (Observer) Push([]byte)       {}
func (Observer) Outline(bool) bool { return false }
func (Observer) Sync()             {}
func (Observer) Close()            {}

// BufSink retains the whole run in memory so that a failed test's output
// can be replayed after the fact.
type BufSink struct {
	buf buffer.TimedBuffer
	fmt *Formatter
}

func NewBufSink(start time.Time) *BufSink {
	return &BufSink{fmt: NewFormatter(start)}
}

func (b *BufSink) Push(p []byte)     { b.buf.Push(p) }
func (b *BufSink) Outline(bool) bool { return false }
func (b *BufSink) Sync()             {}
func (b *BufSink) Close()            {}

// Dump drains the retained output into w, each line prefixed "| ".
func (b *BufSink) Dump(w io.Writer) {
	for {
		l, ok := b.buf.Shift(true)
		if !ok {
			return
		}
		s, ok := b.fmt.Format(l, false)
		if !ok {
			continue
		}
		_, _ = io.WriteString(w, "| "+s)
	}
}

// FdSink formats buffered lines onto an open file. It tracks whether the
// last byte written ended a line, so a forced partial flush followed by the
// line's remainder does not get a second stamp.
type FdSink struct {
	f       *os.File
	buf     buffer.TimedBuffer
	fmt     *Formatter
	midline bool
}

func NewFdSink(f *os.File, start time.Time) *FdSink {
	return &FdSink{f: f, fmt: NewFormatter(start)}
}

func (s *FdSink) Push(p []byte) { s.buf.Push(p) }

func (s *FdSink) Outline(force bool) bool {
	l, ok := s.buf.Shift(force)
	if !ok {
		return false
	}
	text, emit := s.fmt.Format(l, s.midline)
	if !emit {
		return true
	}
	if _, err := s.f.WriteString(text); err != nil {
		return false
	}
	s.midline = len(text) > 0 && text[len(text)-1] != '\n'
	return true
}

func (s *FdSink) Sync() {
	for s.Outline(false) {
	}
}

func (s *FdSink) Close() {
	for s.Outline(true) {
	}
}

// FileSink is an FdSink that lazily creates its file the first time it has
// a line to write (a complete line on Sync, or the partial tail on Close);
// a test that produces no output leaves no file. An open failure kills the
// sink: further pushes are dropped and the test is unaffected.
type FileSink struct {
	FdSink
	path   string
	killed bool
}

func NewFileSink(path string, start time.Time) *FileSink {
	s := &FileSink{path: path}
	s.fmt = NewFormatter(start)
	return s
}

func (s *FileSink) Push(p []byte) {
	if s.killed {
		return
	}
	s.buf.Push(p)
}

func (s *FileSink) open() bool {
	if s.f != nil {
		return true
	}
	if s.killed {
		return false
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		s.killed = true
		return false
	}
	s.f = f
	return true
}

func (s *FileSink) Outline(force bool) bool {
	if s.buf.Empty(force) || !s.open() {
		return false
	}
	return s.FdSink.Outline(force)
}

func (s *FileSink) Sync() {
	for s.Outline(false) {
	}
}

func (s *FileSink) Close() {
	for s.Outline(true) {
	}
	if s.f != nil {
		_ = s.f.Sync()
		_ = s.f.Close()
		s.f = nil
	}
}
