package progress

import (
	"bytes"
	"io"
	"os"

	"golang.org/x/term"
)

// Phase selects what kind of progress write is about to happen for a slot.
type Phase int

const (
	// First starts a slot's line.
	First Phase = iota
	// Update overwrites the slot's current line in place.
	Update
	// Last writes the slot's final result.
	Last
)

// Printer routes progress output so that parallel slots never interleave
// mid-line. Slot 0 streams to stdout directly; higher slots accumulate in
// per-slot backlogs from which only completed lines are promoted. On an
// interactive terminal Update lines redraw in place with '\r'.
type Printer struct {
	out         io.Writer
	interactive bool
	batch       bool
	backlog     []bytes.Buffer
}

// IsTerminal is swappable for tests.
var IsTerminal = func(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }

func New(jobs int, batch bool, out *os.File) *Printer {
	if jobs < 1 {
		jobs = 1
	}
	return &Printer{
		out:         out,
		interactive: !batch && IsTerminal(out),
		batch:       batch,
		backlog:     make([]bytes.Buffer, jobs),
	}
}

type prefixed struct {
	w   io.Writer
	pre string
}

func (p prefixed) Write(b []byte) (int, error) {
	if _, err := io.WriteString(p.w, p.pre); err != nil {
		return 0, err
	}
	return p.w.Write(b)
}

// Stream returns the writer a slot must use for the given phase.
func (p *Printer) Stream(slot int, phase Phase) io.Writer {
	if p.interactive {
		if phase == First {
			return p.out
		}
		return prefixed{p.out, "\r"}
	}
	if !p.batch && phase != Last {
		return io.Discard
	}
	if slot == 0 {
		return p.out
	}
	if slot >= len(p.backlog) {
		return io.Discard
	}
	return &p.backlog[slot]
}

// Flush promotes every completed backlog line to stdout and keeps each
// slot's partial tail for later.
func (p *Printer) Flush() {
	for i := range p.backlog {
		b := p.backlog[i].Bytes()
		cut := bytes.LastIndexByte(b, '\n')
		if cut < 0 {
			continue
		}
		_, _ = p.out.Write(b[:cut+1])
		rest := append([]byte(nil), b[cut+1:]...)
		p.backlog[i].Reset()
		p.backlog[i].Write(rest)
	}
}
