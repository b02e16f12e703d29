package output

import (
	"strings"
	"testing"
	"time"

	"github.com/rosechou/dipot/internal/buffer"
)

func line(when time.Time, text string) buffer.Line {
	return buffer.Line{When: when, Text: []byte(text)}
}

func TestFormatPrefix(t *testing.T) {
	start := time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC)
	f := NewFormatter(start)

	s, ok := f.Format(line(start, "hi\n"), false)
	if !ok || s != "[ 0:00] hi\n" {
		t.Fatalf("formatted %q, ok=%v", s, ok)
	}
	s, _ = f.Format(line(start.Add(75*time.Second), "later\n"), false)
	if s != "[ 1:15] later\n" {
		t.Fatalf("formatted %q", s)
	}
}

func TestFormatSuppressContinuation(t *testing.T) {
	start := time.Now()
	f := NewFormatter(start)
	s, _ := f.Format(line(start, "rest of line\n"), true)
	if s != "rest of line\n" {
		t.Fatalf("suppressed line = %q", s)
	}
}

func TestFormatRestampsCarriageReturn(t *testing.T) {
	start := time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC)
	f := NewFormatter(start)
	s, _ := f.Format(line(start.Add(time.Second), "a\rb\n"), true)
	if s != "a\r[ 0:01] b\n" {
		t.Fatalf("cr restamp = %q", s)
	}
}

func TestSubstitutorDirectiveConsumed(t *testing.T) {
	start := time.Now()
	f := NewFormatter(start)

	if _, ok := f.Format(line(start, "@TESTDIR=/tmp/x\n"), false); ok {
		t.Fatalf("directive line must be consumed")
	}
	s, ok := f.Format(line(start, "hello @TESTDIR@\n"), false)
	if !ok || !strings.HasSuffix(s, "hello /tmp/x\n") {
		t.Fatalf("expanded = %q, ok=%v", s, ok)
	}
}

func TestSubstitutorPrefixKey(t *testing.T) {
	s := NewSubstitutor()
	if !s.Consume("@PREFIX=/usr/local\n") {
		t.Fatalf("prefix directive not consumed")
	}
	if got := s.Expand("bin is @PREFIX@/bin\n"); got != "bin is /usr/local/bin\n" {
		t.Fatalf("expanded = %q", got)
	}
}

func TestSubstitutorRepeatedLeftmost(t *testing.T) {
	s := NewSubstitutor()
	s.Consume("@TESTDIR=/d\n")
	if got := s.Expand("@TESTDIR@ and @TESTDIR@\n"); got != "/d and /d\n" {
		t.Fatalf("expanded = %q", got)
	}
}

func TestTimefmt(t *testing.T) {
	if got := Timefmt(0); got != " 0:00" {
		t.Fatalf("Timefmt(0) = %q", got)
	}
	if got := Timefmt(605 * time.Second); got != "10:05" {
		t.Fatalf("Timefmt(605s) = %q", got)
	}
}
