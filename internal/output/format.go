package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/rosechou/dipot/internal/buffer"
)

// Substitutor rewrites output lines using a key/value map fed by in-band
// directive lines. A directive is a line beginning "@NAME=value" for one of
// the recognized names; it updates the map and is consumed (not emitted).
// All other lines have every known key replaced by its current value,
// leftmost occurrence first, until no key remains. Key expansions must not
// contain other keys.
type Substitutor struct {
	keys []string
	vals map[string]string
}

// directives maps the in-band line prefix to the substitution key it sets.
var directives = map[string]string{
	"@TESTDIR=": "@TESTDIR@",
	"@PREFIX=":  "@PREFIX@",
}

func NewSubstitutor() *Substitutor {
	return &Substitutor{vals: make(map[string]string)}
}

// Consume handles a directive line. It returns true when the line was a
// directive and must not be emitted.
func (s *Substitutor) Consume(line string) bool {
	for prefix, key := range directives {
		if strings.HasPrefix(line, prefix) {
			val := strings.TrimSuffix(strings.TrimPrefix(line, prefix), "\n")
			val = strings.TrimSuffix(val, "\r")
			if _, ok := s.vals[key]; !ok {
				s.keys = append(s.keys, key)
			}
			s.vals[key] = val
			return true
		}
	}
	return false
}

// Expand replaces known keys in line until none occurs.
func (s *Substitutor) Expand(line string) string {
	for {
		best := -1
		var bestKey string
		for _, k := range s.keys {
			if i := strings.Index(line, k); i >= 0 && (best < 0 || i < best) {
				best, bestKey = i, k
			}
		}
		if best < 0 {
			return line
		}
		line = line[:best] + s.vals[bestKey] + line[best+len(bestKey):]
	}
}

// Formatter stamps each line with "[mm:ss] " relative to the test start and
// runs it through the Substitutor.
type Formatter struct {
	Start time.Time
	Subst *Substitutor
}

func NewFormatter(start time.Time) *Formatter {
	return &Formatter{Start: start, Subst: NewSubstitutor()}
}

func (f *Formatter) prefix(when time.Time) string {
	d := when.Sub(f.Start)
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("[%s] ", Timefmt(d))
}

// Format renders one buffered line. With suppress set (continuation of a
// partial line) the leading stamp is omitted. Any '\r' inside the line is
// re-stamped so terminal progress bars redraw with a current prefix. The
// second return is false when the line was a directive and must be dropped.
func (f *Formatter) Format(l buffer.Line, suppress bool) (string, bool) {
	text := string(l.Text)
	if f.Subst.Consume(text) {
		return "", false
	}
	text = f.Subst.Expand(text)
	p := f.prefix(l.When)
	text = strings.ReplaceAll(text, "\r", "\r"+p)
	if suppress {
		return text, true
	}
	return p + text, true
}

// Timefmt renders a duration as mm:ss with a space-padded minute field.
func Timefmt(d time.Duration) string {
	s := int(d.Seconds())
	return fmt.Sprintf("%2d:%02d", s/60, s%60)
}
