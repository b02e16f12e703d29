package journal

// Code is the recorded outcome of one test. STARTED and INTERRUPTED are the
// two non-terminal codes; everything else marks a test done. UNKNOWN exists
// only as the parse fallback.
type Code int

const (
	Started Code = iota
	Retried
	Unknown
	Failed
	Interrupted
	KnownFail
	Passed
	Skipped
	Timeout
	Warned
)

// words is the emit table. KNOWNFAIL has no stable word of its own and
// degrades to "unknown" on disk.
var words = map[Code]string{
	Started:     "started",
	Retried:     "retried",
	Unknown:     "unknown",
	Failed:      "failed",
	Interrupted: "interrupted",
	KnownFail:   "unknown",
	Passed:      "passed",
	Skipped:     "skipped",
	Timeout:     "timeout",
	Warned:      "warnings",
}

var codes = map[string]Code{
	"started":     Started,
	"retried":     Retried,
	"failed":      Failed,
	"interrupted": Interrupted,
	"passed":      Passed,
	"skipped":     Skipped,
	"timeout":     Timeout,
	"warnings":    Warned,
	"unknown":     Unknown,
}

func (c Code) String() string {
	if w, ok := words[c]; ok {
		return w
	}
	return "unknown"
}

// Parse maps a journal word to its code; unrecognized words become UNKNOWN.
func Parse(word string) Code {
	if c, ok := codes[word]; ok {
		return c
	}
	return Unknown
}

// Terminal reports whether the code marks a test done. A STARTED or
// INTERRUPTED test must run again on resume.
func (c Code) Terminal() bool {
	return c != Started && c != Interrupted
}
