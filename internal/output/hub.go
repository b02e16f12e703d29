package output

// Hub fans every Source into every Sink. A TestCase owns exactly one Hub
// for the duration of its run; an Observer is installed up front so Push
// always has a consumer.
type Hub struct {
	sinks   []Sink
	sources []Source
}

func NewHub() *Hub {
	return &Hub{sinks: []Sink{Observer{}}}
}

func (h *Hub) AddSink(s Sink)     { h.sinks = append(h.sinks, s) }
func (h *Hub) AddSource(s Source) { h.sources = append(h.sources, s) }

// Push fans raw bytes out to every sink.
func (h *Hub) Push(p []byte) {
	for _, s := range h.sinks {
		s.Push(p)
	}
}

// Sync drains every source into every sink, then gives each sink a chance
// to flush complete lines. The return value reports whether any source
// delivered bytes; the monitor loop's inactivity clock keys off it.
func (h *Hub) Sync() bool {
	active := false
	for _, s := range h.sources {
		if s.Sync(h) {
			active = true
		}
	}
	for _, s := range h.sinks {
		s.Sync()
	}
	return active
}

// CloseSources closes and drops the sources only; sinks may still flush.
func (h *Hub) CloseSources() {
	for _, s := range h.sources {
		s.Close()
	}
	h.sources = nil
}

// ClearSinks closes and drops the sinks.
func (h *Hub) ClearSinks() {
	for _, s := range h.sinks {
		s.Close()
	}
	h.sinks = nil
}

func (h *Hub) Close() {
	h.CloseSources()
	h.ClearSinks()
}
