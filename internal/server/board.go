package server

import (
	"sync"
	"time"
)

// Board is the supervisor's shared view of the running suite. The
// supervisor loop is single-threaded; the lock exists only because HTTP
// handlers read while it writes.
type Board struct {
	mu      sync.RWMutex
	started time.Time
	running map[int]string    // slot -> id
	results map[string]string // id -> journal word
}

func NewBoard() *Board {
	return &Board{
		started: time.Now(),
		running: make(map[int]string),
		results: make(map[string]string),
	}
}

func (b *Board) SetRunning(slot int, id string) {
	b.mu.Lock()
	b.running[slot] = id
	b.mu.Unlock()
}

func (b *Board) ClearSlot(slot int) {
	b.mu.Lock()
	delete(b.running, slot)
	b.mu.Unlock()
}

// Record mirrors one journal status change.
func (b *Board) Record(id, word string) {
	b.mu.Lock()
	b.results[id] = word
	b.mu.Unlock()
}

// Status is the /status payload.
type Status struct {
	UptimeSec int64          `json:"uptime_sec"`
	Running   map[int]string `json:"running"`
	Counts    map[string]int `json:"counts"`
}

func (b *Board) Snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Status{
		UptimeSec: int64(time.Since(b.started).Seconds()),
		Running:   make(map[int]string, len(b.running)),
		Counts:    make(map[string]int),
	}
	for k, v := range b.running {
		st.Running[k] = v
	}
	for _, w := range b.results {
		st.Counts[w]++
	}
	return st
}

// Journal returns a copy of every recorded id -> word pair.
func (b *Board) Journal() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.results))
	for k, v := range b.results {
		out[k] = v
	}
	return out
}
