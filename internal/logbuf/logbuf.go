package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a fixed-capacity ring of log entries used for shutdown
// diagnostics. Safe for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	ring  []Entry
	next  int
	count int
}

// New creates a Buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{ring: make([]Entry, capacity)}
}

// Append records an entry, evicting the oldest when full.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.count < len(b.ring) {
		b.count++
	}
	b.mu.Unlock()
}

// Tail returns the most recent n entries in chronological order. n <= 0
// returns everything buffered.
func (b *Buffer) Tail(n int) []Entry {
	all := b.chronological()
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Since returns every buffered entry at or after t, chronological.
func (b *Buffer) Since(t time.Time) []Entry {
	var out []Entry
	for _, e := range b.chronological() {
		if !e.Time.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

func (b *Buffer) chronological() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, 0, b.count)
	start := 0
	if b.count == len(b.ring) {
		start = b.next
	}
	for i := 0; i < b.count; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}
