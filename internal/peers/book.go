// Package peers keeps the known-peer address book: bootstrap and
// discovered addresses with last-seen times, feeding the daemon's
// reconnect loop. Connection state itself lives in the transport.
package peers

import (
	"sort"
	"sync"
	"time"
)

type Entry struct {
	Addr     string
	Source   string // "bootstrap", "mdns", "history"
	LastSeen time.Time
}

type Book struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewBook() *Book {
	return &Book{entries: make(map[string]Entry)}
}

// Add records an address. Re-adding refreshes LastSeen but keeps the
// earliest source label.
func (b *Book) Add(addr, source string) {
	if addr == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[addr]; ok {
		e.LastSeen = time.Now()
		b.entries[addr] = e
		return
	}
	b.entries[addr] = Entry{Addr: addr, Source: source, LastSeen: time.Now()}
}

func (b *Book) Remove(addr string) {
	b.mu.Lock()
	delete(b.entries, addr)
	b.mu.Unlock()
}

// List returns entries sorted by address for stable iteration.
func (b *Book) List() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
