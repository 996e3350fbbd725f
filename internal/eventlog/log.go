// Package eventlog keeps a bounded ring of the most recently relayed
// events, used to answer catch-up requests from peers that just connected.
package eventlog

import (
	"sync"

	"meshchat/internal/proto"
)

const DefaultCapacity = 4096

type entry struct {
	seq uint64
	ev  proto.Event
}

// Log is a fixed-capacity ring buffer. Appends assign a monotonically
// increasing cursor; the cursor of the newest entry is the catch-up cursor
// a peer presents on reconnect. Oldest entries are overwritten first.
type Log struct {
	mu   sync.Mutex
	buf  []entry
	head int // next write position
	size int
	next uint64 // cursor assigned to the next append (first is 1)
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]entry, capacity), next: 1}
}

// Append records an accepted (post-dedup) event and returns its cursor.
func (l *Log) Append(ev proto.Event) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := l.next
	l.next++
	l.buf[l.head] = entry{seq: seq, ev: ev}
	l.head = (l.head + 1) % len(l.buf)
	if l.size < len(l.buf) {
		l.size++
	}
	return seq
}

// Cursor returns the cursor of the newest retained event, 0 when empty.
func (l *Log) Cursor() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next - 1
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// SnapshotSince returns all retained events with cursor greater than the
// given one, in append order. The gap flag reports that the cursor
// predates the oldest retained event because of ring overwrite; in that
// case the full current buffer is returned and the caller knows events may
// have been lost. Lost events are never fabricated.
func (l *Log) SnapshotSince(cursor uint64) ([]proto.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size == 0 {
		return nil, false
	}
	oldestIdx := (l.head - l.size + len(l.buf)) % len(l.buf)
	oldestSeq := l.buf[oldestIdx].seq
	gap := cursor+1 < oldestSeq
	out := make([]proto.Event, 0, l.size)
	for i := 0; i < l.size; i++ {
		e := l.buf[(oldestIdx+i)%len(l.buf)]
		if e.seq > cursor {
			out = append(out, e.ev)
		}
	}
	return out, gap
}
