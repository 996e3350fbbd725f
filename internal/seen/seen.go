// Package seen holds the dedup window: a fixed-capacity set of event
// identifiers already processed, used to suppress duplicate relay.
package seen

import (
	"container/list"
	"sync"

	"meshchat/internal/proto"
)

const DefaultCapacity = 65536

// Cache is a capacity-bounded seen-ID set. Eviction is strict FIFO by
// insertion order: this is a flood-suppression window, not a general
// cache, so lookups never refresh an entry's position. Once an ID is
// evicted a late duplicate is treated as new; that is the accepted
// bandwidth/memory tradeoff.
type Cache struct {
	mu      sync.Mutex
	cap     int
	entries map[proto.ID]struct{}
	order   *list.List
}

func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		cap:     capacity,
		entries: make(map[proto.ID]struct{}, capacity),
		order:   list.New(),
	}
}

// ContainsAndRecord atomically checks membership and, if absent, inserts.
// Returns true if the id was already present. The single mutex makes the
// check-and-insert one operation, so two concurrent copies of the same
// event cannot both observe "absent".
func (c *Cache) ContainsAndRecord(id proto.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; ok {
		return true
	}
	c.entries[id] = struct{}{}
	c.order.PushBack(id)
	for len(c.entries) > c.cap {
		front := c.order.Front()
		if front == nil {
			break
		}
		delete(c.entries, front.Value.(proto.ID))
		c.order.Remove(front)
	}
	return false
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
