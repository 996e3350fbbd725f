// Package channel tracks the channels this node has joined and, per
// channel, the optional shared symmetric key for channel-scoped encryption.
package channel

import (
	"sync"

	"meshchat/internal/cryptobox"
)

// Registry maps channel name to an optional shared key. A nil key means
// the channel relays plaintext. Joins and parts are rare relative to event
// volume, so reads take the read lock.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*[cryptobox.KeySize]byte
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*[cryptobox.KeySize]byte)}
}

// Join is idempotent: joining an already-joined channel overwrites its key,
// which is how a channel's shared key is rotated.
func (r *Registry) Join(name string, key *[cryptobox.KeySize]byte) {
	if name == "" {
		return
	}
	var cp *[cryptobox.KeySize]byte
	if key != nil {
		cp = new([cryptobox.KeySize]byte)
		*cp = *key
	}
	r.mu.Lock()
	r.channels[name] = cp
	r.mu.Unlock()
}

// Part removes the channel. Parting an unjoined channel is a no-op.
func (r *Registry) Part(name string) {
	r.mu.Lock()
	delete(r.channels, name)
	r.mu.Unlock()
}

func (r *Registry) IsJoined(name string) bool {
	r.mu.RLock()
	_, ok := r.channels[name]
	r.mu.RUnlock()
	return ok
}

// KeyFor returns the channel's shared key (nil for plaintext channels) and
// whether the channel is joined at all.
func (r *Registry) KeyFor(name string) (*[cryptobox.KeySize]byte, bool) {
	r.mu.RLock()
	key, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if key == nil {
		return nil, true
	}
	cp := new([cryptobox.KeySize]byte)
	*cp = *key
	return cp, true
}

// List returns the joined channel names in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	return out
}
