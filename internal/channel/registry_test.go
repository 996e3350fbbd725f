package channel

import (
	"testing"

	"meshchat/internal/cryptobox"
)

func TestJoinPart(t *testing.T) {
	r := NewRegistry()
	r.Join("#dev", nil)
	if !r.IsJoined("#dev") {
		t.Fatalf("join did not register")
	}
	key, joined := r.KeyFor("#dev")
	if !joined || key != nil {
		t.Fatalf("plaintext channel must report joined with nil key")
	}
	r.Part("#dev")
	if r.IsJoined("#dev") {
		t.Fatalf("part did not remove")
	}
	// Parting again is a no-op.
	r.Part("#dev")
}

func TestJoinRotatesKey(t *testing.T) {
	r := NewRegistry()
	k1 := new([cryptobox.KeySize]byte)
	k1[0] = 1
	k2 := new([cryptobox.KeySize]byte)
	k2[0] = 2
	r.Join("#dev", k1)
	r.Join("#dev", k2)
	got, joined := r.KeyFor("#dev")
	if !joined || got == nil || got[0] != 2 {
		t.Fatalf("rejoin did not rotate the key")
	}
}

func TestKeyForCopies(t *testing.T) {
	r := NewRegistry()
	k := new([cryptobox.KeySize]byte)
	k[0] = 9
	r.Join("#dev", k)
	got, _ := r.KeyFor("#dev")
	got[0] = 0
	again, _ := r.KeyFor("#dev")
	if again[0] != 9 {
		t.Fatalf("caller mutation leaked into the registry")
	}
}

func TestUnjoinedChannel(t *testing.T) {
	r := NewRegistry()
	if _, joined := r.KeyFor("#ops"); joined {
		t.Fatalf("unjoined channel reported joined")
	}
}

func TestEmptyNameIgnored(t *testing.T) {
	r := NewRegistry()
	r.Join("", nil)
	if len(r.List()) != 0 {
		t.Fatalf("empty name must not register")
	}
}
