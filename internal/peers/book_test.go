package peers

import "testing"

func TestAddAndList(t *testing.T) {
	b := NewBook()
	b.Add("192.0.2.2:6465", "mdns")
	b.Add("192.0.2.1:6465", "bootstrap")
	got := b.List()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Addr != "192.0.2.1:6465" || got[1].Addr != "192.0.2.2:6465" {
		t.Fatalf("list not sorted by addr: %+v", got)
	}
}

func TestAddKeepsFirstSource(t *testing.T) {
	b := NewBook()
	b.Add("192.0.2.1:6465", "bootstrap")
	first := b.List()[0].LastSeen
	b.Add("192.0.2.1:6465", "mdns")
	got := b.List()[0]
	if got.Source != "bootstrap" {
		t.Fatalf("source rewritten to %q", got.Source)
	}
	if got.LastSeen.Before(first) {
		t.Fatalf("last seen not refreshed")
	}
	if b.Len() != 1 {
		t.Fatalf("duplicate address created a second entry")
	}
}

func TestRemove(t *testing.T) {
	b := NewBook()
	b.Add("192.0.2.1:6465", "bootstrap")
	b.Remove("192.0.2.1:6465")
	if b.Len() != 0 {
		t.Fatalf("remove left the entry")
	}
	b.Remove("192.0.2.1:6465")
}
