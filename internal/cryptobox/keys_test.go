package cryptobox

import (
	"bytes"
	"testing"
)

func TestKeyPairHexRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	pub, err := ParsePublicKeyHex(kp.PublicHex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(pub[:], kp.Public[:]) {
		t.Fatalf("hex round trip mismatch")
	}
}

func TestParsePublicKeyHexRejects(t *testing.T) {
	if _, err := ParsePublicKeyHex("zz"); err == nil {
		t.Fatalf("expected error for bad hex")
	}
	if _, err := ParsePublicKeyHex("0011"); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestSaveLoadKeyPair(t *testing.T) {
	dir := t.TempDir()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	if err := SaveKeyPair(dir, kp); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadKeyPair(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(got.Public[:], kp.Public[:]) || !bytes.Equal(got.Secret[:], kp.Secret[:]) {
		t.Fatalf("loaded keypair differs")
	}
}

func TestEnsureKeyPairStable(t *testing.T) {
	dir := t.TempDir()
	first, err := EnsureKeyPair(dir)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := EnsureKeyPair(dir)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.PublicHex() != second.PublicHex() {
		t.Fatalf("identity changed across restarts")
	}
}
