package cryptobox

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealedBoxRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	plaintext := []byte("meet at dawn")
	sealed, err := Seal(kp.Public, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(sealed) != len(plaintext)+SealedOverhead {
		t.Fatalf("sealed size = %d, want %d", len(sealed), len(plaintext)+SealedOverhead)
	}
	got, err := Open(kp.Public, kp.Secret, sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch")
	}
}

func TestSealedBoxWrongKey(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	sealed, err := Seal(alice.Public, []byte("for alice"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(bob.Public, bob.Secret, sealed); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestSealedBoxTamperAndTruncate(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	sealed, err := Seal(kp.Public, []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := Open(kp.Public, kp.Secret, tampered); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for tampered box, got %v", err)
	}
	if _, err := Open(kp.Public, kp.Secret, sealed[:SealedOverhead-1]); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for truncated box, got %v", err)
	}
}

func TestSealEphemeralKeys(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("gen keypair: %v", err)
	}
	a, err := Seal(kp.Public, []byte("same text"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	b, err := Seal(kp.Public, []byte("same text"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two seals of the same text produced identical ciphertext")
	}
}

func channelKey(b byte) *[KeySize]byte {
	k := new([KeySize]byte)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestChannelRoundTrip(t *testing.T) {
	key := channelKey(7)
	nonce := []byte("0123456789abcdef")
	ct, err := SealChannel(key, nonce, []byte("hello channel"), "#dev")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := OpenChannel(key, nonce, ct, "#dev")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, []byte("hello channel")) {
		t.Fatalf("plaintext mismatch")
	}
}

func TestChannelWrongKey(t *testing.T) {
	nonce := []byte("0123456789abcdef")
	ct, err := SealChannel(channelKey(1), nonce, []byte("secret"), "#dev")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenChannel(channelKey(2), nonce, ct, "#dev"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestChannelNameBoundAsAAD(t *testing.T) {
	key := channelKey(3)
	nonce := []byte("0123456789abcdef")
	ct, err := SealChannel(key, nonce, []byte("secret"), "#dev")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenChannel(key, nonce, ct, "#ops"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("ciphertext replayed into another channel must fail")
	}
}

func TestChannelNonceDerivation(t *testing.T) {
	a := ChannelNonce([]byte("nonce-a"))
	b := ChannelNonce([]byte("nonce-b"))
	if len(a) != XNonceSize {
		t.Fatalf("nonce size = %d, want %d", len(a), XNonceSize)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("distinct event nonces derived the same aead nonce")
	}
	if !bytes.Equal(a, ChannelNonce([]byte("nonce-a"))) {
		t.Fatalf("derivation is not deterministic")
	}
}
