// internal/cryptobox/box.go
package cryptobox

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/sha3"
)

// -----------------------------------------------------------------------------
// meshchat crypto stack
//
// Fixed suite:
// - private messages: X25519 sealed box (ephemeral sender key per message)
// - keyed channels:   XChaCha20-Poly1305, nonce derived per event
// - hashing/KDF:      SHA3-256
// -----------------------------------------------------------------------------

const (
	PublicKeySize = 32
	SecretKeySize = 32
	KeySize       = chacha20poly1305.KeySize    // 32
	XNonceSize    = chacha20poly1305.NonceSizeX // 24

	boxNonceSize = 24
	// SealedOverhead is the size a sealed box adds over the plaintext.
	SealedOverhead = PublicKeySize + box.Overhead
)

// ErrDecryptFailed is the recoverable decryption outcome: wrong key,
// truncated or tampered ciphertext. The event stays eligible for relay.
var ErrDecryptFailed = errors.New("decrypt failed")

func SHA3_256(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

// -----------------------------------------------------------------------------
// Sealed box (private messages)
// -----------------------------------------------------------------------------

// sealedNonce derives the box nonce from both public halves, mirroring the
// libsodium sealed-box construction, so only the ephemeral key travels.
func sealedNonce(ephPub, recipientPub *[PublicKeySize]byte) *[boxNonceSize]byte {
	var nonce [boxNonceSize]byte
	buf := make([]byte, 0, 2*PublicKeySize)
	buf = append(buf, ephPub[:]...)
	buf = append(buf, recipientPub[:]...)
	copy(nonce[:], SHA3_256(buf))
	return &nonce
}

// Seal encrypts plaintext so only the holder of the matching secret key can
// read it. The sender is not authenticated: a fresh ephemeral key is used
// per message and discarded. Output is ephPub(32) || box.
func Seal(recipientPub *[PublicKeySize]byte, plaintext []byte) ([]byte, error) {
	if recipientPub == nil {
		return nil, errors.New("missing recipient key")
	}
	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	nonce := sealedNonce(ephPub, recipientPub)
	out := make([]byte, 0, PublicKeySize+len(plaintext)+box.Overhead)
	out = append(out, ephPub[:]...)
	return box.Seal(out, plaintext, nonce, recipientPub, ephPriv), nil
}

// Open decrypts a sealed box. Any failure is ErrDecryptFailed.
func Open(ownPub *[PublicKeySize]byte, ownSecret *[SecretKeySize]byte, sealed []byte) ([]byte, error) {
	if ownPub == nil || ownSecret == nil {
		return nil, ErrDecryptFailed
	}
	if len(sealed) < SealedOverhead {
		return nil, ErrDecryptFailed
	}
	var ephPub [PublicKeySize]byte
	copy(ephPub[:], sealed[:PublicKeySize])
	nonce := sealedNonce(&ephPub, ownPub)
	plain, ok := box.Open(nil, sealed[PublicKeySize:], nonce, &ephPub, ownSecret)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// -----------------------------------------------------------------------------
// Channel AEAD (shared-key channels)
// -----------------------------------------------------------------------------

// ChannelNonce derives the 24-byte AEAD nonce from an event's random
// component. The event nonce is unique per event, so the AEAD nonce is
// never reused under the same channel key.
func ChannelNonce(eventNonce []byte) []byte {
	return SHA3_256(eventNonce)[:XNonceSize]
}

// SealChannel encrypts a channel payload under the shared key. The target
// name is bound as associated data so a ciphertext cannot be replayed into
// a different channel.
func SealChannel(key *[KeySize]byte, eventNonce []byte, plaintext []byte, target string) ([]byte, error) {
	if key == nil {
		return nil, errors.New("missing channel key")
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, ChannelNonce(eventNonce), plaintext, []byte(target)), nil
}

// OpenChannel decrypts a channel payload. Any failure is ErrDecryptFailed.
func OpenChannel(key *[KeySize]byte, eventNonce []byte, ciphertext []byte, target string) ([]byte, error) {
	if key == nil {
		return nil, ErrDecryptFailed
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("channel aead: %w", err)
	}
	plain, err := aead.Open(nil, ChannelNonce(eventNonce), ciphertext, []byte(target))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
