// internal/cryptobox/keys.go
package cryptobox

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/box"
)

// KeyPair is the node's long-lived X25519 identity for private messages.
type KeyPair struct {
	Public *[PublicKeySize]byte
	Secret *[SecretKeySize]byte
}

func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Secret: priv}, nil
}

// PublicHex is the wire/target representation of the public key.
func (kp *KeyPair) PublicHex() string {
	if kp == nil || kp.Public == nil {
		return ""
	}
	return hex.EncodeToString(kp.Public[:])
}

func ParsePublicKeyHex(s string) (*[PublicKeySize]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != PublicKeySize {
		return nil, fmt.Errorf("bad public key")
	}
	var pub [PublicKeySize]byte
	copy(pub[:], raw)
	return &pub, nil
}

func SaveKeyPair(dir string, kp *KeyPair) error {
	if kp == nil || kp.Public == nil || kp.Secret == nil {
		return errors.New("empty key")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "pub.hex"), []byte(hex.EncodeToString(kp.Public[:])), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "priv.hex"), []byte(hex.EncodeToString(kp.Secret[:])), 0600)
}

func LoadKeyPair(dir string) (*KeyPair, error) {
	pubHex, err := os.ReadFile(filepath.Join(dir, "pub.hex"))
	if err != nil {
		return nil, err
	}
	privHex, err := os.ReadFile(filepath.Join(dir, "priv.hex"))
	if err != nil {
		return nil, err
	}
	pubRaw, err := hex.DecodeString(string(pubHex))
	if err != nil || len(pubRaw) != PublicKeySize {
		return nil, fmt.Errorf("bad pub.hex")
	}
	privRaw, err := hex.DecodeString(string(privHex))
	if err != nil || len(privRaw) != SecretKeySize {
		return nil, fmt.Errorf("bad priv.hex")
	}
	kp := &KeyPair{Public: new([PublicKeySize]byte), Secret: new([SecretKeySize]byte)}
	copy(kp.Public[:], pubRaw)
	copy(kp.Secret[:], privRaw)
	return kp, nil
}

// EnsureKeyPair loads the node identity, generating one on first run.
func EnsureKeyPair(dir string) (*KeyPair, error) {
	kp, err := LoadKeyPair(dir)
	if err == nil {
		return kp, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	kp, err = GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := SaveKeyPair(dir, kp); err != nil {
		return nil, err
	}
	return kp, nil
}
