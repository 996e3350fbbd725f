// internal/proto/event.go
package proto

import (
	"crypto/rand"
	"golang.org/x/crypto/sha3"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Kind is the closed set of event variants the relay dispatches over.
type Kind uint8

const (
	KindChannelMessage Kind = iota + 1
	KindPrivateMessage
	KindJoin
	KindPart
)

const (
	kindChannelMessage = "channel_message"
	kindPrivateMessage = "private_message"
	kindJoin           = "join"
	kindPart           = "part"
)

func (k Kind) String() string {
	switch k {
	case KindChannelMessage:
		return kindChannelMessage
	case KindPrivateMessage:
		return kindPrivateMessage
	case KindJoin:
		return kindJoin
	case KindPart:
		return kindPart
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func kindFromString(s string) (Kind, error) {
	switch s {
	case kindChannelMessage:
		return KindChannelMessage, nil
	case kindPrivateMessage:
		return KindPrivateMessage, nil
	case kindJoin:
		return KindJoin, nil
	case kindPart:
		return KindPart, nil
	default:
		return 0, fmt.Errorf("unknown event kind: %q", s)
	}
}

const (
	IDSize    = 32
	NonceSize = 16
)

// ID is the content-derived event identifier. Dedup keys on it alone.
type ID [IDSize]byte

// ErrMalformed marks events whose structure cannot be parsed or whose
// identifier does not match the event contents. Callers drop and count,
// never propagate.
var ErrMalformed = errors.New("malformed event")

// Event is the unit of relay. Immutable once constructed. Origin records
// which connected peer delivered it; it is never serialized and never
// feeds the ID.
type Event struct {
	ID        ID
	Timestamp int64 // unix milliseconds, originator clock
	Kind      Kind
	Target    string
	Nonce     [NonceSize]byte
	Payload   []byte

	Origin string
}

func idBytes(kind Kind, target string, payload []byte, ts int64, nonce [NonceSize]byte) []byte {
	b := make([]byte, 0, 1+2+len(target)+len(payload)+8+NonceSize)
	b = append(b, byte(kind))
	var tmp [8]byte
	binary.BigEndian.PutUint16(tmp[:2], uint16(len(target)))
	b = append(b, tmp[:2]...)
	b = append(b, target...)
	b = append(b, payload...)
	binary.BigEndian.PutUint64(tmp[:], uint64(ts))
	b = append(b, tmp[:]...)
	b = append(b, nonce[:]...)
	return b
}

// ComputeID hashes the canonical serialization of the event contents.
func ComputeID(kind Kind, target string, payload []byte, ts int64, nonce [NonceSize]byte) ID {
	return ID(sha3.Sum256(idBytes(kind, target, payload, ts, nonce)))
}

// RandomNonce draws the per-event random component. It feeds the ID and,
// for keyed channels, derives the AEAD nonce.
func RandomNonce() ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	_, err := rand.Read(nonce[:])
	return nonce, err
}

// NewEvent builds a locally originated event with a fresh random nonce.
func NewEvent(kind Kind, target string, payload []byte) (Event, error) {
	if target == "" {
		return Event{}, fmt.Errorf("missing target")
	}
	nonce, err := RandomNonce()
	if err != nil {
		return Event{}, err
	}
	ts := time.Now().UnixMilli()
	return Event{
		ID:        ComputeID(kind, target, payload, ts, nonce),
		Timestamp: ts,
		Kind:      kind,
		Target:    target,
		Nonce:     nonce,
		Payload:   payload,
	}, nil
}

// Valid recomputes the identifier from the event contents.
func (e Event) Valid() bool {
	return e.ID == ComputeID(e.Kind, e.Target, e.Payload, e.Timestamp, e.Nonce)
}
