// internal/proto/messages.go
package proto

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	MsgTypeEvent       = "event"
	MsgTypeHistoryReq  = "history_req"
	MsgTypeHistoryResp = "history_resp"
)

const (
	MaxEventSize       = 64 << 10
	MaxHistoryRespSize = MaxFrameSize
)

// MaxSizeForType caps individual wire messages below the frame limit so a
// single oversized event cannot monopolize the pipeline.
func MaxSizeForType(t string) int {
	switch t {
	case MsgTypeEvent:
		return MaxEventSize
	default:
		return MaxFrameSize
	}
}

// SniffType extracts the top-level type header without decoding the body.
func SniffType(data []byte) (string, bool) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil || hdr.Type == "" {
		return "", false
	}
	return hdr.Type, true
}

// EventMsg is the wire form of Event. Origin never appears here.
type EventMsg struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
	Kind      string `json:"kind"`
	Target    string `json:"target"`
	Nonce     string `json:"nonce"`
	Payload   string `json:"payload,omitempty"`
}

func EncodeEvent(e Event) ([]byte, error) {
	m := EventMsg{
		Type:      MsgTypeEvent,
		ID:        hex.EncodeToString(e.ID[:]),
		Timestamp: e.Timestamp,
		Kind:      e.Kind.String(),
		Target:    e.Target,
		Nonce:     hex.EncodeToString(e.Nonce[:]),
		Payload:   base64.StdEncoding.EncodeToString(e.Payload),
	}
	return json.Marshal(m)
}

// DecodeEvent parses and validates a wire event. Every failure path wraps
// ErrMalformed: the caller drops, counts and moves on.
func DecodeEvent(data []byte) (Event, error) {
	var m EventMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type != MsgTypeEvent {
		return Event{}, fmt.Errorf("%w: unexpected msg type %q", ErrMalformed, m.Type)
	}
	kind, err := kindFromString(m.Kind)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Target == "" {
		return Event{}, fmt.Errorf("%w: missing target", ErrMalformed)
	}
	idRaw, err := hex.DecodeString(m.ID)
	if err != nil || len(idRaw) != IDSize {
		return Event{}, fmt.Errorf("%w: bad id", ErrMalformed)
	}
	nonceRaw, err := hex.DecodeString(m.Nonce)
	if err != nil || len(nonceRaw) != NonceSize {
		return Event{}, fmt.Errorf("%w: bad nonce", ErrMalformed)
	}
	payload := []byte(nil)
	if m.Payload != "" {
		payload, err = base64.StdEncoding.DecodeString(m.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("%w: bad payload", ErrMalformed)
		}
	}
	e := Event{
		Timestamp: m.Timestamp,
		Kind:      kind,
		Target:    m.Target,
		Payload:   payload,
	}
	copy(e.ID[:], idRaw)
	copy(e.Nonce[:], nonceRaw)
	if !e.Valid() {
		return Event{}, fmt.Errorf("%w: id mismatch", ErrMalformed)
	}
	return e, nil
}

// HistoryReqMsg asks a peer for events after a catch-up cursor.
type HistoryReqMsg struct {
	Type   string `json:"type"`
	Cursor uint64 `json:"cursor"`
}

func EncodeHistoryReq(cursor uint64) ([]byte, error) {
	return json.Marshal(HistoryReqMsg{Type: MsgTypeHistoryReq, Cursor: cursor})
}

func DecodeHistoryReq(data []byte) (HistoryReqMsg, error) {
	var m HistoryReqMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return HistoryReqMsg{}, err
	}
	if m.Type != MsgTypeHistoryReq {
		return HistoryReqMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}

// HistoryRespMsg returns retained events in append order. Gap reports that
// the requested cursor predates the oldest retained event; the log never
// reconstructs what was overwritten.
type HistoryRespMsg struct {
	Type   string            `json:"type"`
	Cursor uint64            `json:"cursor"`
	Gap    bool              `json:"gap,omitempty"`
	Events []json.RawMessage `json:"events"`
}

func EncodeHistoryResp(cursor uint64, gap bool, events []Event) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		b, err := EncodeEvent(e)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(HistoryRespMsg{Type: MsgTypeHistoryResp, Cursor: cursor, Gap: gap, Events: raw})
}

func DecodeHistoryResp(data []byte) (HistoryRespMsg, error) {
	var m HistoryRespMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return HistoryRespMsg{}, err
	}
	if m.Type != MsgTypeHistoryResp {
		return HistoryRespMsg{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}
