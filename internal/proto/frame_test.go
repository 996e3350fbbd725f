package proto

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"event"}`)
	framed, err := EncodeFrame(payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	got, err := ReadFrame(bytes.NewReader(framed))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestFrameRejectsEmpty(t *testing.T) {
	if _, err := EncodeFrame(nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestFrameRejectsOversize(t *testing.T) {
	if _, err := EncodeFrame(make([]byte, MaxFrameSize+1)); err == nil {
		t.Fatalf("expected error for oversized payload")
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	if _, err := ReadFrame(bytes.NewReader(hdr[:])); err == nil {
		t.Fatalf("expected error for oversized length prefix")
	}
}

func TestFrameTruncated(t *testing.T) {
	framed, err := EncodeFrame([]byte("abcdef"))
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader(framed[:len(framed)-2])); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}
