package chunker

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"
)

func TestFramer_EncodeDecodeRoundTrip(t *testing.T) {
	f := NewFramer(0)
	payload := []byte("chunk payload bytes")
	sum := sha256.Sum256(payload)
	h := Header{Sequence: 7, Offset: 1024, Size: uint32(len(payload)), Hash: sum}

	buf, err := f.Encode(h, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(buf) != HeaderSize+len(payload) {
		t.Fatalf("encoded length = %d, want %d", len(buf), HeaderSize+len(payload))
	}

	frame, err := f.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if frame.Header != h {
		t.Errorf("decoded header = %+v, want %+v", frame.Header, h)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("decoded payload mismatch")
	}
}

func TestFramer_DecodeRejectsShortBuffer(t *testing.T) {
	f := NewFramer(0)
	_, err := f.Decode(make([]byte, HeaderSize-1))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestFramer_DecodeRejectsLengthMismatch(t *testing.T) {
	f := NewFramer(0)
	buf := make([]byte, HeaderSize+10)
	// header declares size 0 via zeroed bytes, but buffer carries 10 payload bytes
	_, err := f.Decode(buf)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestFramer_EncodeRejectsSizeMismatch(t *testing.T) {
	f := NewFramer(0)
	h := Header{Sequence: 1, Size: 5}
	_, err := f.Encode(h, []byte("too long for header size"))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestFramer_EncodeRejectsOverMaxPayload(t *testing.T) {
	f := NewFramer(4)
	payload := []byte("12345")
	h := Header{Sequence: 1, Size: uint32(len(payload))}
	_, err := f.Encode(h, payload)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestFramer_EncodeDecodeIdempotentOnExtraTrailingBytes(t *testing.T) {
	f := NewFramer(0)
	payload := []byte("payload")
	sum := sha256.Sum256(payload)
	h := Header{Sequence: 3, Offset: 0, Size: uint32(len(payload)), Hash: sum}
	buf, err := f.Encode(h, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	trailing := []byte("next-frame-bytes")
	combined := append(append([]byte{}, buf...), trailing...)

	// Decoding only the exact frame slice must still succeed and ignore
	// nothing from beyond it.
	frame, err := f.Decode(combined[:len(buf)])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload mismatch")
	}
}

func TestIsBinaryFrame(t *testing.T) {
	if IsBinaryFrame(make([]byte, HeaderSize-1)) {
		t.Error("buffer shorter than header should not be a binary frame")
	}
	if !IsBinaryFrame(make([]byte, HeaderSize)) {
		t.Error("buffer exactly header-sized should be a binary frame")
	}
	if !IsBinaryFrame(make([]byte, HeaderSize+100)) {
		t.Error("buffer longer than header should be a binary frame")
	}
}

func TestFramer_VerifyFrameViaHasher(t *testing.T) {
	f := NewFramer(0)
	h := NewHasher()
	payload := []byte("verify me")
	sum, _ := h.HashBytes(payload)
	header := Header{Sequence: 0, Offset: 0, Size: uint32(len(payload)), Hash: sum}

	buf, err := f.Encode(header, payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	frame, err := f.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !h.VerifyFrame(frame) {
		t.Error("VerifyFrame should succeed for an untampered frame")
	}

	frame.Payload[0] ^= 0xFF
	if h.VerifyFrame(frame) {
		t.Error("VerifyFrame should fail once payload is tampered with")
	}
}
