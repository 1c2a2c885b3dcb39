// Package chunker implements deterministic file chunking, the binary chunk
// wire frame, and whole-file/chunk hashing.
package chunker

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of the binary chunk header, in bytes.
const HeaderSize = 48

// HashSize is the size of a SHA-256 digest, in bytes.
const HashSize = 32

// ErrMalformedFrame is returned when a frame cannot be decoded because its
// length is inconsistent with its header fields, or because encoding would
// exceed the configured maximum payload size.
var ErrMalformedFrame = errors.New("chunker: malformed frame")

// Header is the fixed 48-byte little-endian chunk header described in the
// wire contract:
//
//	offset  size  field
//	0       4     sequence  (uint32)
//	4       8     offset    (int64)
//	12      4     size      (uint32)
//	16      32    hash      (raw SHA-256 of payload)
type Header struct {
	Sequence uint32
	Offset   int64
	Size     uint32
	Hash     [HashSize]byte
}

// Frame is a decoded header plus its payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// Framer encodes and decodes chunk frames against a configured maximum
// payload size. It holds no other state and is safe to use from multiple
// goroutines.
type Framer struct {
	// MaxPayloadSize bounds Encode's accepted payload length. Zero disables
	// the check (Framer itself doesn't know the negotiated chunk size).
	MaxPayloadSize uint32
}

// NewFramer returns a Framer with the given maximum payload size. A
// maxPayloadSize of 0 disables the check (decode-time length consistency is
// still enforced).
func NewFramer(maxPayloadSize uint32) *Framer {
	return &Framer{MaxPayloadSize: maxPayloadSize}
}

// Encode serializes a header and payload into a wire frame. It fails with
// ErrMalformedFrame if the payload exceeds the configured maximum or if
// header.Size does not match len(payload).
func (f *Framer) Encode(h Header, payload []byte) ([]byte, error) {
	if int(h.Size) != len(payload) {
		return nil, fmt.Errorf("%w: header size %d != payload length %d", ErrMalformedFrame, h.Size, len(payload))
	}
	if f.MaxPayloadSize > 0 && h.Size > f.MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d", ErrMalformedFrame, h.Size, f.MaxPayloadSize)
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], h.Sequence)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(h.Offset))
	binary.LittleEndian.PutUint32(buf[12:16], h.Size)
	copy(buf[16:48], h.Hash[:])
	copy(buf[48:], payload)
	return buf, nil
}

// Decode parses a wire frame into a header and payload. It does not verify
// the payload hash against the header hash — that is the Hasher's job
// (Hasher.VerifyFrame). Decode fails with ErrMalformedFrame if the buffer is
// shorter than HeaderSize or if the buffer length doesn't equal
// HeaderSize+size.
func (f *Framer) Decode(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: buffer length %d shorter than header size %d", ErrMalformedFrame, len(buf), HeaderSize)
	}

	var h Header
	h.Sequence = binary.LittleEndian.Uint32(buf[0:4])
	h.Offset = int64(binary.LittleEndian.Uint64(buf[4:12]))
	h.Size = binary.LittleEndian.Uint32(buf[12:16])
	copy(h.Hash[:], buf[16:48])

	if HeaderSize+int(h.Size) != len(buf) {
		return Frame{}, fmt.Errorf("%w: header declares size %d but buffer has %d payload bytes", ErrMalformedFrame, h.Size, len(buf)-HeaderSize)
	}

	payload := make([]byte, h.Size)
	copy(payload, buf[HeaderSize:])
	return Frame{Header: h, Payload: payload}, nil
}

// IsBinaryFrame reports whether a received message should be treated as a
// binary chunk frame rather than a JSON control message, per the wire
// schema: any message at least HeaderSize bytes long is binary-chunk.
func IsBinaryFrame(buf []byte) bool {
	return len(buf) >= HeaderSize
}
