// Package protocol implements the ZBXD frame used on the trapper socket.
//
// Every message is a fixed 13-byte header followed by a UTF-8 JSON payload.
// The receiver reads the header first to learn the payload length, then reads
// exactly that many bytes. The codec never looks inside the payload.
//
// Frame format (integers little-endian):
//
//	0          4    5                      13
//	┌──────────┬────┬──────────────────────┬────────────────┐
//	│  magic   │ v  │     payload length   │  payload ...   │
//	│  "ZBXD"  │ 01 │        uint64        │  length bytes  │
//	└──────────┴────┴──────────────────────┴────────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies a trapper frame. A peer that answers with anything else
// (an HTTP server on the wrong port, say) is rejected before its length
// field is trusted.
const (
	Magic      = "ZBXD"
	Version    byte = 0x01 // Plain JSON payload; compression flags are not set
	HeaderSize int  = 13   // 4 (magic) + 1 (version) + 8 (length)

	// MaxPayloadSize caps the declared length accepted by Read.
	MaxPayloadSize uint64 = 1 << 30
)

// Header is the fixed frame header.
type Header struct {
	Magic   [4]byte // Always "ZBXD" once decoded
	Version byte    // Protocol flags byte, 0x01 for a plain JSON payload
	Length  uint64  // Exact byte length of the payload that follows, not a character count
}

// FormatError reports a malformed or truncated frame header.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

// NewHeader returns the header describing a payload of n bytes.
func NewHeader(version byte, n int) Header {
	h := Header{Version: version, Length: uint64(n)}
	copy(h.Magic[:], Magic)
	return h
}

// MarshalBinary returns the 13 header bytes.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf, nil
}

func (h Header) put(buf []byte) {
	copy(buf[0:4], h.Magic[:])
	buf[4] = h.Version
	binary.LittleEndian.PutUint64(buf[5:13], h.Length)
}

// Encode produces magic || version || len(payload) || payload.
func Encode(version byte, payload []byte) []byte {
	// One buffer so Write can send the frame in a single call.
	buf := make([]byte, HeaderSize+len(payload))
	NewHeader(version, len(payload)).put(buf)
	copy(buf[HeaderSize:], payload)
	return buf
}

// Write frames payload and writes it to w in a single call.
func Write(w io.Writer, version byte, payload []byte) error {
	_, err := w.Write(Encode(version, payload))
	return err
}

// DecodeHeader parses the header from the first HeaderSize bytes of b.
// Trailing bytes are ignored.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, &FormatError{Reason: fmt.Sprintf("short header: got %d bytes, want %d", len(b), HeaderSize)}
	}
	if string(b[0:4]) != Magic {
		return h, &FormatError{Reason: fmt.Sprintf("invalid magic: %q", b[0:4])}
	}
	copy(h.Magic[:], b[0:4])
	h.Version = b[4]
	h.Length = binary.LittleEndian.Uint64(b[5:13])
	return h, nil
}

// Read reads one complete frame from r. It uses io.ReadFull for both the
// header and the payload, so a stream that ends mid-frame is reported as a
// truncated frame rather than a short payload.
func Read(r io.Reader) (Header, []byte, error) {
	// Step 1: read the fixed-size header.
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, nil, &FormatError{Reason: "truncated header", Err: err}
		}
		return Header{}, nil, err
	}

	// Step 2: check magic and length before allocating the payload.
	h, err := DecodeHeader(headerBuf)
	if err != nil {
		return Header{}, nil, err
	}
	if h.Length > MaxPayloadSize {
		return Header{}, nil, &FormatError{Reason: fmt.Sprintf("payload length %d exceeds limit %d", h.Length, MaxPayloadSize)}
	}

	// Step 3: read exactly Length bytes; the peer may send them in pieces.
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, &FormatError{Reason: "truncated payload", Err: err}
	}
	return h, payload, nil
}
