// Package codec implements the IPC wire format.
//
// Wire format (8 bytes header + variable payload):
//
//	┌──────────────────────┬──────────────────────┐
//	│ Opcode               │ Payload Length       │
//	│ (4 bytes, LE uint32) │ (4 bytes, LE uint32) │
//	└──────────────────────┴──────────────────────┘
//	│  Payload (UTF-8 JSON, length bytes)         │
//	└─────────────────────────────────────────────┘
package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"discord-rpc/internal/domain"
)

// HeaderLen is the size of the fixed frame header in bytes.
const HeaderLen = 8

// OpCode identifies the kind of frame.
type OpCode uint32

const (
	OpHandshake OpCode = 0
	OpFrame     OpCode = 1 // application frame carrying an Envelope
	OpClose     OpCode = 2
	OpPing      OpCode = 3
	OpPong      OpCode = 4
)

// String returns the string representation of the opcode.
func (op OpCode) String() string {
	switch op {
	case OpHandshake:
		return "Handshake"
	case OpFrame:
		return "Frame"
	case OpClose:
		return "Close"
	case OpPing:
		return "Ping"
	case OpPong:
		return "Pong"
	default:
		return fmt.Sprintf("OpCode(%d)", uint32(op))
	}
}

// Frame is one complete wire message.
type Frame struct {
	Op      OpCode
	Payload []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 16 * 1024 * 1024}
}

var (
	ErrPayloadTooLarge = fmt.Errorf("frame: payload too large: %w", domain.ErrProtocol)
	ErrPartialFrame    = fmt.Errorf("frame: read deadline hit mid-frame: %w", domain.ErrIO)
)

// Encode returns the wire bytes for f. Total length is HeaderLen + len(f.Payload).
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderLen+len(f.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	copy(buf[HeaderLen:], f.Payload)
	return buf
}

// DecodeHeader parses the fixed header.
func DecodeHeader(b []byte) (OpCode, uint32, error) {
	if len(b) != HeaderLen {
		return 0, 0, fmt.Errorf("frame: invalid header length %d: %w", len(b), domain.ErrProtocol)
	}
	return OpCode(binary.LittleEndian.Uint32(b[0:4])), binary.LittleEndian.Uint32(b[4:8]), nil
}

// ReadFrame reads one frame: the header, then exactly length payload bytes.
//
// A read deadline that expires before the first header byte yields
// domain.ErrWouldBlock. Once any byte of a frame has been consumed the stream
// can no longer be resynchronized, so a later deadline is ErrPartialFrame.
// Close and i/o errors from r are returned unchanged.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var header [HeaderLen]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		return Frame{}, readErr(n, err)
	}

	op, length, err := DecodeHeader(header[:])
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxPayloadBytes > 0 && length > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, readErr(HeaderLen, err)
		}
	}
	return Frame{Op: op, Payload: payload}, nil
}

func readErr(consumed int, err error) error {
	switch {
	case errors.Is(err, domain.ErrWouldBlock):
		if consumed > 0 {
			return ErrPartialFrame
		}
		return err
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("frame: %w", domain.ErrConnectionClosed)
	default:
		return err
	}
}

// Sender is the write half of a transport.
type Sender interface {
	Send(p []byte) error
}

// WriteFrame encodes f and sends it in one call so the header and payload
// are never interleaved with another frame.
func WriteFrame(s Sender, f Frame) error {
	return s.Send(Encode(f))
}

// NewJSONFrame marshals v as the payload of a frame with the given opcode.
func NewJSONFrame(op OpCode, v any) (Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("frame: marshal %s payload: %w", op, err)
	}
	return Frame{Op: op, Payload: payload}, nil
}

// DecodeEnvelope parses the payload of an application frame.
func DecodeEnvelope(f Frame) (*domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(f.Payload, &env); err != nil {
		return nil, fmt.Errorf("frame: decode envelope: %w: %v", domain.ErrProtocol, err)
	}
	return &env, nil
}
