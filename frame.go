package websocket

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// maxControlPayload is the maximum length of a control frame payload.
// See https://tools.ietf.org/html/rfc6455#section-5.5.
const maxControlPayload = 125

// Errors wrapped by DecodeError.
var (
	ErrUnmaskedFrame       = errors.New("received unmasked frame from client")
	ErrTruncatedFrame      = errors.New("declared payload length exceeds buffered bytes")
	ErrInvalidLength       = errors.New("most significant bit of 64 bit payload length is set")
	ErrInvalidClosePayload = errors.New("close payload too small to contain the 2 byte status code")
	ErrMessageTooBig       = errors.New("frame payload exceeds read limit")
	ErrInvalidControlFrame = errors.New("control frame is fragmented or longer than 125 bytes")
)

// ErrInvalidFrame is returned by Encode for frames that cannot be put on the wire.
var ErrInvalidFrame = errors.New("invalid frame")

// DecodeError is returned when the bytes read from a client do not form
// a frame this server accepts. It is fatal to the connection.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Frame is one unit of the WebSocket wire protocol.
// See https://tools.ietf.org/html/rfc6455#section-5.2.
type Frame struct {
	Fin    bool
	RSV1   bool
	RSV2   bool
	RSV3   bool
	Opcode Opcode

	Masked bool
	Length uint64

	// Code is the status carried by a close frame and zero otherwise.
	// A close frame with a zero Length carries no status at all.
	Code StatusCode

	// Key is the masking key, all zero for unmasked frames.
	Key [4]byte

	// Data is the unmasked payload. For close frames it includes
	// the 2 byte status code.
	Data []byte

	// Message is Data decoded as UTF-8 with invalid sequences replaced.
	// For close frames it is the reason that follows the status code.
	Message string
}

// headerSize returns the length of the header whose second byte is b1,
// masking key included.
func headerSize(b1 byte) int {
	n := 2
	switch b1 & 0x7f {
	case 126:
		n += 2
	case 127:
		n += 8
	}
	if b1&(1<<7) != 0 {
		n += 4
	}
	return n
}

// payloadLength reads the payload length of the header at the start of b.
// It returns the offset of the byte following the length fields.
func payloadLength(b []byte) (int, uint64, error) {
	switch l := b[1] & 0x7f; l {
	case 126:
		if len(b) < 4 {
			return 0, 0, ErrTruncatedFrame
		}
		return 4, uint64(binary.BigEndian.Uint16(b[2:])), nil
	case 127:
		if len(b) < 10 {
			return 0, 0, ErrTruncatedFrame
		}
		n := binary.BigEndian.Uint64(b[2:])
		if n > math.MaxInt64 {
			return 0, 0, ErrInvalidLength
		}
		return 10, n, nil
	default:
		return 2, uint64(l), nil
	}
}

// Decode decodes the frame at the start of buf.
//
// It returns nil, nil when fewer than 2 bytes are buffered. Frames from
// clients must be masked; an unmasked frame discards buf and returns
// ErrUnmaskedFrame. A frame whose declared length exceeds what is
// buffered returns ErrTruncatedFrame. Only the bytes of the decoded frame
// are consumed from buf.
func Decode(buf *bytes.Buffer) (*Frame, error) {
	b := buf.Bytes()
	if len(b) < 2 {
		return nil, nil
	}

	f := &Frame{
		Fin:    b[0]&(1<<7) != 0,
		RSV1:   b[0]&(1<<6) != 0,
		RSV2:   b[0]&(1<<5) != 0,
		RSV3:   b[0]&(1<<4) != 0,
		Opcode: Opcode(b[0] & 0xf),
		Masked: b[1]&(1<<7) != 0,
	}

	if !f.Masked {
		buf.Reset()
		return nil, &DecodeError{ErrUnmaskedFrame}
	}

	off, length, err := payloadLength(b)
	if err != nil {
		return nil, &DecodeError{err}
	}

	// See https://tools.ietf.org/html/rfc6455#section-5.5.
	if f.Opcode.Control() && (!f.Fin || length > maxControlPayload) {
		return nil, &DecodeError{fmt.Errorf("%w: %v frame with fin %v and length %v", ErrInvalidControlFrame, f.Opcode, f.Fin, length)}
	}

	if len(b) < off+4 {
		return nil, &DecodeError{ErrTruncatedFrame}
	}
	copy(f.Key[:], b[off:off+4])
	off += 4

	if uint64(len(b)-off) < length {
		return nil, &DecodeError{fmt.Errorf("%w: need %v but have %v", ErrTruncatedFrame, length, len(b)-off)}
	}
	end := off + int(length)

	f.Length = length
	f.Data = Mask(f.Key, b[off:end])
	buf.Next(end)

	text := f.Data
	if f.Opcode == OpClose && length > 0 {
		if length < 2 {
			return nil, &DecodeError{ErrInvalidClosePayload}
		}
		f.Code = StatusCode(binary.BigEndian.Uint16(f.Data))
		text = f.Data[2:]
	}
	f.Message = strings.ToValidUTF8(string(text), "\uFFFD")

	return f, nil
}

// Encode appends the wire representation of f to buf.
//
// Frames written by a server are never masked so the mask bit is
// always clear and f.Key is ignored. The payload is f.Data and must fit
// in a single frame.
func Encode(buf *bytes.Buffer, f *Frame) error {
	if f.Opcode > 0xf {
		return fmt.Errorf("%w: opcode %v does not fit in 4 bits", ErrInvalidFrame, f.Opcode)
	}
	n := len(f.Data)
	if f.Opcode.Control() && n > maxControlPayload {
		return fmt.Errorf("%w: control frame payload of %v bytes exceeds %v", ErrInvalidFrame, n, maxControlPayload)
	}

	var hdr [10]byte
	if f.Fin {
		hdr[0] |= 1 << 7
	}
	if f.RSV1 {
		hdr[0] |= 1 << 6
	}
	if f.RSV2 {
		hdr[0] |= 1 << 5
	}
	if f.RSV3 {
		hdr[0] |= 1 << 4
	}
	hdr[0] |= byte(f.Opcode)

	h := hdr[:2]
	switch {
	case n <= 125:
		hdr[1] = byte(n)
	case n <= math.MaxUint16:
		hdr[1] = 126
		h = hdr[:4]
		binary.BigEndian.PutUint16(h[2:], uint16(n))
	default:
		hdr[1] = 127
		h = hdr[:10]
		binary.BigEndian.PutUint64(h[2:], uint64(n))
	}

	buf.Grow(len(h) + n)
	buf.Write(h)
	buf.Write(f.Data)
	return nil
}

// controlFrame returns an unmasked final frame of the given control opcode.
func controlFrame(op Opcode, p []byte) *Frame {
	return &Frame{
		Fin:    true,
		Opcode: op,
		Length: uint64(len(p)),
		Data:   p,
	}
}
