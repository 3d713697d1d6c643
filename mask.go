package websocket

import (
	"encoding/binary"
	"math/bits"
)

// Mask returns a copy of p XORed with key cycled over its bytes.
// Masking is its own inverse: Mask(key, Mask(key, p)) equals p.
// See https://tools.ietf.org/html/rfc6455#section-5.3
func Mask(key [4]byte, p []byte) []byte {
	b := make([]byte, len(p))
	copy(b, p)
	mask(binary.LittleEndian.Uint32(key[:]), b)
	return b
}

// mask applies the masking algorithm to b in place.
// key is expected in little endian so that the word at a time
// loops line up with byte order of the frame.
//
// The returned value is the key rotated so that masking can
// continue where b left off.
func mask(key uint32, b []byte) uint32 {
	if len(b) >= 8 {
		key64 := uint64(key)<<32 | uint64(key)

		for len(b) >= 32 {
			v := binary.LittleEndian.Uint64(b)
			binary.LittleEndian.PutUint64(b, v^key64)
			v = binary.LittleEndian.Uint64(b[8:16])
			binary.LittleEndian.PutUint64(b[8:16], v^key64)
			v = binary.LittleEndian.Uint64(b[16:24])
			binary.LittleEndian.PutUint64(b[16:24], v^key64)
			v = binary.LittleEndian.Uint64(b[24:32])
			binary.LittleEndian.PutUint64(b[24:32], v^key64)
			b = b[32:]
		}

		for len(b) >= 8 {
			v := binary.LittleEndian.Uint64(b)
			binary.LittleEndian.PutUint64(b, v^key64)
			b = b[8:]
		}
	}

	for len(b) >= 4 {
		v := binary.LittleEndian.Uint32(b)
		binary.LittleEndian.PutUint32(b, v^key)
		b = b[4:]
	}

	// xor remaining bytes.
	for i := range b {
		b[i] ^= byte(key)
		key = bits.RotateLeft32(key, -8)
	}

	return key
}
