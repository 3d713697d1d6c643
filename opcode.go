package websocket

import (
	"fmt"
)

// Opcode identifies the purpose of a frame.
// Values outside the ones defined below are preserved as is
// so that decoding never fails on an opcode it does not know.
// See https://tools.ietf.org/html/rfc6455#section-11.8.
type Opcode byte

// Opcode constants.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	// 0x3 - 0x7 are reserved for further non-control frames.
	OpClose Opcode = 0x8
	OpPing  Opcode = 0x9
	OpPong  Opcode = 0xA
	// 0xB - 0xF are reserved for further control frames.
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "Continuation"
	case OpText:
		return "Text"
	case OpBinary:
		return "Binary"
	case OpClose:
		return "Close"
	case OpPing:
		return "Ping"
	case OpPong:
		return "Pong"
	}
	return fmt.Sprintf("Opcode(%#x)", byte(o))
}

// Control reports whether o is in the control frame range.
func (o Opcode) Control() bool {
	return o&0x8 != 0
}

// Known reports whether o is one of the opcodes defined by RFC 6455.
func (o Opcode) Known() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}
