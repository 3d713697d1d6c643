package websocket

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/quicksock/websocket/internal/test/assert"
)

func TestCloseError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		code    StatusCode
		reason  string
		payload []byte
		success bool
	}{
		{
			name:    "normal",
			code:    StatusNormalClosure,
			reason:  strings.Repeat("x", maxControlPayload-2),
			success: true,
		},
		{
			name:    "bigReason",
			code:    StatusNormalClosure,
			reason:  strings.Repeat("x", maxControlPayload-1),
			success: false,
		},
		{
			name:    "noStatus",
			code:    StatusNoStatusRcvd,
			reason:  "ignored",
			payload: nil,
			success: true,
		},
		{
			name:    "application",
			code:    4000,
			reason:  "",
			payload: []byte{0x0f, 0xa0},
			success: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := closePayload(tc.code, tc.reason)
			if !tc.success {
				assert.Error(t, err)
				return
			}
			assert.Success(t, err)
			if tc.payload != nil || !validWireCloseCode(tc.code) {
				assert.Equal(t, "payload", tc.payload, p)
			} else {
				assert.Equal(t, "length", 2+len(tc.reason), len(p))
			}
		})
	}
}

func Test_validWireCloseCode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		code  StatusCode
		valid bool
	}{
		{name: "normal", code: StatusNormalClosure, valid: true},
		{name: "badGateway", code: StatusBadGateway, valid: true},
		{name: "noStatus", code: StatusNoStatusRcvd, valid: false},
		{name: "abnormal", code: StatusAbnormalClosure, valid: false},
		{name: "tls", code: StatusTLSHandshake, valid: false},
		{name: "reserved", code: statusReserved, valid: false},
		{name: "tooLow", code: 999, valid: false},
		{name: "unassigned", code: 2000, valid: false},
		{name: "application", code: 3000, valid: true},
		{name: "private", code: 4999, valid: true},
		{name: "tooHigh", code: 5000, valid: false},
		{name: "huge", code: math.MaxInt32, valid: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "valid", tc.valid, validWireCloseCode(tc.code))
		})
	}
}

func TestCloseStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   error
		exp  StatusCode
	}{
		{
			name: "nil",
			in:   nil,
			exp:  -1,
		},
		{
			name: "other",
			in:   fmt.Errorf("failed to read: %w", fmt.Errorf("eof")),
			exp:  -1,
		},
		{
			name: "wrapped",
			in:   fmt.Errorf("failed to send: %w", CloseError{Code: StatusInternalError}),
			exp:  StatusInternalError,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "closeStatus", tc.exp, CloseStatus(tc.in))
		})
	}
}

func TestStatusCode_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "known", "StatusGoingAway", StatusGoingAway.String())
	assert.Equal(t, "unknown", "StatusCode(4000)", StatusCode(4000).String())
}

func TestOpcode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		op      Opcode
		str     string
		control bool
		known   bool
	}{
		{OpContinuation, "Continuation", false, true},
		{OpText, "Text", false, true},
		{OpBinary, "Binary", false, true},
		{Opcode(0x3), "Opcode(0x3)", false, false},
		{OpClose, "Close", true, true},
		{OpPing, "Ping", true, true},
		{OpPong, "Pong", true, true},
		{Opcode(0xb), "Opcode(0xb)", true, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.str, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "string", tc.str, tc.op.String())
			assert.Equal(t, "control", tc.control, tc.op.Control())
			assert.Equal(t, "known", tc.known, tc.op.Known())
		})
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()

	m := NewMessage("héllo")
	assert.Equal(t, "string", "héllo", m.String())
	assert.Equal(t, "bytes", []byte("héllo"), m.Bytes())

	f := m.Frame()
	assert.Equal(t, "frame", &Frame{
		Fin:     true,
		Opcode:  OpText,
		Length:  6,
		Data:    []byte("héllo"),
		Message: "héllo",
	}, f)
	assert.Equal(t, "from frame", m, MessageFromFrame(f))
}
