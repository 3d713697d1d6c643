package websocket

import (
	"context"
)

// Handler receives the lifecycle callbacks of one connection.
// The server builds one Handler per accepted connection, so a Handler
// only sees a single Conn. Different connections run concurrently.
//
// Failures are only observable through OnClose or through the error
// returned by Conn.Send.
type Handler interface {
	// OnOpen is called once after the handshake, before any message.
	OnOpen(ctx context.Context)
	// OnMessage is called for every text frame.
	OnMessage(ctx context.Context, m Message)
	// OnClose is called once when the connection ends.
	// code is StatusNoStatusRcvd if the peer's close frame had no status
	// and StatusAbnormalClosure if the connection ended without a close frame.
	OnClose(ctx context.Context, code StatusCode, reason string)
}

// BinaryHandler is implemented by handlers that want binary frames.
// Binary frames are dropped for handlers that do not implement it.
type BinaryHandler interface {
	OnBinary(ctx context.Context, p []byte)
}

// BaseHandler provides no-op OnOpen and OnMessage methods.
// Embed it to only implement OnClose.
type BaseHandler struct{}

func (BaseHandler) OnOpen(context.Context) {}

func (BaseHandler) OnMessage(context.Context, Message) {}

// HandlerFuncs adapts plain functions to a Handler.
// Nil functions are no-ops.
type HandlerFuncs struct {
	Open    func(ctx context.Context)
	Message func(ctx context.Context, m Message)
	Binary  func(ctx context.Context, p []byte)
	Close   func(ctx context.Context, code StatusCode, reason string)
}

var (
	_ Handler       = HandlerFuncs{}
	_ BinaryHandler = HandlerFuncs{}
)

func (h HandlerFuncs) OnOpen(ctx context.Context) {
	if h.Open != nil {
		h.Open(ctx)
	}
}

func (h HandlerFuncs) OnMessage(ctx context.Context, m Message) {
	if h.Message != nil {
		h.Message(ctx, m)
	}
}

func (h HandlerFuncs) OnBinary(ctx context.Context, p []byte) {
	if h.Binary != nil {
		h.Binary(ctx, p)
	}
}

func (h HandlerFuncs) OnClose(ctx context.Context, code StatusCode, reason string) {
	if h.Close != nil {
		h.Close(ctx, code, reason)
	}
}
