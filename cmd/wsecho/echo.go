package main

import (
	"context"

	"github.com/quicksock/websocket"
)

// echoHandler sends every message back on the connection it came from.
type echoHandler struct {
	websocket.BaseHandler
	c *websocket.Conn
}

func newEchoHandler(c *websocket.Conn) websocket.Handler {
	return &echoHandler{c: c}
}

func (h *echoHandler) OnMessage(ctx context.Context, m websocket.Message) {
	h.c.Send(ctx, m)
}

func (h *echoHandler) OnBinary(ctx context.Context, p []byte) {
	h.c.SendBinary(ctx, p)
}

func (h *echoHandler) OnClose(context.Context, websocket.StatusCode, string) {}
