// Package wstest contains a raw WebSocket client for tests.
// It writes exactly the frames it is asked to, so tests can exercise
// the server with traffic a well behaved client would never send.
package wstest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
)

// Client is a client side WebSocket connection over a raw TCP stream.
type Client struct {
	net.Conn
	r io.Reader
}

// NewClient wraps a stream on which the handshake has already been
// performed.
func NewClient(nc net.Conn) *Client {
	return &Client{Conn: nc, r: nc}
}

// Dial connects to the raw WebSocket listener at addr and performs the
// opening handshake for path.
func Dial(ctx context.Context, addr, path string) (*Client, error) {
	nc, br, _, err := ws.Dial(ctx, "ws://"+addr+path)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %v: %w", addr, err)
	}
	c := NewClient(nc)
	if br != nil {
		c.r = br
	}
	if deadline, ok := ctx.Deadline(); ok {
		nc.SetDeadline(deadline)
	}
	return c, nil
}

// WriteFrame writes a single masked frame.
func (c *Client) WriteFrame(op ws.OpCode, fin bool, p []byte) error {
	f := ws.NewFrame(op, fin, p)
	return ws.WriteFrame(c, ws.MaskFrame(f))
}

// WriteText writes s as a single masked text frame.
func (c *Client) WriteText(s string) error {
	return c.WriteFrame(ws.OpText, true, []byte(s))
}

// WriteClose writes a masked close frame with code and reason.
func (c *Client) WriteClose(code ws.StatusCode, reason string) error {
	return c.WriteFrame(ws.OpClose, true, ws.NewCloseFrameBody(code, reason))
}

// WriteRaw writes p as is.
func (c *Client) WriteRaw(p []byte) error {
	_, err := c.Write(p)
	return err
}

// ReadFrame reads the next frame sent by the server.
func (c *Client) ReadFrame() (ws.Frame, error) {
	return ws.ReadFrame(c.r)
}

// ReadText reads the next frame and requires it to be a text frame.
func (c *Client) ReadText() (string, error) {
	f, err := c.ReadFrame()
	if err != nil {
		return "", err
	}
	if f.Header.OpCode != ws.OpText {
		return "", fmt.Errorf("expected text frame but got opcode %v", f.Header.OpCode)
	}
	return string(f.Payload), nil
}

// ReadClose reads frames until a close frame and returns its status.
func (c *Client) ReadClose() (ws.StatusCode, string, error) {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			return 0, "", err
		}
		if f.Header.OpCode == ws.OpClose {
			code, reason := ws.ParseCloseFrameData(f.Payload)
			return code, reason, nil
		}
	}
}

// ReadRaw reads exactly n bytes.
func (c *Client) ReadRaw(n int) ([]byte, error) {
	p := make([]byte, n)
	_, err := io.ReadFull(c.r, p)
	return p, err
}

// HandshakeRequest returns the text of a valid opening handshake for
// path with the given key.
func HandshakeRequest(path, key string) string {
	return "GET " + path + " HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
}

// ReadResponseHead reads from r up to and including the blank line that
// ends an HTTP response head.
func ReadResponseHead(r *bufio.Reader) (string, error) {
	var head string
	for {
		line, err := r.ReadString('\n')
		head += line
		if err != nil {
			return head, err
		}
		if line == "\r\n" {
			return head, nil
		}
	}
}

// Deadline bounds every read and write on c.
func (c *Client) Deadline(d time.Duration) {
	c.SetDeadline(time.Now().Add(d))
}
