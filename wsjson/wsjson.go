// Package wsjson provides helpers for JSON messages.
package wsjson

import (
	"bytes"
	"context"
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/quicksock/websocket"
	"github.com/quicksock/websocket/internal/bpool"
)

// Write writes the JSON encoding of v to c as a single text message.
func Write(ctx context.Context, c *websocket.Conn, v interface{}) error {
	err := write(ctx, c, v)
	if err != nil {
		return xerrors.Errorf("failed to write json: %w", err)
	}
	return nil
}

func write(ctx context.Context, c *websocket.Conn, v interface{}) error {
	buf := bpool.Get()
	defer bpool.Put(buf)

	err := json.NewEncoder(buf).Encode(v)
	if err != nil {
		return xerrors.Errorf("failed to encode json: %w", err)
	}

	return c.SendText(ctx, string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))))
}

// Decode unmarshals the JSON text message m into v.
func Decode(m websocket.Message, v interface{}) error {
	err := json.Unmarshal(m.Bytes(), v)
	if err != nil {
		return xerrors.Errorf("failed to decode json: %w", err)
	}
	return nil
}
