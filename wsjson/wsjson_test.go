package wsjson_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/sloggers/slogtest"
	gws "github.com/gorilla/websocket"

	"github.com/quicksock/websocket"
	"github.com/quicksock/websocket/internal/test/assert"
	"github.com/quicksock/websocket/internal/test/xrand"
	"github.com/quicksock/websocket/wsjson"
)

type point struct {
	X int    `json:"x"`
	Y int    `json:"y"`
	L string `json:"label"`
}

func TestJSON(t *testing.T) {
	t.Parallel()

	decoded := make(chan point, 1)
	newHandler := func(c *websocket.Conn) websocket.Handler {
		return websocket.HandlerFuncs{
			Open: func(ctx context.Context) {
				wsjson.Write(ctx, c, point{X: 1, Y: 2, L: "origin"})
			},
			Message: func(ctx context.Context, m websocket.Message) {
				var p point
				err := wsjson.Decode(m, &p)
				if err != nil {
					c.Close(websocket.StatusUnsupportedData, "expected json")
					return
				}
				decoded <- p
			},
		}
	}

	log := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	s := websocket.NewServer(newHandler, &websocket.ServerOptions{Logger: &log})
	defer s.Close()

	hs := httptest.NewServer(s)
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := gws.DefaultDialer.DialContext(ctx, "ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	assert.Success(t, err)
	defer c.Close()

	typ, b, err := c.ReadMessage()
	assert.Success(t, err)
	assert.Equal(t, "type", gws.TextMessage, typ)
	assert.Equal(t, "json", `{"x":1,"y":2,"label":"origin"}`, string(b))

	err = c.WriteMessage(gws.TextMessage, []byte(`{"x":3,"y":4,"label":"up"}`))
	assert.Success(t, err)

	select {
	case p := <-decoded:
		assert.Equal(t, "point", point{X: 3, Y: 4, L: "up"}, p)
	case <-ctx.Done():
		t.Fatal(ctx.Err())
	}

	err = c.WriteMessage(gws.TextMessage, []byte("not json"))
	assert.Success(t, err)
	_, _, err = c.ReadMessage()
	assert.Equal(t, "close", true, gws.IsCloseError(err, gws.CloseUnsupportedData))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	var v map[string]int
	err := wsjson.Decode(websocket.NewMessage(`{"a":1}`), &v)
	assert.Success(t, err)
	assert.Equal(t, "v", map[string]int{"a": 1}, v)

	err = wsjson.Decode(websocket.NewMessage(`{"a":`), &v)
	assert.Contains(t, err, "failed to decode json")
}

func BenchmarkJSON(b *testing.B) {
	sizes := []int{
		8,
		16,
		32,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		16384,
	}

	b.Run("json.Encoder", func(b *testing.B) {
		for _, size := range sizes {
			b.Run(strconv.Itoa(size), func(b *testing.B) {
				msg := xrand.String(size)
				b.SetBytes(int64(size))
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					json.NewEncoder(io.Discard).Encode(msg)
				}
			})
		}
	})
	b.Run("json.Marshal", func(b *testing.B) {
		for _, size := range sizes {
			b.Run(strconv.Itoa(size), func(b *testing.B) {
				msg := xrand.String(size)
				b.SetBytes(int64(size))
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					json.Marshal(msg)
				}
			})
		}
	})
}
