package websocket

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quicksock/websocket/internal/bpool"
	"github.com/quicksock/websocket/internal/errd"
)

// DefaultReadLimit is the largest frame payload a Conn reads by default.
const DefaultReadLimit = 32768

// Conn is one accepted WebSocket session.
//
// A *Conn is a shared handle: the goroutine running the dispatch loop
// reads with Next while handlers holding the same pointer write with
// Send. Reads are serialized against reads and writes against writes,
// one frame at a time. A write never waits for a blocked read.
//
// The underlying stream is never exposed.
type Conn struct {
	route     string
	rwc       io.ReadWriteCloser
	br        *bufio.Reader
	readLimit int64
	metrics   *Metrics

	readMu  mu
	writeMu mu

	closed     chan struct{}
	closeMu    sync.Mutex
	closeErr   error
	wroteClose bool

	pingCounter   atomic.Int64
	activePingsMu sync.Mutex
	activePings   map[string]chan<- struct{}
}

type connConfig struct {
	route     string
	rwc       io.ReadWriteCloser
	br        *bufio.Reader
	readLimit int64
	metrics   *Metrics
}

func newConn(cfg connConfig) *Conn {
	c := &Conn{
		route:       cfg.route,
		rwc:         cfg.rwc,
		br:          cfg.br,
		readLimit:   cfg.readLimit,
		metrics:     cfg.metrics,
		closed:      make(chan struct{}),
		activePings: make(map[string]chan<- struct{}),
	}
	if c.route == "" {
		c.route = "/"
	}
	if c.br == nil {
		c.br = bufio.NewReader(c.rwc)
	}
	if c.readLimit <= 0 {
		c.readLimit = DefaultReadLimit
	}
	return c
}

// Route returns the path of the handshake request.
func (c *Conn) Route() string {
	return c.route
}

// RemoteAddr returns the address of the peer if the stream is a net.Conn.
func (c *Conn) RemoteAddr() net.Addr {
	if nc, ok := c.rwc.(net.Conn); ok {
		return nc.RemoteAddr()
	}
	return nil
}

// Next reads and decodes the next frame from the connection.
//
// It returns io.EOF when the peer ends the stream between frames.
// Any other error is fatal and closes the connection. Cancelling ctx
// while Next is blocked closes the connection as well.
//
// Pong frames wake up Ping calls waiting for them and are returned
// like any other frame.
func (c *Conn) Next(ctx context.Context) (*Frame, error) {
	err := c.readMu.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer c.readMu.Unlock()

	if c.isClosed() {
		return nil, c.closeErr
	}

	stop := context.AfterFunc(ctx, func() {
		c.close(fmt.Errorf("read interrupted: %w", ctx.Err()))
	})
	defer stop()

	p, err := c.readFrame()
	if err != nil {
		if c.isClosed() {
			return nil, c.closeErr
		}
		c.close(err)
		return nil, err
	}

	f, err := Decode(bytes.NewBuffer(p))
	if err != nil {
		c.close(err)
		return nil, err
	}

	c.metrics.frameRead(f.Opcode, len(p))
	if f.Opcode == OpPong {
		c.handlePong(f.Data)
	}
	return f, nil
}

// readFrame reads exactly the bytes of one frame.
func (c *Conn) readFrame() ([]byte, error) {
	h, err := c.br.Peek(2)
	if err != nil {
		if len(h) > 0 {
			return nil, unexpectedEOF(err)
		}
		return nil, err
	}

	h, err = c.br.Peek(headerSize(h[1]))
	if err != nil {
		return nil, unexpectedEOF(err)
	}

	_, length, err := payloadLength(h)
	if err != nil {
		return nil, &DecodeError{err}
	}
	if length > uint64(c.readLimit) {
		return nil, &DecodeError{fmt.Errorf("%w: %v > %v", ErrMessageTooBig, length, c.readLimit)}
	}

	p := make([]byte, len(h)+int(length))
	_, err = io.ReadFull(c.br, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", unexpectedEOF(err))
	}
	return p, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Send writes m as a single text frame.
func (c *Conn) Send(ctx context.Context, m Message) error {
	return c.SendFrame(ctx, m.Frame())
}

// SendText writes s as a single text frame.
func (c *Conn) SendText(ctx context.Context, s string) error {
	return c.Send(ctx, NewMessage(s))
}

// SendBinary writes p as a single binary frame.
func (c *Conn) SendBinary(ctx context.Context, p []byte) error {
	return c.SendFrame(ctx, &Frame{
		Fin:    true,
		Opcode: OpBinary,
		Length: uint64(len(p)),
		Data:   p,
	})
}

var errClosing = errors.New("close frame already sent")

// SendFrame encodes f and writes it to the connection.
// Data frames cannot be sent once a close frame was written.
func (c *Conn) SendFrame(ctx context.Context, f *Frame) (err error) {
	defer errd.Wrap(&err, "failed to send %v frame", f.Opcode)

	c.closeMu.Lock()
	closing := c.wroteClose
	c.closeMu.Unlock()
	if c.isClosed() {
		return c.closeErr
	}
	if closing && !f.Opcode.Control() {
		return errClosing
	}

	return c.writeFrame(ctx, f)
}

func (c *Conn) writeFrame(ctx context.Context, f *Frame) error {
	buf := bpool.Get()
	defer bpool.Put(buf)

	err := Encode(buf, f)
	if err != nil {
		return err
	}

	err = c.writeMu.Lock(ctx)
	if err != nil {
		return err
	}
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return c.closeErr
	}

	stop := context.AfterFunc(ctx, func() {
		c.close(fmt.Errorf("write interrupted: %w", ctx.Err()))
	})
	defer stop()

	_, err = c.rwc.Write(buf.Bytes())
	if err != nil {
		if c.isClosed() {
			return c.closeErr
		}
		err = fmt.Errorf("failed to write frame: %w", err)
		c.close(err)
		return err
	}

	c.metrics.frameWritten(f.Opcode, buf.Len())
	return nil
}

// Ping sends a ping and waits for the matching pong.
// Something must be reading with Next for the pong to be observed,
// which the server's dispatch loop always is.
func (c *Conn) Ping(ctx context.Context) error {
	p := c.pingCounter.Add(1)

	err := c.ping(ctx, strconv.FormatInt(p, 10))
	if err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	return nil
}

func (c *Conn) ping(ctx context.Context, p string) error {
	pong := make(chan struct{}, 1)

	c.activePingsMu.Lock()
	c.activePings[p] = pong
	c.activePingsMu.Unlock()

	defer func() {
		c.activePingsMu.Lock()
		delete(c.activePings, p)
		c.activePingsMu.Unlock()
	}()

	err := c.writeFrame(ctx, controlFrame(OpPing, []byte(p)))
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return c.closeErr
	case <-ctx.Done():
		err := fmt.Errorf("failed to wait for pong: %w", ctx.Err())
		c.close(err)
		return err
	case <-pong:
		return nil
	}
}

func (c *Conn) handlePong(p []byte) {
	c.activePingsMu.Lock()
	defer c.activePingsMu.Unlock()

	pong, ok := c.activePings[string(p)]
	if !ok {
		return
	}
	select {
	case pong <- struct{}{}:
	default:
	}
}

// Close writes a close frame with code and reason and closes the
// underlying stream. It does not wait for the peer's close frame.
//
// The reason must be at most 123 bytes. Codes that cannot be sent on
// the wire result in an empty close frame.
//
// Only the first call has an effect.
func (c *Conn) Close(code StatusCode, reason string) (err error) {
	defer errd.Wrap(&err, "failed to close WebSocket")

	if c.isClosed() {
		return nil
	}

	err = c.writeClose(code, reason)
	c.close(CloseError{Code: code, Reason: reason})
	if errors.Is(err, errAlreadyWroteClose) {
		return nil
	}
	return err
}

var errAlreadyWroteClose = errors.New("already wrote close")

func (c *Conn) writeClose(code StatusCode, reason string) error {
	c.closeMu.Lock()
	wrote := c.wroteClose
	c.wroteClose = true
	c.closeMu.Unlock()
	if wrote {
		return errAlreadyWroteClose
	}

	p, err := closePayload(code, reason)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	return c.writeFrame(ctx, controlFrame(OpClose, p))
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// close records err as the reason the connection is closed and closes
// the stream. Later calls are no-ops.
func (c *Conn) close(err error) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.isClosed() {
		return
	}
	c.closeErr = err
	close(c.closed)
	c.rwc.Close()
}

// closeStatus returns the code and reason reported to OnClose for err.
func closeStatus(err error) (StatusCode, string) {
	var ce CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return StatusAbnormalClosure, ""
}

// mu is a mutex whose Lock can be abandoned with a context.
type mu struct {
	once sync.Once
	ch   chan struct{}
}

func (m *mu) init() {
	m.once.Do(func() {
		m.ch = make(chan struct{}, 1)
	})
}

func (m *mu) Lock(ctx context.Context) error {
	m.init()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.ch <- struct{}{}:
		return nil
	}
}

func (m *mu) Unlock() {
	<-m.ch
}
