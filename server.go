package websocket

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/quicksock/websocket/internal/errd"
)

// DefaultHandshakeTimeout bounds the TLS and WebSocket handshakes of a
// connection accepted by Serve.
const DefaultHandshakeTimeout = 10 * time.Second

// ErrServerClosed is returned by Serve and ServeConn after Close or
// Shutdown.
var ErrServerClosed = errors.New("websocket: server closed")

// ServerOptions configures a Server.
// A nil *ServerOptions uses the defaults of every field.
type ServerOptions struct {
	// Logger defaults to a human readable logger on stderr.
	Logger *slog.Logger

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// MaxHeaderBytes bounds the handshake request.
	// Defaults to DefaultMaxHeaderBytes.
	MaxHeaderBytes int

	// ReadLimit is the largest frame payload accepted from a client.
	// Defaults to DefaultReadLimit.
	ReadLimit int64

	// MessageRate limits the data messages per second delivered to the
	// handler of each connection. Messages over the limit wait.
	// Zero disables the limit.
	MessageRate rate.Limit
	// MessageBurst defaults to 1 when MessageRate is set.
	MessageBurst int

	// Metrics is updated when set.
	Metrics *Metrics

	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
}

func (opts *ServerOptions) cloneWithDefaults() *ServerOptions {
	var o ServerOptions
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		l := slog.Make(sloghuman.Sink(os.Stderr))
		o.Logger = &l
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.MaxHeaderBytes <= 0 {
		o.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.MessageRate > 0 && o.MessageBurst <= 0 {
		o.MessageBurst = 1
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
	return &o
}

// Server accepts WebSocket connections and dispatches their frames to
// handlers.
//
// Every connection runs in its own goroutine and gets its own Handler
// from the newHandler function passed to NewServer.
type Server struct {
	newHandler func(*Conn) Handler
	opts       *ServerOptions
	log        slog.Logger
	tracer     trace.Tracer

	mu        sync.Mutex
	closing   bool
	listeners map[Listener]struct{}
	conns     map[*Conn]struct{}
}

// NewServer returns a Server calling newHandler for every accepted
// connection.
func NewServer(newHandler func(*Conn) Handler, opts *ServerOptions) *Server {
	opts = opts.cloneWithDefaults()
	return &Server{
		newHandler: newHandler,
		opts:       opts,
		log:        opts.Logger.Named("websocket"),
		tracer:     opts.TracerProvider.Tracer("github.com/quicksock/websocket"),
		listeners:  make(map[Listener]struct{}),
		conns:      make(map[*Conn]struct{}),
	}
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// ListenAndServeTLS is like ListenAndServe but serves TLS with the
// given certificate and key files.
func (s *Server) ListenAndServeTLS(ctx context.Context, addr, certFile, keyFile string) error {
	cfg, err := LoadTLSConfig(certFile, keyFile)
	if err != nil {
		return err
	}
	l, err := ListenTLS(addr, cfg)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections from l and serves each in a new goroutine.
//
// Accept errors are logged and retried with backoff. Serve closes l and
// returns when ctx is done, when l is closed or when the server is
// closed, in which case it returns ErrServerClosed.
func (s *Server) Serve(ctx context.Context, l Listener) error {
	if !s.trackListener(l, true) {
		l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(l, false)

	stop := context.AfterFunc(ctx, func() {
		l.Close()
	})
	defer stop()

	log := s.log
	if addr := l.Addr(); addr != nil {
		log = log.With(slog.F("addr", addr.String()))
	}
	log.Info(ctx, "accepting connections")

	var delay time.Duration
	for {
		rwc, err := l.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			s.opts.Metrics.acceptError()
			delay = backoff(delay)
			log.Warn(ctx, "failed to accept connection", slog.Error(err), slog.F("retry_in", delay))

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		delay = 0

		go s.ServeConn(ctx, rwc)
	}
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// ServeConn performs the handshake on rwc and serves the connection
// until it closes. It always closes rwc.
//
// A connection that fails the handshake never reaches a handler.
// A connection closed with a close frame or by the client hanging up
// returns nil.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) (err error) {
	defer errd.Wrap(&err, "failed to serve connection")

	c, err := s.upgrade(ctx, rwc)
	if err != nil {
		rwc.Close()
		s.opts.Metrics.handshakeError()
		s.log.Debug(ctx, "handshake failed", slog.Error(err))
		return err
	}
	return s.serve(ctx, c)
}

func (s *Server) upgrade(ctx context.Context, rwc io.ReadWriteCloser) (*Conn, error) {
	if s.isClosing() {
		return nil, ErrServerClosed
	}

	stop := context.AfterFunc(ctx, func() {
		rwc.Close()
	})
	defer stop()

	if d, ok := rwc.(interface{ SetDeadline(time.Time) error }); ok {
		d.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
		defer d.SetDeadline(time.Time{})
	}

	if tc, ok := rwc.(*tls.Conn); ok {
		ctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
		defer cancel()

		err := tc.HandshakeContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
	}

	req, rest, err := handshake(rwc, s.opts.MaxHeaderBytes)
	if err != nil {
		return nil, err
	}

	var r io.Reader = rwc
	if len(rest) > 0 {
		r = io.MultiReader(bytes.NewReader(rest), rwc)
	}
	return s.newConn(req.URL.Path, rwc, bufio.NewReader(r)), nil
}

func (s *Server) newConn(route string, rwc io.ReadWriteCloser, br *bufio.Reader) *Conn {
	return newConn(connConfig{
		route:     route,
		rwc:       rwc,
		br:        br,
		readLimit: s.opts.ReadLimit,
		metrics:   s.opts.Metrics,
	})
}
