package websocket

import (
	"context"
	"errors"
	"io"
	"net"

	"cdr.dev/slog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/quicksock/websocket/internal/xsync"
)

// serve runs the open state of c until the connection ends.
func (s *Server) serve(ctx context.Context, c *Conn) error {
	if !s.trackConn(c, true) {
		c.Close(StatusGoingAway, "server shutting down")
		return ErrServerClosed
	}
	defer s.trackConn(c, false)

	ctx, span := s.tracer.Start(ctx, "websocket.conn",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("websocket.route", c.Route()),
			attribute.String("net.peer.addr", addrString(c.RemoteAddr())),
		),
	)
	defer span.End()

	d := &dispatcher{
		c:       c,
		metrics: s.opts.Metrics,
		log: s.log.With(
			slog.F("route", c.Route()),
			slog.F("remote_addr", addrString(c.RemoteAddr())),
		),
	}
	if s.opts.MessageRate > 0 {
		d.limiter = rate.NewLimiter(s.opts.MessageRate, s.opts.MessageBurst)
	}

	s.opts.Metrics.connOpened()
	d.log.Debug(ctx, "connection opened")

	code, reason := StatusInternalError, "internal error"
	err := d.call(ctx, func() {
		d.h = s.newHandler(c)
	})
	if err == nil {
		err = d.run(ctx)
		code, reason = closeStatus(err)
	}

	s.opts.Metrics.connClosed(code)
	span.SetAttributes(attribute.Int("websocket.close_code", int(code)))
	d.log.Debug(ctx, "connection closed",
		slog.F("code", code),
		slog.F("reason", reason),
		slog.Error(err),
	)

	var ce CloseError
	if errors.As(err, &ce) || errors.Is(err, io.EOF) {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type dispatcher struct {
	c       *Conn
	h       Handler
	log     slog.Logger
	limiter *rate.Limiter
	metrics *Metrics
}

// run delivers the frames of the connection to the handler and returns
// the error that ended the connection. OnClose is called exactly once.
//
// Every way a connection ends goes through Conn.close, so the error
// returned by Next after it carries the status reported to OnClose.
func (d *dispatcher) run(ctx context.Context) error {
	d.call(ctx, func() {
		d.h.OnOpen(ctx)
	})

	for {
		f, err := d.c.Next(ctx)
		if err != nil {
			code, reason := closeStatus(err)
			d.call(ctx, func() {
				d.h.OnClose(ctx, code, reason)
			})
			return err
		}
		d.handle(ctx, f)
	}
}

func (d *dispatcher) handle(ctx context.Context, f *Frame) {
	switch f.Opcode {
	case OpText:
		if !d.wait(ctx) {
			return
		}
		d.call(ctx, func() {
			d.h.OnMessage(ctx, MessageFromFrame(f))
		})
	case OpBinary:
		bh, ok := d.h.(BinaryHandler)
		if !ok {
			d.log.Debug(ctx, "dropping binary frame", slog.F("len", len(f.Data)))
			return
		}
		if !d.wait(ctx) {
			return
		}
		d.call(ctx, func() {
			bh.OnBinary(ctx, f.Data)
		})
	case OpClose:
		code := f.Code
		if f.Length == 0 {
			code = StatusNoStatusRcvd
		}
		err := d.c.writeClose(code, "")
		if err != nil && !errors.Is(err, errAlreadyWroteClose) {
			d.log.Debug(ctx, "failed to echo close frame", slog.Error(err))
		}
		d.c.close(CloseError{Code: code, Reason: f.Message})
	case OpPing:
		err := d.c.writeFrame(ctx, controlFrame(OpPong, f.Data))
		if err != nil {
			d.log.Debug(ctx, "failed to write pong", slog.Error(err))
		}
	case OpPong:
	default:
		d.log.Debug(ctx, "ignoring frame", slog.F("opcode", f.Opcode), slog.F("fin", f.Fin))
	}
}

// wait blocks until the rate limiter admits a message.
func (d *dispatcher) wait(ctx context.Context) bool {
	if d.limiter == nil {
		return true
	}
	err := d.limiter.Wait(ctx)
	if err != nil {
		d.c.close(err)
		return false
	}
	return true
}

// call runs a handler callback. A panic is logged and closes the
// connection with StatusInternalError.
func (d *dispatcher) call(ctx context.Context, fn func()) error {
	err := xsync.Call(func() error {
		fn()
		return nil
	})
	if err != nil {
		d.metrics.handlerPanic()
		d.log.Error(ctx, "handler panicked", slog.Error(err))
		d.c.Close(StatusInternalError, "internal error")
	}
	return err
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
