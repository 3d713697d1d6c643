package websocket

import (
	"errors"
	"net/http"
	"time"

	"cdr.dev/slog"
)

// ServeHTTP upgrades an HTTP request to a WebSocket connection and
// serves it until it closes, so a Server can be mounted on any
// net/http router.
//
// Requests that are not valid WebSocket handshakes get a 400 response.
// ServeHTTP returns once the connection has ended.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	err := verifyClientRequest(r)
	if err != nil {
		s.opts.Metrics.handshakeError()
		s.log.Debug(ctx, "handshake failed", slog.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.isClosing() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	netConn, brw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		s.log.Error(ctx, "failed to hijack connection", slog.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	// Deadlines set by the http.Server must not apply to the WebSocket.
	netConn.SetDeadline(time.Time{})

	_, err = brw.WriteString(switchingProtocols(r))
	if err == nil {
		err = brw.Flush()
	}
	if err != nil {
		netConn.Close()
		s.opts.Metrics.handshakeError()
		s.log.Debug(ctx, "failed to write handshake response", slog.Error(err))
		return
	}

	route := r.URL.Path
	c := s.newConn(route, netConn, brw.Reader)
	err = s.serve(ctx, c)
	if err != nil && !errors.Is(err, ErrServerClosed) {
		s.log.Debug(ctx, "connection ended with error", slog.Error(err))
	}
}
