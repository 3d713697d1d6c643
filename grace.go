package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"
)

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) trackListener(l Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closing {
			return false
		}
		s.listeners[l] = struct{}{}
	} else {
		delete(s.listeners, l)
	}
	return true
}

func (s *Server) trackConn(c *Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closing {
			return false
		}
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	return true
}

// stopAccepting marks the server as closing and closes its listeners.
// Must be called with s.mu held.
func (s *Server) stopAccepting() {
	s.closing = true
	for l := range s.listeners {
		l.Close()
		delete(s.listeners, l)
	}
}

// Close closes all listeners and closes every open connection with
// StatusGoingAway. Connections upgraded afterwards are closed the
// same way.
func (s *Server) Close() error {
	s.mu.Lock()
	s.stopAccepting()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.Close(StatusGoingAway, "server shutting down")
		}(c)
	}
	wg.Wait()

	return nil
}

// Shutdown closes all listeners and waits until every connection has
// ended. If ctx is done first, the remaining connections are closed
// with StatusGoingAway.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()

	s.mu.Lock()
	s.stopAccepting()
	s.mu.Unlock()

	// Same poll period used by net/http.
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		if s.zeroConns() {
			return nil
		}

		select {
		case <-t.C:
		case <-ctx.Done():
			return fmt.Errorf("failed to shutdown WebSockets: %w", ctx.Err())
		}
	}
}

func (s *Server) zeroConns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns) == 0
}
