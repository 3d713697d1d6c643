package websocket

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
)

// Listener yields accepted duplex byte streams.
// Each stream is handed to the server which performs the handshake.
type Listener interface {
	Accept() (io.ReadWriteCloser, error)
	Close() error
	Addr() net.Addr
}

type netListener struct {
	l net.Listener
}

// NewListener adapts a net.Listener.
// If l is a TLS listener, the TLS handshake of every accepted
// connection is run by the server before the WebSocket handshake.
func NewListener(l net.Listener) Listener {
	return netListener{l: l}
}

func (l netListener) Accept() (io.ReadWriteCloser, error) {
	return l.l.Accept()
}

func (l netListener) Close() error {
	return l.l.Close()
}

func (l netListener) Addr() net.Addr {
	return l.l.Addr()
}

// Listen binds a plain TCP listener to addr.
func Listen(addr string) (Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %v: %w", addr, err)
	}
	return NewListener(l), nil
}

// ListenTLS binds a TCP listener to addr whose connections are
// secured with cfg.
func ListenTLS(addr string, cfg *tls.Config) (Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %v: %w", addr, err)
	}
	return NewListener(tls.NewListener(l, cfg)), nil
}

// LoadTLSConfig loads a PEM encoded certificate and key pair into a
// server TLS configuration.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
