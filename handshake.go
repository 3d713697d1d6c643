package websocket

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// DefaultMaxHeaderBytes bounds the size of the handshake request.
const DefaultMaxHeaderBytes = 8192

// Errors wrapped by HandshakeError.
var (
	ErrMissingHandshakeKey = errors.New("missing Sec-WebSocket-Key")
	ErrRequestTooLarge     = errors.New("handshake request exceeds maximum header size")
	ErrBadRequest          = errors.New("request is not a WebSocket upgrade")
)

// HandshakeError is returned when the opening handshake fails.
// The connection is dropped without any handler callback.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// AcceptKey returns the Sec-WebSocket-Accept value for the client's
// Sec-WebSocket-Key.
// See https://tools.ietf.org/html/rfc6455#section-4.2.2
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write(keyGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

var headerEnd = []byte("\r\n\r\n")

// handshake performs the server side of the opening handshake on rw.
// It returns the parsed request and any bytes the client sent after it.
func handshake(rw io.ReadWriter, maxHeaderBytes int) (_ *http.Request, _ []byte, err error) {
	defer func() {
		if err != nil {
			err = &HandshakeError{err}
		}
	}()

	head, rest, err := readRequestHead(rw, maxHeaderBytes)
	if errors.Is(err, ErrRequestTooLarge) {
		writeHTTPError(rw, http.StatusRequestHeaderFieldsTooLarge, err)
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, err
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(head)))
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrBadRequest, err)
		writeHTTPError(rw, http.StatusBadRequest, err)
		return nil, nil, err
	}

	err = verifyClientRequest(req)
	if err != nil {
		writeHTTPError(rw, http.StatusBadRequest, err)
		return nil, nil, err
	}

	_, err = io.WriteString(rw, switchingProtocols(req))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write handshake response: %w", err)
	}
	return req, rest, nil
}

// readRequestHead reads from r until the blank line ending the request
// headers. It never returns more than max bytes of head.
func readRequestHead(r io.Reader, max int) (head, rest []byte, err error) {
	buf := make([]byte, 0, 1024)
	chunk := make([]byte, 1024)
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)

		if i := bytes.Index(buf, headerEnd); i >= 0 {
			end := i + len(headerEnd)
			if end > max {
				return nil, nil, ErrRequestTooLarge
			}
			return buf[:end], buf[end:], nil
		}
		if len(buf) >= max {
			return nil, nil, ErrRequestTooLarge
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, nil, fmt.Errorf("failed to read request: %w", err)
		}
	}
}

func verifyClientRequest(r *http.Request) error {
	if r.Method != http.MethodGet {
		return fmt.Errorf("%w: handshake request method %q is not GET", ErrBadRequest, r.Method)
	}

	if !headerValuesContainsToken(r.Header, "Connection", "Upgrade") {
		return fmt.Errorf("%w: Connection header %q does not contain Upgrade", ErrBadRequest, r.Header.Get("Connection"))
	}

	if !headerValuesContainsToken(r.Header, "Upgrade", "websocket") {
		return fmt.Errorf("%w: Upgrade header %q does not contain websocket", ErrBadRequest, r.Header.Get("Upgrade"))
	}

	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return fmt.Errorf("%w: unsupported protocol version %q", ErrBadRequest, r.Header.Get("Sec-WebSocket-Version"))
	}

	if strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key")) == "" {
		return ErrMissingHandshakeKey
	}

	return nil
}

func headerValuesContainsToken(h http.Header, key, val string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)
	return httpguts.HeaderValuesContainsToken(h[key], val)
}

func switchingProtocols(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	return "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n" +
		"\r\n"
}

// writeHTTPError writes a plain text error response. Write errors are
// ignored as the connection is dropped right after.
func writeHTTPError(w io.Writer, code int, err error) {
	body := err.Error() + "\n"
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n"+
		"\r\n%s", code, http.StatusText(code), len(body), body)
}
