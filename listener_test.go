package websocket

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cdr.dev/slog/sloggers/slogtest"
	gws "github.com/gorilla/websocket"

	"github.com/quicksock/websocket/internal/test/assert"
	"github.com/quicksock/websocket/internal/xsync"
)

// writeTestCert writes a self signed certificate for 127.0.0.1 and its
// key to dir.
func writeTestCert(t *testing.T, dir string) (certFile, keyFile string, pool *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.Success(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	assert.Success(t, err)
	cert, err := x509.ParseCertificate(der)
	assert.Success(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	assert.Success(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	err = os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600)
	assert.Success(t, err)
	err = os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600)
	assert.Success(t, err)

	pool = x509.NewCertPool()
	pool.AddCert(cert)
	return certFile, keyFile, pool
}

func TestLoadTLSConfig(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		certFile, keyFile, _ := writeTestCert(t, t.TempDir())
		cfg, err := LoadTLSConfig(certFile, keyFile)
		assert.Success(t, err)
		assert.Equal(t, "certificates", 1, len(cfg.Certificates))
		assert.Equal(t, "min version", uint16(tls.VersionTLS12), cfg.MinVersion)
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		_, err := LoadTLSConfig(filepath.Join(dir, "nope.pem"), filepath.Join(dir, "nope.key"))
		assert.Error(t, err)
	})
}

func TestListenTLS(t *testing.T) {
	t.Parallel()

	certFile, keyFile, pool := writeTestCert(t, t.TempDir())
	cfg, err := LoadTLSConfig(certFile, keyFile)
	assert.Success(t, err)

	l, err := ListenTLS("127.0.0.1:0", cfg)
	assert.Success(t, err)

	log := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	r := newRecorder()
	r.onMessage = func(ctx context.Context, c *Conn, m Message) {
		c.Send(ctx, m)
	}
	s := NewServer(r.handler, &ServerOptions{Logger: &log})
	errs := xsync.Go(func() error {
		return s.Serve(context.Background(), l)
	})
	defer func() {
		s.Close()
		assert.ErrorIs(t, ErrServerClosed, <-errs)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d := &gws.Dialer{TLSClientConfig: &tls.Config{RootCAs: pool}}
	c, _, err := d.DialContext(ctx, "wss://"+l.Addr().String()+"/secure", nil)
	assert.Success(t, err)
	defer c.Close()

	assert.Equal(t, "route", "/secure", recv(t, r.routes))

	err = c.WriteMessage(gws.TextMessage, []byte("over tls"))
	assert.Success(t, err)
	_, p, err := c.ReadMessage()
	assert.Success(t, err)
	assert.Equal(t, "echo", "over tls", string(p))
}

func TestNewListener(t *testing.T) {
	t.Parallel()

	nl, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Success(t, err)

	l := NewListener(nl)
	assert.Equal(t, "addr", nl.Addr().String(), l.Addr().String())

	errs := xsync.Go(func() error {
		rwc, err := l.Accept()
		if err != nil {
			return err
		}
		return rwc.Close()
	})

	nc, err := net.Dial("tcp", nl.Addr().String())
	assert.Success(t, err)
	nc.Close()
	assert.Success(t, <-errs)

	assert.Success(t, l.Close())
	_, err = l.Accept()
	assert.ErrorIs(t, net.ErrClosed, err)
}
