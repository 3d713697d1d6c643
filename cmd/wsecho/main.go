// Command wsecho runs a WebSocket server that echoes every message back
// to its sender.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/quicksock/websocket"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wsecho: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	addr      string
	httpAddr  string
	tlsCert   string
	tlsKey    string
	readLimit int64
	rate      float64
	burst     int
	debug     bool
}

func rootCmd() *cobra.Command {
	var cfg config

	cmd := &cobra.Command{
		Use:   "wsecho",
		Short: "Run a WebSocket echo server",
		Long: `Run a WebSocket echo server.

Every text and binary message is sent back to the client that sent it.
The raw WebSocket listener serves on --addr. When --http-addr is set,
the same server is mounted at /ws next to /metrics and /healthz.

Examples:
  wsecho --addr=:8080
  wsecho --addr=:8443 --tls-cert=cert.pem --tls-key=key.pem
  wsecho --addr=:8080 --http-addr=:9090 --rate=10 --burst=20`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", ":8080", "Address of the raw WebSocket listener")
	cmd.Flags().StringVar(&cfg.httpAddr, "http-addr", "", "Address of the HTTP server with /ws, /metrics and /healthz")
	cmd.Flags().StringVar(&cfg.tlsCert, "tls-cert", "", "TLS certificate file for --addr")
	cmd.Flags().StringVar(&cfg.tlsKey, "tls-key", "", "TLS key file for --addr")
	cmd.Flags().Int64Var(&cfg.readLimit, "read-limit", websocket.DefaultReadLimit, "Largest frame payload accepted from clients")
	cmd.Flags().Float64Var(&cfg.rate, "rate", 0, "Messages per second handled per connection, 0 for no limit")
	cmd.Flags().IntVar(&cfg.burst, "burst", 1, "Message burst allowed per connection with --rate")
	cmd.Flags().BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	return cmd
}

func run(ctx context.Context, cfg config) error {
	if (cfg.tlsCert == "") != (cfg.tlsKey == "") {
		return errors.New("--tls-cert and --tls-key must be set together")
	}

	log := slog.Make(sloghuman.Sink(os.Stderr))
	if cfg.debug {
		log = log.Leveled(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := websocket.NewMetrics(nil)
	s := websocket.NewServer(newEchoHandler, &websocket.ServerOptions{
		Logger:       &log,
		ReadLimit:    cfg.readLimit,
		MessageRate:  rate.Limit(cfg.rate),
		MessageBurst: cfg.burst,
		Metrics:      metrics,
	})

	errs := make(chan error, 2)
	go func() {
		if cfg.tlsCert != "" {
			errs <- s.ListenAndServeTLS(context.Background(), cfg.addr, cfg.tlsCert, cfg.tlsKey)
			return
		}
		errs <- s.ListenAndServe(context.Background(), cfg.addr)
	}()

	var hs *http.Server
	if cfg.httpAddr != "" {
		hs = &http.Server{
			Addr:              cfg.httpAddr,
			Handler:           newRouter(s),
			ReadHeaderTimeout: websocket.DefaultHandshakeTimeout,
		}
		go func() {
			log.Info(ctx, "serving http", slog.F("addr", cfg.httpAddr))
			errs <- hs.ListenAndServe()
		}()
	}

	select {
	case err := <-errs:
		s.Close()
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if hs != nil {
		hs.Shutdown(shutdownCtx)
	}
	return s.Shutdown(shutdownCtx)
}
