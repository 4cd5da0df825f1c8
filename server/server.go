// Package server exposes the compiler to editors and browsers: an LSP
// server over stdio and a Connect playground over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/chazu/moonshine/pkg/driver"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("moonshine.server")

// Server is the playground HTTP server. It serves the Connect and gRPC
// protocols with a CBOR codec on the same port, the latter over
// unencrypted HTTP/2.
type Server struct {
	worker *Worker
	runs   *RunStore
	mux    *http.ServeMux

	stopSweeper func()
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	maxSteps  int64
	maxOutput int
	timeout   time.Duration
	runTTL    time.Duration
}

// WithStepLimit caps the steps of every run. Requests may lower it.
func WithStepLimit(n int64) ServerOption {
	return func(c *serverConfig) { c.maxSteps = n }
}

// WithOutputLimit caps the bytes of output kept per run.
func WithOutputLimit(n int) ServerOption {
	return func(c *serverConfig) { c.maxOutput = n }
}

// WithTimeout bounds the wall time of every run.
func WithTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.timeout = d }
}

// WithRunTTL sets how long finished runs stay retrievable after their last
// access.
func WithRunTTL(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.runTTL = d }
}

// New creates a Server compiling with d.
func New(d *driver.Driver, opts ...ServerOption) *Server {
	cfg := &serverConfig{
		maxSteps:  d.Manifest.Run.MaxSteps,
		maxOutput: defaultOutputSize,
		timeout:   10 * time.Second,
		runTTL:    30 * time.Minute,
	}
	if cfg.maxSteps == 0 {
		cfg.maxSteps = 100_000_000
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewWorker(d)
	runs := NewRunStore()

	s := &Server{
		worker: worker,
		runs:   runs,
		mux:    http.NewServeMux(),
	}
	NewPlayground(worker, runs, cfg).handlers(s.mux)

	// Sweep every 5 minutes
	s.stopSweeper = runs.StartSweeper(5*time.Minute, cfg.runTTL)

	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address and shuts it
// down gracefully when ctx is done. The address should be in the form
// "host:port" or ":port".
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{Addr: addr, Handler: s.mux, Protocols: protocols()}
	errc := make(chan error, 1)
	go func() {
		log.Noticef("playground listening on %s", addr)
		log.Noticef("  Connect (CBOR): http://%s%s", addr, RunProcedure)
		log.Noticef("  gRPC (CBOR, h2c): %s", addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		log.Notice("shutting down")
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdown)
	}
}

// protocols accepts HTTP/1 and prior-knowledge HTTP/2 without TLS. gRPC
// clients need the latter on a plaintext port.
func protocols() *http.Protocols {
	p := new(http.Protocols)
	p.SetHTTP1(true)
	p.SetUnencryptedHTTP2(true)
	return p
}

// Stop shuts down the server.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.worker.Stop()
}
