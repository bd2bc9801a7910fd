// Package server exposes a hub Manager over HTTP and websocket.
//
// The request API listens on the base port; the push channel listens on the
// next port up. Both listeners share one Manager.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vinayprograms/objecthub/errors"
	"github.com/vinayprograms/objecthub/hub"
	"github.com/vinayprograms/objecthub/logging"
	"github.com/vinayprograms/objecthub/telemetry"
	"github.com/vinayprograms/objecthub/transport"
)

// Config configures a Server.
type Config struct {
	// Addr is the request API listen address.
	Addr string

	// WSAddr is the websocket listen address.
	WSAddr string

	// WebSocket configures each push connection.
	WebSocket transport.WebSocketConfig

	// ReadHeaderTimeout bounds request header reads. Default: 5s
	ReadHeaderTimeout time.Duration
}

// Server runs the request API and the websocket endpoint.
type Server struct {
	m      *hub.Manager
	config Config
	log    *logging.Logger
	tracer *telemetry.Tracer

	api *http.Server
	ws  *http.Server

	mu      sync.Mutex
	apiAddr net.Addr
	wsAddr  net.Addr

	// connCtx ends every websocket connection when cancelled.
	connCtx    context.Context
	connCancel context.CancelFunc
	conns      sync.WaitGroup
}

// New creates a server for m.
func New(m *hub.Manager, cfg Config, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.WebSocket == (transport.WebSocketConfig{}) {
		cfg.WebSocket = transport.DefaultWebSocketConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		m:          m,
		config:     cfg,
		log:        log,
		tracer:     telemetry.GetTracer(),
		connCtx:    ctx,
		connCancel: cancel,
	}
	s.api = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	s.ws = &http.Server{
		Handler:           s.WSHandler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Start binds both listeners and serves them in the background.
func (s *Server) Start() error {
	apiLn, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "listening for requests on "+s.config.Addr)
	}
	wsLn, err := net.Listen("tcp", s.config.WSAddr)
	if err != nil {
		apiLn.Close()
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "listening for websockets on "+s.config.WSAddr)
	}

	s.mu.Lock()
	s.apiAddr = apiLn.Addr()
	s.wsAddr = wsLn.Addr()
	s.mu.Unlock()

	s.log.Info("listening", map[string]interface{}{
		"api":       apiLn.Addr().String(),
		"websocket": wsLn.Addr().String(),
		"read_only": s.m.ReadOnly(),
	})

	go s.serve(s.api, apiLn, "api")
	go s.serve(s.ws, wsLn, "websocket")
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, name string) {
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		s.log.Error("listener failed", map[string]interface{}{
			"listener": name,
			"error":    err.Error(),
		})
	}
}

// APIAddr returns the bound request API address, nil before Start.
func (s *Server) APIAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiAddr
}

// WSAddr returns the bound websocket address, nil before Start.
func (s *Server) WSAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wsAddr
}

// Shutdown stops both listeners and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.api.Shutdown(ctx), s.ws.Shutdown(ctx))
}

// CloseConnections ends every websocket connection and waits until each has
// detached or ctx is done.
func (s *Server) CloseConnections(ctx context.Context) error {
	s.connCancel()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "closing websocket connections")
	}
}
