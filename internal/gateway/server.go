// Package gateway carries the HTTP surfaces of the system: the kernel API
// (task submission) and the sandbox runner service (/run). Both share the
// same server shell with Bearer auth and graceful shutdown.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrInvalidPort is returned when the configured port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// Server binds one handler to one port and serves it until shutdown.
type Server struct {
	port        int
	server      *http.Server
	addr        string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex
	listener    net.Listener
}

// NewServer wraps handler with Bearer auth (when token is non-empty) and
// prepares it to listen on port. Port 0 means pick a random port.
func NewServer(port int, token string, handler http.Handler) (*Server, error) {
	if port < 0 || port > 65535 {
		return nil, ErrInvalidPort
	}
	return &Server{
		port: port,
		server: &http.Server{
			Handler:           BearerAuth(token)(handler),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Addr returns the bound address (e.g. "127.0.0.1:8000") after Run has
// started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run(), if any. Used
// when Addr() is still empty after Run() has been started.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the wrapped HTTP handler. For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force
// Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// Run listens on the configured port and serves until shutdown is closed.
// Returns nil on a clean shutdown.
func (s *Server) Run(shutdown <-chan struct{}) error {
	addr := ":" + strconv.Itoa(s.port)
	ln, err := netListen("tcp", addr)
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := serverShutdown(s.server, ctx); err != nil {
		return err
	}
	<-done
	return nil
}

// serverShutdown is the function used to shut down the server; tests may
// replace it.
var serverShutdown = func(srv *http.Server, ctx context.Context) error {
	return srv.Shutdown(ctx)
}
