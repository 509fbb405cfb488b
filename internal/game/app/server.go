package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Server hosts the session service over HTTP.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
}

// New creates a server listening on the given TCP port.
func New(port int, handler http.Handler) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port), handler)
}

// NewWithAddr creates a server listening on an explicit address, which is
// useful for tests that want an ephemeral port.
func NewWithAddr(addr string, handler http.Handler) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: handler},
	}, nil
}

// Addr reports the bound listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Run builds a server on port and serves until ctx is canceled.
func Run(ctx context.Context, port int, handler http.Handler) error {
	srv, err := New(port, handler)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve blocks until ctx is canceled or the listener fails, then shuts the
// HTTP server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("session server listening at %v", s.listener.Addr())
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown session server: %w", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve session server: %w", err)
		}
		return nil
	}
}
