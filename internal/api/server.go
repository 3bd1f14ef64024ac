package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/zjrosen/tabtree/internal/log"
)

// Server wraps the Handler with an http.Server for lifecycle management.
type Server struct {
	server   *http.Server
	listener net.Listener
	port     int // actual port after binding (useful with :0)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g. "localhost:17345").
	Addr    string
	Handler HandlerConfig
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
}

// NewServer binds the listener and builds the server. If Addr uses port 0
// the OS assigns one; Port reports it.
func NewServer(cfg ServerConfig) (*Server, error) {
	handler := NewHandler(cfg.Handler)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	server := &http.Server{
		Handler:           handler.Routes(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: /events streams indefinitely.
	}
	server.RegisterOnShutdown(handler.Close)

	return &Server{
		port:     port,
		listener: listener,
		server:   server,
	}, nil
}

// Start serves until Stop. It returns http.ErrServerClosed after a clean stop.
func (s *Server) Start() error {
	log.Info(log.CatAPI, "Starting API server", "addr", s.listener.Addr().String(), "port", s.port)
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatAPI, "Stopping API server")
	return s.server.Shutdown(ctx)
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
