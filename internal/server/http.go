package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server is the HTTP server for the simulation API.
type Server struct {
	mux     *http.ServeMux
	handler *Handlers
	metrics http.Handler
	addr    string
	logger  *zap.Logger
	srv     *http.Server
}

// NewServer creates a new HTTP server. metrics serves /metrics.
func NewServer(addr string, handler *Handlers, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mux:     http.NewServeMux(),
		handler: handler,
		metrics: metrics,
		addr:    addr,
		logger:  logger,
	}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	// API routes
	s.mux.HandleFunc("/api/transmit", s.handler.HandleTransmit)
	s.mux.HandleFunc("/api/quality", s.handler.HandleQuality)
	s.mux.HandleFunc("/api/status", s.handler.HandleStatus)
	s.mux.HandleFunc("/api/devices", s.handler.HandleDevices)
	s.mux.HandleFunc("/api/play", s.handler.HandlePlay)
	s.mux.HandleFunc("/healthz", s.handler.HandleHealth)

	// WebSocket
	s.mux.HandleFunc("/ws", s.handler.HandleWebSocket)

	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
