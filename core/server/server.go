package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrymomot/certflow/core/logger"
)

// Server runs the operational HTTP endpoints (metrics and health probes)
// next to the workers.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New validates cfg and creates a Server.
func New(cfg Config, log *slog.Logger) (*Server, error) {
	if cfg.Addr == "" {
		return nil, ErrMissingAddress
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{cfg: cfg, logger: log.With(logger.Component("ops-server"))}, nil
}

// Addr returns the bound address once the server listens, or the configured
// one before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Run returns an errgroup function that serves handler until ctx is
// canceled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, handler http.Handler) func() error {
	return func() error {
		s.mu.Lock()
		if s.server != nil {
			s.mu.Unlock()
			return ErrServerAlreadyRunning
		}
		ln, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		srv := &http.Server{
			Handler:      handler,
			ReadTimeout:  s.cfg.ReadTimeout,
			WriteTimeout: s.cfg.WriteTimeout,
			IdleTimeout:  s.cfg.IdleTimeout,
			BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		}
		s.server, s.listener = srv, ln
		s.mu.Unlock()

		errCh := make(chan error, 1)
		go func() {
			s.logger.InfoContext(ctx, "ops server listening", slog.String("addr", ln.Addr().String()))
			errCh <- srv.Serve(ln)
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.ErrorContext(shutdownCtx, "ops server shutdown failed", logger.Error(err))
			return err
		}
		<-errCh
		s.logger.InfoContext(shutdownCtx, "ops server stopped")
		return nil
	}
}
