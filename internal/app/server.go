package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/samvad-hq/homefeed-crawler/internal/api"
	"github.com/samvad-hq/homefeed-crawler/internal/config"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
	"github.com/samvad-hq/homefeed-crawler/pkg/providers"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP runtime exposing the crawl API for the configured stream provider.
type Server struct {
	srv *http.Server
	log logger.Logger
}

// NewServer resolves the stream provider and builds the HTTP handler.
func NewServer(cfg *config.Config, log logger.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)

	providerReg, err := loadProviders(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("load providers registry: %w", err)
	}
	provider, ok := providerReg.ByID(cfg.StreamProvider)
	if !ok {
		return nil, fmt.Errorf("stream provider %q not found in %s", cfg.StreamProvider, cfg.ProvidersFile)
	}
	fetcher, err := providers.DefaultFetcherRegistry(nil, fetchOptions(cfg)).FetcherFor(provider)
	if err != nil {
		return nil, fmt.Errorf("resolve fetcher for %s: %w", provider.ID, err)
	}

	handler := api.New(fetcher, provider, api.Options{
		DefaultMaxPages:    cfg.MaxPages,
		MaxPagesLimit:      cfg.MaxPagesLimit,
		EmptyPageThreshold: cfg.EmptyPageThreshold,
		Heartbeat:          cfg.Heartbeat,
		CORSAllowOrigin:    cfg.CORSAllowOrigin,
	}, log)

	return &Server{
		srv: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}, nil
}

// Handler exposes the routed handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// Every request context derives from ctx, so open streams (hijacked
// websockets included) stop crawling as soon as ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoObj("http server listening", "http_server", map[string]any{"addr": ln.Addr().String()})
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.InfoObj("http server shutting down", "http_server", map[string]any{"addr": ln.Addr().String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		_ = s.srv.Close()
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
