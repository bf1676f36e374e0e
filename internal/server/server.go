package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tunebox/tunesync/internal/db"
	"github.com/tunebox/tunesync/internal/storage"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	config *Config
	server *http.Server
	svc    *Services
}

func New(ctx context.Context, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sqlDB, err := db.NewSqliteDB(db.WithPath(config.DBPath()), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	registry, err := storage.NewRegistryFromConfig(ctx, &config.Blob.Storage)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	s, err := NewWithDeps(config, sqlDB, registry)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDeps builds a server around an open database and storage registry
func NewWithDeps(config *Config, sqlDB *sqlx.DB, registry *storage.Registry) (*Server, error) {
	svc, err := NewServices(config, sqlDB, registry)
	if err != nil {
		return nil, err
	}

	handler, err := SetupRoutes(config, svc)
	if err != nil {
		return nil, err
	}

	return &Server{
		config: config,
		svc:    svc,
		server: &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler serves the routes without a listener
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Services exposes the running services
func (s *Server) Services() *Services {
	return s.svc
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	slog.Info("tuneserver start", "addr", s.config.HTTP.Addr, "blobs", s.config.Blob.Root)
	defer slog.Info("tuneserver stop")

	if err := s.svc.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("tuneserver shutdown signal")
	case err := <-errCh:
		if err != nil {
			s.svc.Shutdown(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}

	return s.Stop(context.Background())
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	httpErr := s.server.Shutdown(shutdownCtx)
	svcErr := s.svc.Shutdown(shutdownCtx)
	return errors.Join(httpErr, svcErr)
}

func (s *Server) runHttpServer() error {
	if s.config.HTTP.TLSEnabled() {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
