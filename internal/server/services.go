package server

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tunebox/tunesync/internal/server/accesslog"
	"github.com/tunebox/tunesync/internal/server/auth"
	"github.com/tunebox/tunesync/internal/server/blob"
	"github.com/tunebox/tunesync/internal/storage"
)

type Services struct {
	Blob      *blob.BlobService
	Auth      *auth.AuthService
	MasterKey []byte
	// AccessLog is nil when disabled
	AccessLog *accesslog.AccessLogger
}

func NewServices(config *Config, db *sqlx.DB, registry *storage.Registry) (*Services, error) {
	index, err := blob.NewBlobIndex(db)
	if err != nil {
		return nil, err
	}

	svc := &Services{
		Blob:      blob.NewBlobService(registry, config.Blob.Root, index),
		Auth:      auth.NewAuthService(&config.Auth),
		MasterKey: config.masterKey(),
	}
	if config.AccessLog {
		svc.AccessLog, err = accesslog.New(config.AccessLogDir())
		if err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *Services) Start(ctx context.Context) error {
	if err := s.Blob.Start(ctx); err != nil {
		return fmt.Errorf("start blob service: %w", err)
	}
	return nil
}

func (s *Services) Shutdown(ctx context.Context) error {
	if err := s.Blob.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop blob service: %w", err)
	}
	if s.AccessLog != nil {
		if err := s.AccessLog.Close(); err != nil {
			return fmt.Errorf("close access log: %w", err)
		}
	}
	return nil
}
