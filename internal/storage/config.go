package storage

import (
	"context"
	"fmt"
)

// Config selects the optional object store backends.
// file and mem are always available.
type Config struct {
	S3    *S3Config    `mapstructure:"s3" json:"s3,omitempty"`
	Minio *MinioConfig `mapstructure:"minio" json:"minio,omitempty"`
}

// NewRegistryFromConfig registers the local and memory backends plus any configured object stores
func NewRegistryFromConfig(ctx context.Context, cfg *Config) (*Registry, error) {
	backends := []Backend{NewLocalBackend(), NewMemBackend()}

	if cfg != nil && cfg.S3 != nil {
		s3b, err := NewS3BackendWithConfig(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
		backends = append(backends, s3b)
	}

	if cfg != nil && cfg.Minio != nil {
		mb, err := NewMinioBackendWithConfig(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("minio backend: %w", err)
		}
		backends = append(backends, mb)
	}

	return NewRegistry(backends...), nil
}
