package blob

import (
	"fmt"

	"github.com/tunebox/tunesync/internal/storage"
)

const DefaultBlobRoot = "./data/blobs"

type Config struct {
	// Root is a storage URI, e.g. /var/lib/tuneserver/blobs, s3://bucket/prefix or minio://bucket
	Root    string         `mapstructure:"root"`
	Storage storage.Config `mapstructure:"storage"`
}

func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("blob `root` is required")
	}
	if c.Storage.S3 != nil {
		if err := c.Storage.S3.Validate(); err != nil {
			return fmt.Errorf("blob storage: %w", err)
		}
	}
	if c.Storage.Minio != nil {
		if err := c.Storage.Minio.Validate(); err != nil {
			return fmt.Errorf("blob storage: %w", err)
		}
	}
	return nil
}
