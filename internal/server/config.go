package server

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/tunebox/tunesync/internal/envelope"
	"github.com/tunebox/tunesync/internal/server/auth"
	"github.com/tunebox/tunesync/internal/server/blob"
)

const (
	DefaultAddr      = "127.0.0.1:7938"
	DefaultRateLimit = "1200-M"
	dbFileName       = "state.db"
	accessLogDir     = "access"
)

type Config struct {
	HTTP    HttpServerConfig `mapstructure:"http"`
	Auth    auth.Config      `mapstructure:"auth"`
	Blob    blob.Config      `mapstructure:"blob"`
	DataDir string           `mapstructure:"data_dir"`
	// MasterKey is a base64 32 byte key. Without it server mode encryption is unavailable.
	MasterKey string `mapstructure:"master_key"`
	// RateLimit per client ip in limiter format; empty disables limiting
	RateLimit string `mapstructure:"rate_limit"`
	// AccessLog writes per user JSON lines of file API requests under DataDir
	AccessLog bool `mapstructure:"access_log"`
}

type HttpServerConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func (c *HttpServerConfig) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http `addr` is required")
	}
	if (c.HTTP.CertFile == "") != (c.HTTP.KeyFile == "") {
		return errors.New("http `cert_file` and `key_file` must be set together")
	}
	if c.DataDir == "" {
		return errors.New("`data_dir` is required")
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Blob.Validate(); err != nil {
		return err
	}
	if c.MasterKey != "" {
		if _, err := envelope.DecodeKey(c.MasterKey); err != nil {
			return fmt.Errorf("`master_key`: %w", err)
		}
	}
	return nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, dbFileName)
}

func (c *Config) AccessLogDir() string {
	return filepath.Join(c.DataDir, accessLogDir)
}

// masterKey decodes MasterKey, nil when unset
func (c *Config) masterKey() []byte {
	if c.MasterKey == "" {
		return nil
	}
	key, _ := envelope.DecodeKey(c.MasterKey)
	return key
}
