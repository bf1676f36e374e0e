package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/tunebox/tunesync/internal/envelope"
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/tunesdk"
	"github.com/tunebox/tunesync/internal/utils"
)

const (
	DefaultWorkers     = 4
	MetadataDirName    = ".tunesync"
	configFileName     = "config.json"
	configFileMode     = 0o600
	defaultEncryptMode = "none"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigDir  = filepath.Join(home, ".config", "tunesync")
	DefaultConfigPath = filepath.Join(DefaultConfigDir, configFileName)
	DefaultServerURL  = tunesdk.DefaultBaseURL
)

var (
	ErrNoRoot       = errors.New("`root` is required")
	ErrNoRemoteRoot = errors.New("`remote_root` is required")
	ErrBadServerURL = errors.New("`server_url` must be an http(s) url")
)

type Config struct {
	// Root is the local directory to synchronize, a path or a storage URI (mem://, s3://, minio://)
	Root string `json:"root" mapstructure:"root"`
	// RemoteRoot names the tree on the server that Root mirrors
	RemoteRoot string `json:"remote_root" mapstructure:"remote_root"`
	ServerURL  string `json:"server_url" mapstructure:"server_url"`
	Token      string `json:"token,omitempty" mapstructure:"token"`
	// Email identifies the user for client side key derivation
	Email string `json:"email,omitempty" mapstructure:"email"`
	// MetadataDir holds the journal, policy, lock and logs. Always on local disk.
	MetadataDir string           `json:"metadata_dir,omitempty" mapstructure:"metadata_dir"`
	Workers     int              `json:"workers,omitempty" mapstructure:"workers"`
	Encryption  EncryptionConfig `json:"encryption" mapstructure:"encryption"`
	Storage     storage.Config   `json:"storage" mapstructure:"storage"`
	Path        string           `json:"-" mapstructure:"-"`
}

type EncryptionConfig struct {
	// DefaultMode applies where the policy file has no matching rule
	DefaultMode string `json:"default_mode,omitempty" mapstructure:"default_mode"`
	SystemKey   string `json:"system_key,omitempty" mapstructure:"system_key"`
	// Passphrase is best supplied through TUNESYNC_ENCRYPTION_PASSPHRASE
	Passphrase string `json:"-" mapstructure:"passphrase"`
}

// FromViper decodes the merged file, env and flag settings
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	return &cfg, nil
}

// Validate checks required fields and fills defaults. Local paths are made absolute.
func (c *Config) Validate() error {
	if c.Root == "" {
		return ErrNoRoot
	}
	if _, _, prefixed := storage.SplitScheme(c.Root); !prefixed {
		root, err := utils.ResolvePath(c.Root)
		if err != nil {
			return fmt.Errorf("root: %w", err)
		}
		c.Root = root
	}

	c.RemoteRoot = utils.NormRelPath(c.RemoteRoot)
	if c.RemoteRoot == "" {
		return ErrNoRemoteRoot
	}

	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrBadServerURL, c.ServerURL)
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")

	if c.Email != "" {
		if err := utils.ValidateEmail(c.Email); err != nil {
			return err
		}
		c.Email = strings.ToLower(c.Email)
	}

	if c.MetadataDir == "" {
		c.MetadataDir = DefaultMetadataDir(c.Root)
	}
	metaDir, err := utils.ResolvePath(c.MetadataDir)
	if err != nil {
		return fmt.Errorf("metadata dir: %w", err)
	}
	c.MetadataDir = metaDir

	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	return c.Encryption.Validate()
}

func (e *EncryptionConfig) Validate() error {
	if e.DefaultMode == "" {
		e.DefaultMode = defaultEncryptMode
	}
	mode, err := envelope.ParseMode(e.DefaultMode)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	if e.SystemKey != "" {
		if _, err := envelope.DecodeKey(e.SystemKey); err != nil {
			return fmt.Errorf("encryption `system_key`: %w", err)
		}
	} else if mode == envelope.ModeSystem {
		return fmt.Errorf("encryption: default mode %s needs `system_key`", mode)
	}
	return nil
}

// DefaultMetadataDir keeps metadata inside local roots and under the config dir for remote ones
func DefaultMetadataDir(root string) string {
	if scheme, _, prefixed := storage.SplitScheme(root); !prefixed || scheme == storage.SchemeFile {
		if prefixed {
			_, root, _ = storage.SplitScheme(root)
		}
		return filepath.Join(root, MetadataDirName)
	}
	sum := sha256.Sum256([]byte(root))
	return filepath.Join(DefaultConfigDir, "roots", hex.EncodeToString(sum[:6]))
}

// Save writes the config as JSON with owner only permissions since it carries the token
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.Path
	}
	if path == "" {
		path = DefaultConfigPath
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, configFileMode); err != nil {
		return err
	}
	c.Path = path
	return nil
}

// LoadClientConfig reads a saved config file without env or flag overrides
func LoadClientConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}

// SDKConfig is the remote client configuration derived from c
func (c *Config) SDKConfig() *tunesdk.Config {
	return &tunesdk.Config{BaseURL: c.ServerURL, Token: c.Token}
}
