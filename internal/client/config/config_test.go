package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	tmp := t.TempDir()
	return &Config{
		Root:       filepath.Join(tmp, "Music"),
		RemoteRoot: "/music/",
		ServerURL:  "http://127.0.0.1:7938/",
		Email:      "Alice@Example.com",
	}
}

func TestConfig_Validate_NormalizesAndDefaults(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())

	assert.True(t, filepath.IsAbs(cfg.Root))
	assert.Equal(t, "music", cfg.RemoteRoot)
	assert.Equal(t, "http://127.0.0.1:7938", cfg.ServerURL)
	assert.Equal(t, "alice@example.com", cfg.Email)
	assert.Equal(t, filepath.Join(cfg.Root, MetadataDirName), cfg.MetadataDir)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, "none", cfg.Encryption.DefaultMode)
}

func TestConfig_Validate_ErrorsOnInvalidInputs(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Root = ""
		assert.ErrorIs(t, cfg.Validate(), ErrNoRoot)
	})

	t.Run("missing remote root", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.RemoteRoot = "/"
		assert.ErrorIs(t, cfg.Validate(), ErrNoRemoteRoot)
	})

	t.Run("bad server url", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.ServerURL = "ftp://bad.example.com"
		assert.ErrorIs(t, cfg.Validate(), ErrBadServerURL)
	})

	t.Run("bad email", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Email = "not-an-email"
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown encryption mode", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Encryption.DefaultMode = "rot13"
		assert.Error(t, cfg.Validate())
	})

	t.Run("system mode without key", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Encryption.DefaultMode = "system"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad system key", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Encryption.SystemKey = "c2hvcnQ="
		assert.Error(t, cfg.Validate())
	})
}

func TestDefaultMetadataDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/srv/music", MetadataDirName), DefaultMetadataDir("/srv/music"))
	assert.Equal(t, filepath.Join("/srv/music", MetadataDirName), DefaultMetadataDir("file:///srv/music"))

	remote := DefaultMetadataDir("s3://bucket/music")
	assert.True(t, strings.HasPrefix(remote, filepath.Join(DefaultConfigDir, "roots")))
	assert.NotEqual(t, remote, DefaultMetadataDir("s3://bucket/other"))
}

func TestConfig_SaveAndLoad(t *testing.T) {
	cfg := validConfig(t)
	cfg.Token = "secret-token"
	cfg.Encryption.Passphrase = "do not persist"
	require.NoError(t, cfg.Validate())

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, cfg.Save(path))
	assert.Equal(t, path, cfg.Path)

	loaded, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Root, loaded.Root)
	assert.Equal(t, cfg.RemoteRoot, loaded.RemoteRoot)
	assert.Equal(t, cfg.Token, loaded.Token)
	assert.Empty(t, loaded.Encryption.Passphrase)
	assert.Equal(t, path, loaded.Path)
}

func TestFromViper(t *testing.T) {
	v := viper.New()
	v.Set("root", "/srv/music")
	v.Set("remote_root", "music")
	v.Set("workers", 8)
	v.Set("encryption.default_mode", "client")
	v.Set("encryption.passphrase", "hunter2")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "/srv/music", cfg.Root)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "client", cfg.Encryption.DefaultMode)
	assert.Equal(t, "hunter2", cfg.Encryption.Passphrase)
}
