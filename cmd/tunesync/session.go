package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tunebox/tunesync/internal/client/config"
	"github.com/tunebox/tunesync/internal/client/sync"
	"github.com/tunebox/tunesync/internal/client/workspace"
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/tunesdk"
)

var errNotInitialized = errors.New("workspace not initialized, run `tunesync init` first")

// session is everything one sync command needs, opened from the merged config
type session struct {
	cfg    *config.Config
	ws     *workspace.Workspace
	client *tunesdk.Client
	engine *sync.Engine

	locked  bool
	logFile *os.File
}

// openSession validates the config, takes the workspace lock when asked and opens the engine
func openSession(cmd *cobra.Command, lock bool) (*session, error) {
	cfg, err := loadConfig(cmd, map[string]string{"workers": "workers"})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true

	ws, err := workspace.NewWorkspace(cfg.Root, cfg.MetadataDir)
	if err != nil {
		return nil, err
	}
	if !ws.IsInitialized() {
		return nil, errNotInitialized
	}

	s := &session{cfg: cfg, ws: ws}
	if err := s.open(cmd, lock); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) open(cmd *cobra.Command, lock bool) error {
	ctx := cmd.Context()

	if f, err := os.OpenFile(s.ws.LogFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		s.logFile = f
		slog.SetDefault(newLogger(os.Stdout, f, consoleLevel(cmd)))
	}

	if lock {
		if err := s.ws.Lock(); err != nil {
			return err
		}
		s.locked = true
	}

	registry, err := storage.NewRegistryFromConfig(ctx, &s.cfg.Storage)
	if err != nil {
		return err
	}

	s.client, err = tunesdk.New(s.cfg.SDKConfig())
	if err != nil {
		return err
	}

	keys, err := sync.KeyringFromConfig(s.cfg, s.client.ServerKey)
	if err != nil {
		return err
	}

	s.engine, err = sync.NewEngine(ctx, &sync.EngineConfig{
		Config:    s.cfg,
		Workspace: s.ws,
		Registry:  registry,
		Remote:    s.client,
		Keys:      keys,
	})
	if err != nil {
		return fmt.Errorf("open sync engine: %w", err)
	}
	return nil
}

func (s *session) Close() {
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			slog.Warn("close journal", "error", err)
		}
	}
	if s.client != nil {
		s.client.Close()
	}
	if s.locked {
		if err := s.ws.Unlock(); err != nil {
			slog.Warn("unlock workspace", "error", err)
		}
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
}

// dirArg is the optional directory argument, the whole root when absent
func dirArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
