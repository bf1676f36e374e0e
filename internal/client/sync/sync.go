// Package sync reconciles a local tree with a remote root. Every path is classified from
// its journal record and a live probe, then pushed, pulled or deleted by the executor
// while the manager walks the tree directory by directory.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/tunebox/tunesync/internal/client/config"
	"github.com/tunebox/tunesync/internal/client/workspace"
	"github.com/tunebox/tunesync/internal/envelope"
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/utils"
)

// Engine bundles the journal, executor and ignore list of one workspace
type Engine struct {
	workspace *workspace.Workspace
	journal   *SyncJournal
	executor  *Executor
	ignore    *SyncIgnoreList
	workers   int
}

type EngineConfig struct {
	Config    *config.Config
	Workspace *workspace.Workspace
	Registry  *storage.Registry
	Remote    RemoteClient
	Keys      envelope.KeySource
}

func NewEngine(ctx context.Context, cfg *EngineConfig) (*Engine, error) {
	ws, registry := cfg.Workspace, cfg.Registry

	policy, err := envelope.LoadPolicy(ws.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load policy: %w", ErrEncryption, err)
	}
	if policy.Default == envelope.ModeNone && cfg.Config.Encryption.DefaultMode != "" {
		mode, err := envelope.ParseMode(cfg.Config.Encryption.DefaultMode)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
		}
		policy.Default = mode
	}

	journal := NewSyncJournal(ws.JournalPath)
	if err := journal.Open(); err != nil {
		slog.Warn("sync journal unreadable, starting a new one", "path", ws.JournalPath, "error", err)
		if err := journal.Destroy(); err != nil {
			return nil, err
		}
		if err := journal.Open(); err != nil {
			return nil, err
		}
	}

	executor, err := NewExecutor(&ExecutorConfig{
		Registry:   registry,
		Remote:     cfg.Remote,
		Journal:    journal,
		Keys:       cfg.Keys,
		Policy:     policy,
		LocalRoot:  ws.Root,
		RemoteRoot: cfg.Config.RemoteRoot,
	})
	if err != nil {
		journal.Close()
		return nil, err
	}

	ignore := NewSyncIgnoreList(registry, ws.Root, metadataExcludes(ws)...)
	ignore.Load(ctx)

	return &Engine{
		workspace: ws,
		journal:   journal,
		executor:  executor,
		ignore:    ignore,
		workers:   cfg.Config.Workers,
	}, nil
}

// metadataExcludes returns the metadata dir relative to the root when it lives inside it
func metadataExcludes(ws *workspace.Workspace) []string {
	if _, _, prefixed := storage.SplitScheme(ws.Root); prefixed {
		return nil
	}
	rel, err := filepath.Rel(ws.Root, ws.MetadataDir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	return []string{filepath.ToSlash(rel)}
}

func (e *Engine) Journal() *SyncJournal {
	return e.journal
}

func (e *Engine) Executor() *Executor {
	return e.executor
}

// Manager returns a walker rooted at dir
func (e *Engine) Manager(dir string, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = e.workers
	}
	m := NewManager(e.executor, e.ignore, opts)
	m.SetDirectory(dir)
	return m
}

// Fetch refreshes the remote snapshots of dir in the journal and returns the number of changed records
func (e *Engine) Fetch(ctx context.Context, dir string, recursive bool) (int, error) {
	dir = utils.NormRelPath(dir)
	listing, err := e.executor.remote.List(ctx, e.executor.remoteRoot, dir)
	if err != nil {
		return 0, classifyError(fmt.Errorf("list %q: %w", dir, err))
	}

	kept := listing[:0]
	for _, f := range listing {
		if !e.ignore.ShouldIgnore(f.Path, false) {
			kept = append(kept, f)
		}
	}

	changed, err := e.journal.UpdateRemote(ctx, dir, recursive, kept)
	if err != nil {
		return 0, err
	}
	slog.Info("sync fetch", "dir", dir, "recursive", recursive, "listed", len(kept), "changed", changed)
	return changed, nil
}

func (e *Engine) Close() error {
	return e.journal.Close()
}

// KeyringFromConfig builds the key source for every envelope mode the config can serve
func KeyringFromConfig(cfg *config.Config, serverKey envelope.ServerKeyFunc) (*envelope.Keyring, error) {
	var systemKey []byte
	if cfg.Encryption.SystemKey != "" {
		key, err := envelope.DecodeKey(cfg.Encryption.SystemKey)
		if err != nil {
			return nil, fmt.Errorf("%w: system key: %w", ErrEncryption, err)
		}
		systemKey = key
	}
	return envelope.NewKeyring(envelope.KeyringConfig{
		User:       cfg.Email,
		SystemKey:  systemKey,
		Passphrase: cfg.Encryption.Passphrase,
		ServerKey:  serverKey,
	})
}
