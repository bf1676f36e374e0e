package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/tunebox/tunesync/internal/envelope"
	"github.com/tunebox/tunesync/internal/utils"
)

const (
	logsDir     = "logs"
	lockFile    = "tunesync.lock"
	journalFile = "journal.db"
	logFile     = "tunesync.log"

	IgnoreFileName = ".tunesyncignore"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

// Workspace is a synced root plus the local metadata directory that describes it
type Workspace struct {
	// Root is the synced tree, a local path or a storage URI
	Root        string
	MetadataDir string
	LogsDir     string
	JournalPath string
	PolicyPath  string

	flock *flock.Flock
}

func NewWorkspace(root string, metadataDir string) (*Workspace, error) {
	if root == "" {
		return nil, utils.ErrEmptyPath
	}

	metaDir, err := utils.ResolvePath(metadataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", metadataDir, err)
	}

	return &Workspace{
		Root:        root,
		MetadataDir: metaDir,
		LogsDir:     filepath.Join(metaDir, logsDir),
		JournalPath: filepath.Join(metaDir, journalFile),
		PolicyPath:  filepath.Join(metaDir, envelope.PolicyFileName),
		flock:       flock.New(filepath.Join(metaDir, lockFile)),
	}, nil
}

// Setup creates the metadata layout. It does not take the lock.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.MetadataDir, w.LogsDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	slog.Debug("workspace", "root", w.Root, "metadata", w.MetadataDir)
	return nil
}

// IsInitialized reports whether Setup ran for this workspace
func (w *Workspace) IsInitialized() bool {
	return utils.DirExists(w.MetadataDir)
}

func (w *Workspace) LogFilePath() string {
	return filepath.Join(w.LogsDir, logFile)
}

// Lock takes the cross process lock. Only one sync may run against a workspace at a time.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// only the holder removes the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}
