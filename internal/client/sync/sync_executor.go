package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/tunebox/tunesync/internal/envelope"
	"github.com/tunebox/tunesync/internal/fifo"
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/tunesdk"
)

const tempSuffix = ".tunesync-tmp"

// RemoteClient is the part of the transfer client the executor needs
type RemoteClient interface {
	List(ctx context.Context, root, prefix string) ([]*tunesdk.RemoteFile, error)
	Upload(ctx context.Context, params *tunesdk.UploadParams) (*tunesdk.UploadResult, error)
	Download(ctx context.Context, root, path string) (*tunesdk.Download, error)
	Delete(ctx context.Context, root, path string) (*tunesdk.DeleteResponse, error)
}

var _ RemoteClient = (*tunesdk.Client)(nil)

// Action is the side effect chosen for an entry
type Action string

const (
	ActionNone         Action = "none"
	ActionUpload       Action = "upload"
	ActionDownload     Action = "download"
	ActionDeleteRemote Action = "delete-remote"
	ActionDeleteLocal  Action = "delete-local"
	ActionDropRecord   Action = "drop-record"
	ActionSkip         Action = "skip"
)

// Outcome is the result of applying one entry
type Outcome struct {
	Path   string
	State  FileState
	Action Action
	// Final is the state after the action. Empty when the record was dropped.
	Final FileState
	Err   error
	Bytes int64
}

// Plan returns the action for a classified state. It never touches storage or the network.
func Plan(state FileState, doPush, doPull, force bool) (Action, FileState) {
	if !doPush && !doPull {
		return ActionNone, state
	}

	switch state {
	case StateSame:
		return ActionNone, StateSame

	case StatePush:
		if doPush {
			return ActionUpload, StateSame
		}
		return ActionNone, StatePush

	case StatePull:
		if doPull {
			return ActionDownload, StateSame
		}
		return ActionNone, StatePull

	case StateConflictModified, StateConflictCreated, StateConflictVersion:
		switch {
		case !force || (doPush && doPull):
			return ActionSkip, state
		case doPush:
			return ActionUpload, StateSame
		default:
			return ActionDownload, StateSame
		}

	case StateDeleteBoth:
		return ActionDropRecord, ""

	case StateDeleteRemote:
		if doPull {
			return ActionDeleteLocal, ""
		}
		return ActionUpload, StateSame

	case StateDeleteLocal:
		if doPush {
			return ActionDeleteRemote, ""
		}
		return ActionDownload, StateSame
	}

	return ActionSkip, state
}

type ExecutorConfig struct {
	Registry   *storage.Registry
	Remote     RemoteClient
	Journal    *SyncJournal
	Keys       envelope.KeySource
	Policy     *envelope.Policy
	LocalRoot  string
	RemoteRoot string
	// fifo sizes of the upload pipe, zero picks the fifo defaults
	BufferInitial int
	BufferMax     int
}

// Executor applies the action of one entry: at most one transfer or delete plus one journal write
type Executor struct {
	registry   *storage.Registry
	remote     RemoteClient
	journal    *SyncJournal
	keys       envelope.KeySource
	policy     *envelope.Policy
	localRoot  string
	remoteRoot string
	bufInitial int
	bufMax     int
}

func NewExecutor(cfg *ExecutorConfig) (*Executor, error) {
	if cfg.Registry == nil || cfg.Remote == nil || cfg.Journal == nil {
		return nil, fmt.Errorf("executor: registry, remote and journal are required")
	}
	if cfg.LocalRoot == "" {
		return nil, fmt.Errorf("executor: local root is required")
	}
	return &Executor{
		registry:   cfg.Registry,
		remote:     cfg.Remote,
		journal:    cfg.Journal,
		keys:       cfg.Keys,
		policy:     cfg.Policy,
		localRoot:  cfg.LocalRoot,
		remoteRoot: cfg.RemoteRoot,
		bufInitial: cfg.BufferInitial,
		bufMax:     cfg.BufferMax,
	}, nil
}

// NewFileEntry builds an entry for rel from the journal and a live probe of the local file
func (e *Executor) NewFileEntry(ctx context.Context, rel string) (*FileEntry, error) {
	rec, err := e.journal.Get(ctx, rel)
	if err != nil {
		return nil, err
	}
	entry := e.entryFor(rel, rec)
	entry.LiveLocal, entry.LiveErr = e.probe(ctx, entry.LocalPath)
	return entry, nil
}

func (e *Executor) entryFor(rel string, rec *SyncRecord) *FileEntry {
	entry := &FileEntry{
		RelPath:    rel,
		LocalPath:  e.registry.Join(e.localRoot, rel),
		RemotePath: rel,
	}
	if rec != nil {
		c := rec.Clone()
		entry.CachedLocal, entry.CachedRemote = c.Local, c.Remote
	}
	return entry
}

// probe stats a local file. Absent is (nil, nil), a directory in place of a file is an error.
func (e *Executor) probe(ctx context.Context, uri string) (*Observation, error) {
	info, err := e.registry.FileInfo(ctx, uri)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, fmt.Errorf("%w: %s", storage.ErrIsDir, uri)
	}
	return observationFromInfo(info), nil
}

// Apply classifies entry and performs the planned action. The journal is written only on success.
// A path that vanished mid-transfer is re-probed, re-classified and applied once more.
func (e *Executor) Apply(ctx context.Context, entry *FileEntry, doPush, doPull, force bool) *Outcome {
	out := e.apply(ctx, entry, doPush, doPull, force)
	if out.Err == nil || !errors.Is(out.Err, ErrNotFound) {
		return out
	}

	retry := *entry
	switch out.Action {
	case ActionDownload:
		retry.CachedRemote = nil
	case ActionUpload:
		retry.LiveLocal, retry.LiveErr = e.probe(ctx, entry.LocalPath)
	default:
		return out
	}
	slog.Debug("sync", "op", out.Action, "path", entry.RelPath, "status", "Reclassify", "error", out.Err)
	return e.apply(ctx, &retry, doPush, doPull, force)
}

func (e *Executor) apply(ctx context.Context, entry *FileEntry, doPush, doPull, force bool) *Outcome {
	out := &Outcome{Path: entry.RelPath, Action: ActionNone}

	state, ok := ClassifyEntry(entry)
	if !ok {
		out.Action = ActionDropRecord
		out.Err = e.journal.Delete(ctx, entry.RelPath)
		return out
	}
	out.State = state
	if state == StateError {
		out.Action, out.Final = ActionSkip, StateError
		out.Err = fmt.Errorf("probe %s: %w", entry.RelPath, entry.LiveErr)
		return out
	}

	out.Action, out.Final = Plan(state, doPush, doPull, force)

	var err error
	switch out.Action {
	case ActionNone:
		return out
	case ActionSkip:
		if state.IsConflict() {
			out.Err = fmt.Errorf("%w: %s is %s", ErrConflict, entry.RelPath, state)
		}
		return out
	case ActionUpload:
		out.Bytes, err = e.upload(ctx, entry)
	case ActionDownload:
		out.Bytes, err = e.download(ctx, entry)
	case ActionDeleteRemote:
		err = e.deleteRemote(ctx, entry)
	case ActionDeleteLocal:
		err = e.deleteLocal(ctx, entry)
	case ActionDropRecord:
		err = e.journal.Delete(ctx, entry.RelPath)
	}

	if err != nil {
		out.Final = state
		out.Err = classifyError(err)
		slog.Error("sync", "op", out.Action, "path", entry.RelPath, "state", state, "status", "Error", "error", out.Err)
		return out
	}

	slog.Info("sync", "op", out.Action, "path", entry.RelPath, "state", state, "status", "Completed", "size", humanize.Bytes(uint64(out.Bytes)))
	return out
}

// upload streams the local file through the envelope and the fifo into the request body
func (e *Executor) upload(ctx context.Context, entry *FileEntry) (int64, error) {
	info, err := e.registry.FileInfo(ctx, entry.LocalPath)
	if err != nil {
		return 0, err
	}

	mode := e.policy.ModeFor(entry.RelPath)
	var key []byte
	if mode != envelope.ModeNone {
		if e.keys == nil {
			return 0, fmt.Errorf("%w: %w: %s", ErrEncryption, envelope.ErrNoKey, mode)
		}
		if key, err = e.keys.Key(ctx, mode); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrEncryption, err)
		}
	}

	src, err := e.registry.OpenReader(ctx, entry.LocalPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pipe := fifo.New(e.bufInitial, e.bufMax)
	stop := pipe.AbortOnDone(ctx)
	defer stop()

	var produceErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		produceErr = encryptInto(pipe, src, mode, key, info.Size)
		if produceErr != nil {
			pipe.CloseWithError(produceErr)
			return
		}
		pipe.Close()
	}()

	res, err := e.remote.Upload(ctx, &tunesdk.UploadParams{
		Root:       e.remoteRoot,
		Path:       entry.RemotePath,
		Body:       pipe,
		Mtime:      info.Mtime,
		Permission: info.Permission,
	})
	if err != nil {
		pipe.CloseWithError(err)
	}
	<-done

	// the producer error explains a failed request better than the transport error
	if produceErr != nil && !errors.Is(produceErr, err) {
		return 0, produceErr
	}
	if err != nil {
		return 0, err
	}

	rec := NewRecordBuilder(entry.RelPath).
		Local(res.Version).
		LocalStat(info.Size, info.Mtime, info.Permission).
		Remote(res.Version, res.Size, res.Permission).
		RemoteMtime(res.Mtime).
		Build()
	if err := e.journal.Put(ctx, rec); err != nil {
		return res.Sent, err
	}
	return res.Sent, nil
}

func encryptInto(dst io.Writer, src io.Reader, mode envelope.Mode, key []byte, size int64) error {
	enc, err := envelope.NewEncryptWriter(dst, mode, key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncryption, err)
	}
	n, err := io.Copy(enc, src)
	if err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("%w: local file changed during upload: read %d of %d bytes", ErrIntegrity, n, size)
	}
	return nil
}

// checkMode rejects plaintext payloads for paths the policy encrypts. Encrypted payloads
// opened with another mode's key are authenticated, so they are only reported.
func (e *Executor) checkMode(rel string, got envelope.Mode) error {
	want := e.policy.ModeFor(rel)
	if got == want {
		return nil
	}
	if got == envelope.ModeNone {
		return fmt.Errorf("%w: %w: policy requires %s, remote payload is %s", ErrEncryption, envelope.ErrModeMismatch, want, got)
	}
	slog.Warn("sync", "op", ActionDownload, "path", rel, "policyMode", want, "payloadMode", got)
	return nil
}

// download streams the remote file through the envelope into a temp file beside the target
func (e *Executor) download(ctx context.Context, entry *FileEntry) (int64, error) {
	dl, err := e.remote.Download(ctx, e.remoteRoot, entry.RemotePath)
	if err != nil {
		return 0, err
	}
	defer dl.Close()

	plain, mode, err := envelope.NewDecryptReader(ctx, dl, e.keys)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEncryption, err)
	}
	if err := e.checkMode(entry.RelPath, mode); err != nil {
		return 0, err
	}

	dir, name := e.registry.Split(entry.LocalPath)
	tmp := e.registry.Join(dir, "."+name+"."+uuid.NewString()[:8]+tempSuffix)

	n, err := e.writeFile(ctx, tmp, plain)
	if err == nil {
		err = dl.Verify()
	}
	if err != nil {
		if rmErr := e.registry.Remove(ctx, tmp); rmErr != nil && !storage.IsNotFound(rmErr) {
			slog.Warn("sync", "op", ActionDownload, "path", tmp, "error", rmErr)
		}
		return 0, err
	}

	if err := e.registry.Rename(ctx, tmp, entry.LocalPath); err != nil {
		if rmErr := e.registry.Remove(ctx, tmp); rmErr != nil && !storage.IsNotFound(rmErr) {
			slog.Warn("sync", "op", ActionDownload, "path", tmp, "error", rmErr)
		}
		return 0, err
	}
	if err := e.registry.Chmod(ctx, entry.LocalPath, dl.Permission); err != nil {
		slog.Warn("sync", "op", ActionDownload, "path", entry.RelPath, "chmod", dl.Permission, "error", err)
	}
	if err := e.registry.SetMtime(ctx, entry.LocalPath, dl.Mtime); err != nil {
		return 0, err
	}

	info, err := e.registry.FileInfo(ctx, entry.LocalPath)
	if err != nil {
		return 0, err
	}

	rec := NewRecordBuilder(entry.RelPath).
		Local(dl.Version).
		LocalStat(info.Size, info.Mtime, info.Permission).
		Remote(dl.Version, dl.Size, dl.Permission).
		RemoteMtime(dl.Mtime).
		Build()
	if err := e.journal.Put(ctx, rec); err != nil {
		return n, err
	}
	return n, nil
}

func (e *Executor) writeFile(ctx context.Context, uri string, r io.Reader) (int64, error) {
	w, err := e.registry.Create(ctx, uri)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

func (e *Executor) deleteRemote(ctx context.Context, entry *FileEntry) error {
	resp, err := e.remote.Delete(ctx, e.remoteRoot, entry.RemotePath)
	if err != nil {
		return err
	}
	if !resp.Deleted {
		slog.Debug("sync", "op", ActionDeleteRemote, "path", entry.RelPath, "status", "AlreadyGone")
	}
	return e.journal.Delete(ctx, entry.RelPath)
}

func (e *Executor) deleteLocal(ctx context.Context, entry *FileEntry) error {
	if err := e.registry.Remove(ctx, entry.LocalPath); err != nil && !storage.IsNotFound(err) {
		return err
	}
	dir, _ := e.registry.Split(entry.LocalPath)
	e.cleanupEmptyParentDirs(ctx, dir)
	return e.journal.Delete(ctx, entry.RelPath)
}

// cleanupEmptyParentDirs removes empty directories from dir upwards, stopping at the root
func (e *Executor) cleanupEmptyParentDirs(ctx context.Context, dir string) {
	root := e.registry.Join(e.localRoot)
	for len(dir) > len(root) && strings.HasPrefix(dir, root) {
		children, err := e.registry.ScanDir(ctx, dir)
		if err != nil || len(children) > 0 {
			if err != nil && !storage.IsNotFound(err) {
				slog.Warn("sync", "op", ActionDeleteLocal, "path", dir, "error", err)
			}
			return
		}
		if err := e.registry.Remove(ctx, dir); err != nil {
			slog.Warn("sync", "op", ActionDeleteLocal, "path", dir, "error", err)
			return
		}
		slog.Debug("sync", "op", ActionDeleteLocal, "path", dir, "status", "RemovedEmptyDir")

		parent, _ := e.registry.Split(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
