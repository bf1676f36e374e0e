package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/utils"
)

const stagingDir = ".staging"

// BlobService stores file bytes in a storage backend and their attributes in the index.
// Uploads are written to a staging object first and renamed into place, so a failed
// upload never replaces the previous version.
type BlobService struct {
	registry *storage.Registry
	root     string
	index    *BlobIndex

	locksMu sync.Mutex
	locks   map[Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewBlobService(registry *storage.Registry, root string, index *BlobIndex) *BlobService {
	return &BlobService{
		registry: registry,
		root:     root,
		index:    index,
		locks:    make(map[Key]*keyLock),
	}
}

func (b *BlobService) Start(ctx context.Context) error {
	slog.Debug("blob service start", "root", b.root, "files", b.index.Count(ctx))
	return b.registry.MkdirAll(ctx, b.registry.Join(b.root, stagingDir))
}

func (b *BlobService) Shutdown(ctx context.Context) error {
	slog.Debug("blob service shutdown")
	return b.index.Close()
}

func (b *BlobService) Index() *BlobIndex {
	return b.index
}

// NormalizeKey validates root and path and returns the canonical key
func NormalizeKey(owner, root, path string) (Key, error) {
	root, err := NormalizeRoot(owner, root)
	if err != nil {
		return Key{}, err
	}
	if hasDotDot(path) {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	key := Key{Owner: owner, Root: root, Path: utils.NormRelPath(path)}
	if key.Path == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return key, nil
}

// NormalizeRoot validates the owner and the client chosen root
func NormalizeRoot(owner, root string) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("%w: missing owner", ErrInvalidPath)
	}
	if hasDotDot(root) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, root)
	}
	root = utils.NormRelPath(root)
	if root == "" {
		return "", fmt.Errorf("%w: root is required", ErrInvalidPath)
	}
	return root, nil
}

// NormalizePrefix validates a listing prefix. The empty prefix is the whole root.
func NormalizePrefix(prefix string) (string, error) {
	if hasDotDot(prefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, prefix)
	}
	return utils.NormRelPath(prefix), nil
}

func hasDotDot(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

func (b *BlobService) blobURI(key Key) string {
	return b.registry.Join(b.root, key.Owner, key.Root, key.Path)
}

// Put streams body into storage and records a new version
func (b *BlobService) Put(ctx context.Context, key Key, body io.Reader, mtime int64, permission uint32) (*FileInfo, error) {
	staging := b.registry.Join(b.root, stagingDir, uuid.NewString())

	w, err := b.registry.Create(ctx, staging)
	if err != nil {
		return nil, fmt.Errorf("create staging blob: %w", err)
	}

	size, err := io.Copy(w, body)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		b.discard(staging)
		return nil, fmt.Errorf("write blob: %w", err)
	}

	unlock := b.lock(key)
	defer unlock()

	if err := b.registry.Rename(ctx, staging, b.blobURI(key)); err != nil {
		b.discard(staging)
		return nil, fmt.Errorf("commit blob: %w", err)
	}

	info, err := b.index.Put(ctx, key, size, mtime, permission)
	if err != nil {
		return nil, err
	}
	slog.Debug("blob put", "owner", key.Owner, "root", key.Root, "path", key.Path, "size", size, "version", info.Version)
	return info, nil
}

// Get opens the current version of a file. The caller closes the reader.
func (b *BlobService) Get(ctx context.Context, key Key) (*FileInfo, io.ReadCloser, error) {
	// an open reader keeps the version it was opened at, so the lock covers only the lookup
	unlock := b.lock(key)
	defer unlock()

	info, err := b.index.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	r, err := b.registry.OpenReader(ctx, b.blobURI(key))
	if storage.IsNotFound(err) {
		slog.Warn("indexed blob missing from storage", "owner", key.Owner, "root", key.Root, "path", key.Path)
		return nil, nil, ErrNotFound
	} else if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return info, r, nil
}

// Delete removes a file. It reports false when the file did not exist.
func (b *BlobService) Delete(ctx context.Context, key Key) (bool, error) {
	unlock := b.lock(key)
	defer unlock()

	deleted, err := b.index.Remove(ctx, key)
	if err != nil || !deleted {
		return deleted, err
	}

	if err := b.registry.Remove(ctx, b.blobURI(key)); err != nil && !storage.IsNotFound(err) {
		slog.Warn("blob delete", "path", key.Path, "error", err)
	}
	return true, nil
}

func (b *BlobService) List(ctx context.Context, owner, root, prefix string) ([]*FileInfo, error) {
	return b.index.List(ctx, owner, root, prefix)
}

func (b *BlobService) discard(uri string) {
	if err := b.registry.Remove(context.Background(), uri); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("discard staging blob", "uri", uri, "error", err)
	}
}

// lock serializes commits, deletes and lookups of one key
func (b *BlobService) lock(key Key) func() {
	b.locksMu.Lock()
	l, ok := b.locks[key]
	if !ok {
		l = &keyLock{}
		b.locks[key] = l
	}
	l.refs++
	b.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, key)
		}
		b.locksMu.Unlock()
	}
}
