package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

const (
	defaultFilePerm = 0o644
	defaultDirPerm  = 0o755
)

// AferoBackend serves a scheme from an afero filesystem.
// The file scheme uses the OS filesystem and mem uses an in-memory tree.
type AferoBackend struct {
	scheme string
	fs     afero.Fs
	// slash paths are rooted at "/" when set (mem://a/b -> /a/b)
	rooted bool
}

// NewLocalBackend serves file:// and unprefixed paths from the OS filesystem
func NewLocalBackend() *AferoBackend {
	return &AferoBackend{scheme: SchemeFile, fs: afero.NewOsFs()}
}

// NewMemBackend serves mem:// from a fresh in-memory filesystem
func NewMemBackend() *AferoBackend {
	return NewAferoBackend(SchemeMem, afero.NewMemMapFs())
}

// NewAferoBackend serves scheme from any afero filesystem with slash rooted paths
func NewAferoBackend(scheme string, fsys afero.Fs) *AferoBackend {
	return &AferoBackend{scheme: scheme, fs: fsys, rooted: true}
}

func (b *AferoBackend) Scheme() string {
	return b.scheme
}

// Fs exposes the underlying filesystem
func (b *AferoBackend) Fs() afero.Fs {
	return b.fs
}

func (b *AferoBackend) name(p string) string {
	if b.rooted {
		return path.Clean("/" + p)
	}
	return filepath.Clean(p)
}

func (b *AferoBackend) Open(ctx context.Context, p string, mode Mode) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := b.name(p)
	switch mode {
	case ModeRead:
		f, err := b.fs.Open(name)
		if err != nil {
			return nil, wrapFsError(err)
		}
		if st, err := f.Stat(); err == nil && st.IsDir() {
			f.Close()
			return nil, ErrIsDir
		}
		return readOnly{f}, nil

	case ModeWrite:
		if err := b.fs.MkdirAll(filepath.Dir(name), defaultDirPerm); err != nil {
			return nil, err
		}
		f, err := b.fs.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFilePerm)
		if err != nil {
			return nil, wrapFsError(err)
		}
		return writeOnly{f}, nil
	}
	return nil, ErrBadMode
}

func (b *AferoBackend) ScanDir(ctx context.Context, p string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(b.fs, b.name(p))
	if err != nil {
		return nil, wrapFsError(err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, toInfo(e))
	}
	return infos, nil
}

func (b *AferoBackend) FileInfo(ctx context.Context, p string) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := b.fs.Stat(b.name(p))
	if err != nil {
		return nil, wrapFsError(err)
	}
	info := toInfo(st)
	return &info, nil
}

func (b *AferoBackend) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrapFsError(b.fs.Remove(b.name(p)))
}

func (b *AferoBackend) SetMtime(ctx context.Context, p string, mtime int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.Unix(mtime, 0)
	return wrapFsError(b.fs.Chtimes(b.name(p), t, t))
}

func (b *AferoBackend) Chmod(ctx context.Context, p string, perm uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrapFsError(b.fs.Chmod(b.name(p), fs.FileMode(perm).Perm()))
}

func (b *AferoBackend) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := b.name(to)
	if err := b.fs.MkdirAll(filepath.Dir(dst), defaultDirPerm); err != nil {
		return err
	}
	return wrapFsError(b.fs.Rename(b.name(from), dst))
}

func (b *AferoBackend) MkdirAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.fs.MkdirAll(b.name(p), defaultDirPerm)
}

func toInfo(fi fs.FileInfo) Info {
	info := Info{
		Name:       fi.Name(),
		IsDir:      fi.IsDir(),
		Mtime:      fi.ModTime().Unix(),
		Permission: uint32(fi.Mode().Perm()),
	}
	if !info.IsDir {
		info.Size = fi.Size()
	}
	return info
}

func wrapFsError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Join(ErrNotFound, err)
	}
	return err
}

// IsNotFound reports whether err means the path does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

var _ Backend = (*AferoBackend)(nil)
