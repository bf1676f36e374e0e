package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

const (
	SchemeFile  = "file"
	SchemeMem   = "mem"
	SchemeS3    = "s3"
	SchemeMinio = "minio"

	schemeSep = "://"
)

// Registry dispatches scheme prefixed paths to backends.
// Unprefixed paths go to the file backend.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds a registry from the given backends. Later backends replace
// earlier ones with the same scheme.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Scheme()] = b
	}
	return r
}

// Schemes lists the registered schemes
func (r *Registry) Schemes() []string {
	schemes := make([]string, 0, len(r.backends))
	for s := range r.backends {
		schemes = append(schemes, s)
	}
	return schemes
}

// SplitScheme returns the scheme and the remainder. Unprefixed paths report SchemeFile.
func SplitScheme(uri string) (scheme string, rest string, prefixed bool) {
	if idx := strings.Index(uri, schemeSep); idx > 0 {
		return uri[:idx], uri[idx+len(schemeSep):], true
	}
	return SchemeFile, uri, false
}

// Resolve finds the backend for uri and returns the backend local path
func (r *Registry) Resolve(uri string) (Backend, string, error) {
	if uri == "" {
		return nil, "", ErrInvalidPath
	}

	scheme, rest, _ := SplitScheme(uri)
	b, ok := r.backends[scheme]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return b, rest, nil
}

// Join appends slash separated relative segments to base, keeping its scheme
func (r *Registry) Join(base string, rel ...string) string {
	scheme, rest, prefixed := SplitScheme(base)
	if !prefixed {
		parts := make([]string, 0, len(rel)+1)
		parts = append(parts, base)
		for _, p := range rel {
			parts = append(parts, filepath.FromSlash(p))
		}
		return filepath.Join(parts...)
	}

	joined := path.Join(append([]string{rest}, rel...)...)
	if strings.HasPrefix(rest, "/") && !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}
	return scheme + schemeSep + joined
}

// Split returns the parent and the last element of uri
func (r *Registry) Split(uri string) (dir string, name string) {
	scheme, rest, prefixed := SplitScheme(uri)
	if !prefixed {
		return filepath.Dir(uri), filepath.Base(uri)
	}

	rest = strings.TrimSuffix(rest, "/")
	d, n := path.Split(rest)
	return scheme + schemeSep + strings.TrimSuffix(d, "/"), n
}

func (r *Registry) Open(ctx context.Context, uri string, mode Mode) (File, error) {
	b, p, err := r.Resolve(uri)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, p, mode)
}

// OpenReader is Open(ModeRead) narrowed to io.ReadCloser
func (r *Registry) OpenReader(ctx context.Context, uri string) (io.ReadCloser, error) {
	return r.Open(ctx, uri, ModeRead)
}

// Create is Open(ModeWrite) narrowed to io.WriteCloser
func (r *Registry) Create(ctx context.Context, uri string) (io.WriteCloser, error) {
	return r.Open(ctx, uri, ModeWrite)
}

func (r *Registry) ScanDir(ctx context.Context, uri string) ([]Info, error) {
	b, p, err := r.Resolve(uri)
	if err != nil {
		return nil, err
	}
	return b.ScanDir(ctx, p)
}

func (r *Registry) FileInfo(ctx context.Context, uri string) (*Info, error) {
	b, p, err := r.Resolve(uri)
	if err != nil {
		return nil, err
	}
	return b.FileInfo(ctx, p)
}

// Exists reports whether something exists at uri. Errors other than ErrNotFound are returned.
func (r *Registry) Exists(ctx context.Context, uri string) (bool, error) {
	_, err := r.FileInfo(ctx, uri)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (r *Registry) Remove(ctx context.Context, uri string) error {
	b, p, err := r.Resolve(uri)
	if err != nil {
		return err
	}
	return b.Remove(ctx, p)
}

func (r *Registry) SetMtime(ctx context.Context, uri string, mtime int64) error {
	b, p, err := r.Resolve(uri)
	if err != nil {
		return err
	}
	return b.SetMtime(ctx, p, mtime)
}

func (r *Registry) Chmod(ctx context.Context, uri string, perm uint32) error {
	b, p, err := r.Resolve(uri)
	if err != nil {
		return err
	}
	return b.Chmod(ctx, p, perm)
}

// Rename moves a file within one backend
func (r *Registry) Rename(ctx context.Context, from, to string) error {
	bFrom, pFrom, err := r.Resolve(from)
	if err != nil {
		return err
	}
	bTo, pTo, err := r.Resolve(to)
	if err != nil {
		return err
	}
	if bFrom != bTo {
		return fmt.Errorf("%w: rename across schemes %q -> %q", ErrInvalidPath, bFrom.Scheme(), bTo.Scheme())
	}
	return bFrom.Rename(ctx, pFrom, pTo)
}

func (r *Registry) MkdirAll(ctx context.Context, uri string) error {
	b, p, err := r.Resolve(uri)
	if err != nil {
		return err
	}
	return b.MkdirAll(ctx, p)
}
