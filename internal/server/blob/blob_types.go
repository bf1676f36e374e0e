package blob

import "errors"

var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidPath = errors.New("invalid blob path")
)

// Key addresses one file: the owning user, the client chosen root and the relative path
type Key struct {
	Owner string
	Root  string
	Path  string
}

// FileInfo is the indexed state of one file. Version starts at 1 and grows by one on every
// write, deletions included, so a path never reuses a version.
type FileInfo struct {
	Owner      string `db:"owner"`
	Root       string `db:"root"`
	Path       string `db:"path"`
	Size       int64  `db:"size"`
	Mtime      int64  `db:"mtime"`
	Permission uint32 `db:"permission"`
	Version    int64  `db:"version"`
	Deleted    bool   `db:"deleted"`
	UpdatedAt  int64  `db:"updated_at"`
}

func (f *FileInfo) Key() Key {
	return Key{Owner: f.Owner, Root: f.Root, Path: f.Path}
}
