// Package storage addresses local disk, memory and object stores through scheme prefixed paths.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrUnknownScheme = errors.New("storage: unknown scheme")
	ErrInvalidPath   = errors.New("storage: invalid path")
	ErrBadMode       = errors.New("storage: operation not allowed in this open mode")
	ErrIsDir         = errors.New("storage: is a directory")
)

// Mode selects how Open prepares a file
type Mode int

const (
	// ModeRead opens an existing file for reading
	ModeRead Mode = iota
	// ModeWrite creates or truncates a file for writing, creating parents as needed
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Info describes a file or directory. Mtime is in epoch seconds.
type Info struct {
	Name       string `json:"name"`
	IsDir      bool   `json:"isDir"`
	Size       int64  `json:"size"`
	Mtime      int64  `json:"mtime"`
	Permission uint32 `json:"permission"`
}

// File is an open handle. Handles opened with ModeRead fail on Write and vice versa.
// For object stores the content becomes visible only after Close returns nil.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// Backend is a single storage scheme. Paths passed to a backend have the scheme stripped.
type Backend interface {
	Scheme() string
	Open(ctx context.Context, path string, mode Mode) (File, error)
	// ScanDir lists the immediate children of a directory
	ScanDir(ctx context.Context, path string) ([]Info, error)
	// FileInfo returns ErrNotFound when nothing exists at path
	FileInfo(ctx context.Context, path string) (*Info, error)
	Remove(ctx context.Context, path string) error
	SetMtime(ctx context.Context, path string, mtime int64) error
	Chmod(ctx context.Context, path string, perm uint32) error
	Rename(ctx context.Context, from, to string) error
	MkdirAll(ctx context.Context, path string) error
}

// readOnly adapts an io.ReadCloser to File
type readOnly struct {
	io.ReadCloser
}

func (readOnly) Write([]byte) (int, error) {
	return 0, ErrBadMode
}

// writeOnly adapts an io.WriteCloser to File
type writeOnly struct {
	io.WriteCloser
}

func (writeOnly) Read([]byte) (int, error) {
	return 0, ErrBadMode
}
