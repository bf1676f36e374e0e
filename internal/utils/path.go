package utils

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrEmptyPath = errors.New("path cannot be empty")

// ResolvePath expands `~` and returns a clean absolute path
func ResolvePath(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}

	if strings.HasPrefix(p, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		p = strings.Replace(p, "~", homeDir, 1)
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(p string) error {
	return EnsureDir(filepath.Dir(p))
}

func EnsureDir(p string) error {
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return os.MkdirAll(p, 0o755)
}

func DirExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// NormRelPath turns any relative path into the slash separated form used as a record key.
// Leading and trailing separators are removed and `.` collapses to the empty string.
func NormRelPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// JoinRel joins relative record paths, skipping empty segments
func JoinRel(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = NormRelPath(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}

// IsSubPath reports whether rel lies under dir. The empty dir contains everything.
func IsSubPath(dir, rel string) bool {
	dir = NormRelPath(dir)
	rel = NormRelPath(rel)
	if dir == "" {
		return true
	}
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}
