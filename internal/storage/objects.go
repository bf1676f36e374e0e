package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// object metadata keys carrying file attributes
const (
	metaMtime      = "tune-mtime"
	metaPermission = "tune-permission"
)

// splitBucketKey turns "bucket/a/b" into ("bucket", "a/b")
func splitBucketKey(p string) (bucket string, key string, err error) {
	p = strings.TrimPrefix(p, "/")
	bucket, key, _ = strings.Cut(p, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket in %q", ErrInvalidPath, p)
	}
	return bucket, strings.Trim(key, "/"), nil
}

// dirPrefix returns the listing prefix for a directory key
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

func baseName(key string) string {
	key = strings.TrimSuffix(key, "/")
	if idx := strings.LastIndexByte(key, '/'); idx >= 0 {
		return key[idx+1:]
	}
	return key
}

func objectMeta(mtime int64, perm uint32) map[string]string {
	return map[string]string{
		metaMtime:      strconv.FormatInt(mtime, 10),
		metaPermission: strconv.FormatUint(uint64(perm), 8),
	}
}

// lookupMeta reads a metadata value ignoring key case and any x-amz-meta- prefix
func lookupMeta(meta map[string]string, key string) (string, bool) {
	for k, v := range meta {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, "x-amz-meta-")
		if k == key {
			return v, true
		}
	}
	return "", false
}

// objectInfo fills an Info from object attributes, falling back to lastModified for mtime
func objectInfo(key string, size int64, lastModified time.Time, meta map[string]string) Info {
	info := Info{
		Name:       baseName(key),
		Size:       size,
		Mtime:      lastModified.Unix(),
		Permission: defaultFilePerm,
	}
	if v, ok := lookupMeta(meta, metaMtime); ok {
		if m, err := strconv.ParseInt(v, 10, 64); err == nil {
			info.Mtime = m
		}
	}
	if v, ok := lookupMeta(meta, metaPermission); ok {
		if p, err := strconv.ParseUint(v, 8, 32); err == nil {
			info.Permission = uint32(p)
		}
	}
	return info
}

func dirInfo(key string) Info {
	return Info{Name: baseName(key), IsDir: true, Permission: defaultDirPerm}
}

// spoolFile buffers object writes on disk so the final size is known at upload time
type spoolFile struct {
	tmp    *os.File
	commit func(f *os.File, size int64) error
	size   int64
	closed bool
}

func newSpoolFile(commit func(f *os.File, size int64) error) (*spoolFile, error) {
	tmp, err := os.CreateTemp("", "tunesync-spool-*")
	if err != nil {
		return nil, err
	}
	return &spoolFile{tmp: tmp, commit: commit}, nil
}

func (s *spoolFile) Write(p []byte) (int, error) {
	n, err := s.tmp.Write(p)
	s.size += int64(n)
	return n, err
}

func (s *spoolFile) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer func() {
		s.tmp.Close()
		os.Remove(s.tmp.Name())
	}()

	if _, err := s.tmp.Seek(0, 0); err != nil {
		return err
	}
	return s.commit(s.tmp, s.size)
}
