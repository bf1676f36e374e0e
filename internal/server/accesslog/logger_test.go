package accesslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"alice@example.com", "alice@example.com"},
		{"bob+test@example.com", "bob_test@example.com"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"user name", "user_name"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, sanitizeUsername(tt.input))
	}
}

func TestAccessLogger_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	al, err := New(dir)
	require.NoError(t, err)
	defer al.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, al.Write(&Entry{
			Timestamp:  time.Now().UTC(),
			User:       "alice@example.com",
			Op:         OpUpload,
			Root:       "music",
			Path:       fmt.Sprintf("track%d.flac", i),
			StatusCode: 200,
			Bytes:      int64(i),
		}))
	}
	require.NoError(t, al.Write(&Entry{User: "bob@example.com", Op: OpList}))

	entries, err := al.UserLogs("alice@example.com", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "track0.flac", entries[0].Path)
	assert.Equal(t, "track2.flac", entries[2].Path)
	assert.Equal(t, OpUpload, entries[2].Op)

	entries, err = al.UserLogs("alice@example.com", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "track1.flac", entries[0].Path)

	entries, err = al.UserLogs("nobody@example.com", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	info, err := os.Stat(filepath.Join(dir, "alice@example.com", currentLogName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(LogFilePermission), info.Mode().Perm())
}

func TestAccessLogger_AnonymousUser(t *testing.T) {
	al, err := New(t.TempDir())
	require.NoError(t, err)
	defer al.Close()

	require.NoError(t, al.Write(&Entry{Op: OpDownload}))
	entries, err := al.UserLogs("anonymous", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "anonymous", entries[0].User)
}

func TestAccessLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	al, err := New(dir)
	require.NoError(t, err)
	defer al.Close()
	al.maxSize = 256
	al.maxFiles = 3

	for i := 0; i < 40; i++ {
		require.NoError(t, al.Write(&Entry{User: "alice@example.com", Op: OpUpload, Path: fmt.Sprintf("file-%02d.flac", i)}))
	}

	names, err := logFiles(filepath.Join(dir, "alice@example.com"))
	require.NoError(t, err)
	assert.Len(t, names, 3)
	assert.Equal(t, currentLogName, names[len(names)-1])

	entries, err := al.UserLogs("alice@example.com", 100)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Less(t, len(entries), 40, "oldest rotated files are removed")
	assert.Equal(t, "file-39.flac", entries[len(entries)-1].Path)
}

func TestAccessLogger_ConcurrentWrites(t *testing.T) {
	al, err := New(t.TempDir())
	require.NoError(t, err)
	defer al.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				assert.NoError(t, al.Write(&Entry{User: "alice@example.com", Op: OpList, Path: fmt.Sprintf("%d/%d", i, j)}))
			}
		}(i)
	}
	wg.Wait()

	entries, err := al.UserLogs("alice@example.com", 1000)
	require.NoError(t, err)
	assert.Len(t, entries, 200)
}

func TestAccessLogger_WriteAfterClose(t *testing.T) {
	al, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, al.Close())
	assert.ErrorIs(t, al.Write(&Entry{User: "alice@example.com"}), ErrClosed)
}

func TestOpFor(t *testing.T) {
	op, ok := opFor("/api/v1/files/upload")
	assert.True(t, ok)
	assert.Equal(t, OpUpload, op)

	_, ok = opFor("/api/v1/keys/server")
	assert.False(t, ok)
}
