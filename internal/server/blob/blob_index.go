package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Schema is applied by the server when the database is opened
var Schema = []string{`
CREATE TABLE IF NOT EXISTS files (
	owner TEXT NOT NULL,
	root TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	mtime INTEGER NOT NULL DEFAULT 0,
	permission INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 0,
	deleted INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner, root, path)
);`,
	`CREATE INDEX IF NOT EXISTS idx_files_live ON files(owner, root, deleted);`,
}

const selectColumns = `SELECT owner, root, path, size, mtime, permission, version, deleted, updated_at FROM files`

// BlobIndex keeps file attributes and versions in sqlite. Deleted rows are kept as
// tombstones so versions keep increasing when a path is recreated.
type BlobIndex struct {
	db *sqlx.DB
}

func NewBlobIndex(db *sqlx.DB) (*BlobIndex, error) {
	for _, stmt := range Schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize index: %w", err)
		}
	}
	return &BlobIndex{db: db}, nil
}

func (bi *BlobIndex) Close() error {
	return bi.db.Close()
}

// Get returns a live file or ErrNotFound
func (bi *BlobIndex) Get(ctx context.Context, key Key) (*FileInfo, error) {
	var info FileInfo
	err := bi.db.GetContext(ctx, &info, selectColumns+` WHERE owner = ? AND root = ? AND path = ? AND deleted = 0`,
		key.Owner, key.Root, key.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get %q: %w", key.Path, err)
	}
	return &info, nil
}

// Put stores the attributes of a new write and returns the row with its new version
func (bi *BlobIndex) Put(ctx context.Context, key Key, size, mtime int64, permission uint32) (*FileInfo, error) {
	now := time.Now().Unix()

	var info FileInfo
	err := bi.db.GetContext(ctx, &info, `
		INSERT INTO files (owner, root, path, size, mtime, permission, version, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, 0, ?)
		ON CONFLICT(owner, root, path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			permission = excluded.permission,
			version = files.version + 1,
			deleted = 0,
			updated_at = excluded.updated_at
		RETURNING owner, root, path, size, mtime, permission, version, deleted, updated_at`,
		key.Owner, key.Root, key.Path, size, mtime, permission, now)
	if err != nil {
		return nil, fmt.Errorf("put %q: %w", key.Path, err)
	}
	return &info, nil
}

// Remove turns a live file into a tombstone. It reports false when nothing was live.
func (bi *BlobIndex) Remove(ctx context.Context, key Key) (bool, error) {
	res, err := bi.db.ExecContext(ctx, `
		UPDATE files SET deleted = 1, version = version + 1, size = 0, updated_at = ?
		WHERE owner = ? AND root = ? AND path = ? AND deleted = 0`,
		time.Now().Unix(), key.Owner, key.Root, key.Path)
	if err != nil {
		return false, fmt.Errorf("remove %q: %w", key.Path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns live files of owner/root under the directory prefix, ordered by path.
// An empty prefix lists the whole root.
func (bi *BlobIndex) List(ctx context.Context, owner, root, prefix string) ([]*FileInfo, error) {
	query := selectColumns + ` WHERE owner = ? AND root = ? AND deleted = 0`
	args := []any{owner, root}
	if prefix != "" {
		query += ` AND path GLOB ?`
		args = append(args, globEscape(prefix)+"/*")
	}
	query += ` ORDER BY path`

	files := []*FileInfo{}
	if err := bi.db.SelectContext(ctx, &files, query, args...); err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return files, nil
}

// Count returns the number of live files across all owners
func (bi *BlobIndex) Count(ctx context.Context) int {
	var count int
	if err := bi.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM files WHERE deleted = 0`); err != nil {
		return 0
	}
	return count
}

var globEscaper = strings.NewReplacer("[", "[[]", "*", "[*]", "?", "[?]")

// globEscape quotes sqlite GLOB metacharacters
func globEscape(s string) string {
	return globEscaper.Replace(s)
}
