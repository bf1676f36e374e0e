package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tunebox/tunesync/internal/db"
	"github.com/tunebox/tunesync/internal/tunesdk"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS sync_records (
    path TEXT PRIMARY KEY,
    local_version INTEGER NOT NULL DEFAULT 0,
    remote_version INTEGER NOT NULL DEFAULT 0,
    local_size INTEGER,       -- NULL when the local side was never synced
    remote_size INTEGER,      -- NULL when the remote side is unknown
    local_permission INTEGER,
    remote_permission INTEGER,
    local_mtime INTEGER,
    remote_mtime INTEGER
);
`

const selectRecord = `SELECT path, local_version, remote_version, local_size, remote_size,
	local_permission, remote_permission, local_mtime, remote_mtime FROM sync_records`

var ErrJournalClosed = errors.New("sync journal not open")

// dbRecord is the row form of a SyncRecord. A NULL size marks an absent side.
type dbRecord struct {
	Path             string        `db:"path"`
	LocalVersion     int64         `db:"local_version"`
	RemoteVersion    int64         `db:"remote_version"`
	LocalSize        sql.NullInt64 `db:"local_size"`
	RemoteSize       sql.NullInt64 `db:"remote_size"`
	LocalPermission  sql.NullInt64 `db:"local_permission"`
	RemotePermission sql.NullInt64 `db:"remote_permission"`
	LocalMtime       sql.NullInt64 `db:"local_mtime"`
	RemoteMtime      sql.NullInt64 `db:"remote_mtime"`
}

func toDBRecord(r *SyncRecord) dbRecord {
	row := dbRecord{Path: r.Path}
	if l := r.Local; l != nil {
		row.LocalVersion = l.Version
		row.LocalSize = sql.NullInt64{Int64: l.Size, Valid: true}
		row.LocalPermission = sql.NullInt64{Int64: int64(l.Permission), Valid: true}
		row.LocalMtime = sql.NullInt64{Int64: l.Mtime, Valid: true}
	}
	if rm := r.Remote; rm != nil {
		row.RemoteVersion = rm.Version
		row.RemoteSize = sql.NullInt64{Int64: rm.Size, Valid: true}
		row.RemotePermission = sql.NullInt64{Int64: int64(rm.Permission), Valid: true}
		row.RemoteMtime = sql.NullInt64{Int64: rm.Mtime, Valid: true}
	}
	return row
}

func (row *dbRecord) toRecord() *SyncRecord {
	r := &SyncRecord{Path: row.Path}
	if row.LocalSize.Valid {
		r.Local = &Snapshot{
			Size:       row.LocalSize.Int64,
			Mtime:      row.LocalMtime.Int64,
			Permission: uint32(row.LocalPermission.Int64),
			Version:    row.LocalVersion,
		}
	}
	if row.RemoteSize.Valid {
		r.Remote = &Snapshot{
			Size:       row.RemoteSize.Int64,
			Mtime:      row.RemoteMtime.Int64,
			Permission: uint32(row.RemotePermission.Int64),
			Version:    row.RemoteVersion,
		}
	}
	return r
}

// SyncJournal is the local metadata store: one record per relative path.
// Writes are serialized so transfer workers may call it concurrently.
type SyncJournal struct {
	db     *sqlx.DB
	dbPath string
	mu     sync.Mutex
}

func NewSyncJournal(dbPath string) *SyncJournal {
	return &SyncJournal{dbPath: dbPath}
}

// Open opens the journal, creating the database when needed
func (s *SyncJournal) Open() error {
	if s.db != nil {
		return fmt.Errorf("sync journal already open")
	}

	sqlDB, err := db.NewSqliteDB(
		db.WithPath(s.dbPath),
		db.WithMaxOpenConns(1),
		db.WithSchema(journalSchema),
	)
	if err != nil {
		return fmt.Errorf("failed to open sync journal: %w", err)
	}

	s.db = sqlDB
	return nil
}

func (s *SyncJournal) Close() error {
	if s.db == nil {
		return ErrJournalClosed
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		slog.Error("sync journal close", "error", err)
		return err
	}
	slog.Debug("sync journal closed")
	return nil
}

// Get returns the record of path, nil when there is none
func (s *SyncJournal) Get(ctx context.Context, path string) (*SyncRecord, error) {
	if s.db == nil {
		return nil, ErrJournalClosed
	}

	var row dbRecord
	err := s.db.GetContext(ctx, &row, selectRecord+` WHERE path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to query path %s: %w", path, err)
	}
	return row.toRecord(), nil
}

// Put stores rec. An empty record is pruned instead.
func (s *SyncJournal) Put(ctx context.Context, rec *SyncRecord) error {
	if s.db == nil {
		return ErrJournalClosed
	}
	if rec == nil {
		return fmt.Errorf("cannot put nil record")
	}
	if rec.IsEmpty() {
		return s.Delete(ctx, rec.Path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT OR REPLACE INTO sync_records (path, local_version, remote_version, local_size, remote_size,
		local_permission, remote_permission, local_mtime, remote_mtime)
		VALUES (:path, :local_version, :remote_version, :local_size, :remote_size,
		:local_permission, :remote_permission, :local_mtime, :remote_mtime)`
	if _, err := s.db.NamedExecContext(ctx, query, toDBRecord(rec)); err != nil {
		return fmt.Errorf("failed to put record %s: %w", rec.Path, err)
	}
	return nil
}

func (s *SyncJournal) Delete(ctx context.Context, path string) error {
	if s.db == nil {
		return ErrJournalClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_records WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete path %s: %w", path, err)
	}
	return nil
}

// List returns the records under the directory prefix, ordered by path. The empty prefix is everything.
func (s *SyncJournal) List(ctx context.Context, prefix string) ([]*SyncRecord, error) {
	if s.db == nil {
		return nil, ErrJournalClosed
	}

	query := selectRecord
	var args []any
	if prefix != "" {
		query += ` WHERE path GLOB ?`
		args = append(args, globEscape(prefix)+"/*")
	}
	query += ` ORDER BY path`

	var rows []dbRecord
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}

	records := make([]*SyncRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toRecord())
	}
	return records, nil
}

// UpdateRemote replaces the remote snapshots under prefix with a fresh listing. Without
// recursive only the immediate children of prefix are touched. Records whose path no longer
// appears lose their remote side, and empty records are pruned.
func (s *SyncJournal) UpdateRemote(ctx context.Context, prefix string, recursive bool, listing []*tunesdk.RemoteFile) (int, error) {
	existing, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	inScope := func(p string) bool {
		child, nested := childOf(prefix, p)
		return child != "" && (recursive || !nested)
	}

	byPath := make(map[string]*SyncRecord, len(existing))
	for _, r := range existing {
		if inScope(r.Path) {
			byPath[r.Path] = r
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareNamedContext(ctx, `INSERT OR REPLACE INTO sync_records (path, local_version, remote_version,
		local_size, remote_size, local_permission, remote_permission, local_mtime, remote_mtime)
		VALUES (:path, :local_version, :remote_version, :local_size, :remote_size,
		:local_permission, :remote_permission, :local_mtime, :remote_mtime)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer upsert.Close()

	changed := 0
	seen := make(map[string]bool, len(listing))
	for _, f := range listing {
		if !inScope(f.Path) {
			continue
		}
		seen[f.Path] = true

		rec := byPath[f.Path]
		if rec == nil {
			rec = &SyncRecord{Path: f.Path}
		}
		next := snapshotFromRemote(f)
		if rec.Remote != nil && *rec.Remote == *next {
			continue
		}
		rec.Remote = next
		if _, err := upsert.ExecContext(ctx, toDBRecord(rec)); err != nil {
			return 0, fmt.Errorf("failed to update %s: %w", f.Path, err)
		}
		changed++
	}

	for path, rec := range byPath {
		if seen[path] || rec.Remote == nil {
			continue
		}
		rec.Remote = nil
		if rec.IsEmpty() {
			_, err = tx.ExecContext(ctx, `DELETE FROM sync_records WHERE path = ?`, path)
		} else {
			_, err = upsert.ExecContext(ctx, toDBRecord(rec))
		}
		if err != nil {
			return 0, fmt.Errorf("failed to update %s: %w", path, err)
		}
		changed++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return changed, nil
}

func (s *SyncJournal) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrJournalClosed
	}
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sync_records`); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// Destroy closes the journal and moves the database aside as a timestamped backup
func (s *SyncJournal) Destroy() error {
	if s.db != nil {
		if err := s.Close(); err != nil {
			return fmt.Errorf("failed to clear journal: %w", err)
		}
	}

	timestamp := time.Now().Format("20060102150405")
	if err := os.Rename(s.dbPath, fmt.Sprintf("%s.%s.bak", s.dbPath, timestamp)); err != nil {
		return fmt.Errorf("failed to rename journal file: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(s.dbPath + suffix)
	}
	return nil
}

var globEscaper = strings.NewReplacer("[", "[[]", "*", "[*]", "?", "[?]")

func globEscape(s string) string {
	return globEscaper.Replace(s)
}
