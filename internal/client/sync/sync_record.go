package sync

import (
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/tunesdk"
	"github.com/tunebox/tunesync/internal/utils"
)

// Snapshot is the state of one side of a path at the last synchronization point.
// Mtime is in epoch seconds. Version is the remote version the snapshot belongs to.
type Snapshot struct {
	Size       int64
	Mtime      int64
	Permission uint32
	Version    int64
}

// SyncRecord is the journal row of one relative path. A nil side was never synced from there.
type SyncRecord struct {
	Path   string
	Local  *Snapshot
	Remote *Snapshot
}

// IsEmpty reports a record that carries no information and must not be kept
func (r *SyncRecord) IsEmpty() bool {
	return r == nil || (r.Local == nil && r.Remote == nil)
}

// Clone returns a deep copy
func (r *SyncRecord) Clone() *SyncRecord {
	if r == nil {
		return nil
	}
	c := &SyncRecord{Path: r.Path}
	if r.Local != nil {
		local := *r.Local
		c.Local = &local
	}
	if r.Remote != nil {
		remote := *r.Remote
		c.Remote = &remote
	}
	return c
}

// Observation is a live probe of a local file. A nil *Observation means absent.
type Observation struct {
	Size       int64
	Mtime      int64
	Permission uint32
}

func observationFromInfo(info *storage.Info) *Observation {
	if info == nil || info.IsDir {
		return nil
	}
	return &Observation{Size: info.Size, Mtime: info.Mtime, Permission: info.Permission}
}

// sameContent compares a live observation with a snapshot by size and mtime. Both absent are equal.
func sameContent(live *Observation, snap *Snapshot) bool {
	if live == nil || snap == nil {
		return live == nil && snap == nil
	}
	return live.Size == snap.Size && live.Mtime == snap.Mtime
}

func snapshotFromRemote(f *tunesdk.RemoteFile) *Snapshot {
	if f == nil {
		return nil
	}
	return &Snapshot{Size: f.Size, Mtime: f.Mtime, Permission: f.Permission, Version: f.Version}
}

// FileEntry is the unit the classifier and executor work on
type FileEntry struct {
	RelPath      string
	LocalPath    string // storage URI of the local file
	RemotePath   string // path relative to the remote root
	CachedLocal  *Snapshot
	CachedRemote *Snapshot
	LiveLocal    *Observation
	// LiveErr is set when the local probe failed, as opposed to the file being absent
	LiveErr error
}

// Record returns the journal view of the entry
func (e *FileEntry) Record() *SyncRecord {
	return &SyncRecord{Path: e.RelPath, Local: e.CachedLocal, Remote: e.CachedRemote}
}

// DirEntry is a child directory. Directories are implicit: they exist when a descendant does.
type DirEntry struct {
	RelPath      string
	LocalExists  bool
	RemoteExists bool
	// Cached is set when the journal knows a descendant
	Cached bool
}

// RecordBuilder assembles a SyncRecord one side at a time
type RecordBuilder struct {
	rec SyncRecord
}

func NewRecordBuilder(path string) *RecordBuilder {
	return &RecordBuilder{rec: SyncRecord{Path: utils.NormRelPath(path)}}
}

func (b *RecordBuilder) local() *Snapshot {
	if b.rec.Local == nil {
		b.rec.Local = &Snapshot{}
	}
	return b.rec.Local
}

func (b *RecordBuilder) remote() *Snapshot {
	if b.rec.Remote == nil {
		b.rec.Remote = &Snapshot{}
	}
	return b.rec.Remote
}

// Local marks the local side as synced at version
func (b *RecordBuilder) Local(version int64) *RecordBuilder {
	b.local().Version = version
	return b
}

// LocalStat sets the local attributes
func (b *RecordBuilder) LocalStat(size, mtime int64, permission uint32) *RecordBuilder {
	l := b.local()
	l.Size, l.Mtime, l.Permission = size, mtime, permission
	return b
}

// LocalSnapshot copies a full snapshot, nil clears the side
func (b *RecordBuilder) LocalSnapshot(s *Snapshot) *RecordBuilder {
	if s == nil {
		b.rec.Local = nil
		return b
	}
	c := *s
	b.rec.Local = &c
	return b
}

// Remote marks the remote side as observed at version with the given attributes
func (b *RecordBuilder) Remote(version, size int64, permission uint32) *RecordBuilder {
	r := b.remote()
	r.Version, r.Size, r.Permission = version, size, permission
	return b
}

func (b *RecordBuilder) RemoteMtime(mtime int64) *RecordBuilder {
	b.remote().Mtime = mtime
	return b
}

func (b *RecordBuilder) RemoteSnapshot(s *Snapshot) *RecordBuilder {
	if s == nil {
		b.rec.Remote = nil
		return b
	}
	c := *s
	b.rec.Remote = &c
	return b
}

// Build returns a copy, so the builder may be reused
func (b *RecordBuilder) Build() *SyncRecord {
	return b.rec.Clone()
}
