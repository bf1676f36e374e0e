package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunebox/tunesync/internal/envelope"
	"github.com/tunebox/tunesync/internal/tunesdk"
)

func TestSync_BidirectionalThenSame(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("a.flac", "aaaa")
	env.writeLocal("album/b.flac", "bb")
	env.writeLocal("album/disc2/c.flac", "c")

	report := env.run("", bothWays)
	assert.Equal(t, 3, report.Actions()[ActionUpload])
	assert.Equal(t, 3, report.Dirs())
	assert.Empty(t, report.Errors())
	assert.ElementsMatch(t, []string{"a.flac", "album/b.flac", "album/disc2/c.flac"}, env.remotePaths())

	for _, dir := range []string{"", "album", "album/disc2"} {
		for path, state := range env.states(dir) {
			assert.Equal(t, StateSame, state, path)
		}
	}

	again := env.run("", bothWays)
	assert.Zero(t, again.Actions()[ActionUpload])
	assert.Zero(t, again.Actions()[ActionDownload])
	assert.Equal(t, 3, again.Counts()[StateSame])
}

func TestSync_PushIdempotent(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("track.flac", "content")

	first := env.run("", pushOnly)
	assert.Equal(t, 1, first.Actions()[ActionUpload])
	assert.Equal(t, envelope.FramedSize(envelope.ModeNone, int64(len("content")), envelope.DefaultChunkShift), first.Bytes())

	second := env.run("", pushOnly)
	assert.Zero(t, second.Actions()[ActionUpload])
	assert.Zero(t, second.Bytes())
}

func TestSync_RemoteOnlyFileIsPulled(t *testing.T) {
	env := newSyncEnv(t)
	up := env.writeRemote("new/song.flac", "hello")

	assert.Equal(t, StatePull, env.states("new")["new/song.flac"])

	report := env.run("", pullOnly)
	assert.Equal(t, 1, report.Actions()[ActionDownload])
	assert.Equal(t, "hello", env.readLocal("new/song.flac"))
	assert.Equal(t, StateSame, env.states("new")["new/song.flac"])

	info, err := env.registry.FileInfo(env.ctx, env.localURI("new/song.flac"))
	require.NoError(t, err)
	assert.Equal(t, up.Mtime, info.Mtime)

	rec, err := env.journal.Get(env.ctx, "new/song.flac")
	require.NoError(t, err)
	assert.Equal(t, up.Version, rec.Local.Version)
	assert.Equal(t, up.Version, rec.Remote.Version)
}

func TestSync_LocalEditIsPushed_ForcedPullKeepsIt(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("a.flac", "v1")
	env.run("", pushOnly)

	env.writeLocal("a.flac", "v2 edited locally")
	assert.Equal(t, StatePush, env.states("")["a.flac"])

	forced := env.run("", Options{Pull: true, Force: true, Recursive: true})
	assert.Zero(t, forced.Actions()[ActionDownload])
	assert.Equal(t, "v2 edited locally", env.readLocal("a.flac"))

	env.run("", pushOnly)
	assert.Equal(t, "v2 edited locally", string(env.readRemote("a.flac")))
	assert.Equal(t, StateSame, env.states("")["a.flac"])
}

func TestSync_ConflictModified(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("a.flac", "base")
	env.run("", pushOnly)

	env.writeRemote("a.flac", "remote edit")
	env.writeLocal("a.flac", "local edit!")
	assert.Equal(t, StateConflictModified, env.states("")["a.flac"])

	report := env.run("", pushOnly)
	require.Len(t, report.Conflicts(), 1)
	assert.ErrorIs(t, report.Conflicts()[0].Err, ErrConflict)
	assert.Equal(t, "remote edit", string(env.readRemote("a.flac")))

	both := env.run("", Options{Push: true, Pull: true, Force: true, Recursive: true})
	assert.Len(t, both.Conflicts(), 1, "two way sync never resolves conflicts")

	forced := env.run("", Options{Push: true, Force: true, Recursive: true})
	assert.Empty(t, forced.Conflicts())
	assert.Equal(t, "local edit!", string(env.readRemote("a.flac")))
	assert.Equal(t, StateSame, env.states("")["a.flac"])
}

func TestSync_ConflictCreated_ForcedPullTakesRemote(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("x.flac", "mine")
	env.writeRemote("x.flac", "theirs")
	assert.Equal(t, StateConflictCreated, env.states("")["x.flac"])

	env.run("", Options{Pull: true, Force: true, Recursive: true})
	assert.Equal(t, "theirs", env.readLocal("x.flac"))
	assert.Equal(t, StateSame, env.states("")["x.flac"])
}

func TestSync_LocalDelete(t *testing.T) {
	t.Run("push removes the remote copy", func(t *testing.T) {
		env := newSyncEnv(t)
		env.writeLocal("a.flac", "data")
		env.run("", pushOnly)

		env.removeLocal("a.flac")
		assert.Equal(t, StateDeleteLocal, env.states("")["a.flac"])

		report := env.run("", pushOnly)
		assert.Equal(t, 1, report.Actions()[ActionDeleteRemote])
		assert.Empty(t, env.remotePaths())
		rec, err := env.journal.Get(env.ctx, "a.flac")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("pull restores the local copy", func(t *testing.T) {
		env := newSyncEnv(t)
		env.writeLocal("a.flac", "data")
		env.run("", pushOnly)

		env.removeLocal("a.flac")
		env.run("", pullOnly)
		assert.Equal(t, "data", env.readLocal("a.flac"))
		assert.Equal(t, StateSame, env.states("")["a.flac"])
	})
}

func TestSync_RemoteDelete(t *testing.T) {
	t.Run("pull removes the local copy and empty parents", func(t *testing.T) {
		env := newSyncEnv(t)
		env.writeLocal("x/y/a.flac", "data")
		env.writeLocal("keep.flac", "k")
		env.run("", pushOnly)

		env.deleteRemote("x/y/a.flac")
		assert.Equal(t, StateDeleteRemote, env.states("x/y")["x/y/a.flac"])

		env.run("", pullOnly)
		assert.False(t, env.localExists("x/y/a.flac"))
		assert.False(t, env.localExists("x"))
		assert.True(t, env.localExists("keep.flac"))

		rec, err := env.journal.Get(env.ctx, "x/y/a.flac")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("push uploads it again", func(t *testing.T) {
		env := newSyncEnv(t)
		env.writeLocal("a.flac", "data")
		env.run("", pushOnly)
		env.deleteRemote("a.flac")

		env.run("", pushOnly)
		assert.Equal(t, "data", string(env.readRemote("a.flac")))
		assert.Equal(t, StateSame, env.states("")["a.flac"])

		rec, err := env.journal.Get(env.ctx, "a.flac")
		require.NoError(t, err)
		assert.Equal(t, int64(3), rec.Remote.Version, "versions keep increasing across a delete")
	})
}

func TestSync_DeletedOnBothSidesDropsRecord(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("a.flac", "data")
	env.run("", pushOnly)

	env.removeLocal("a.flac")
	env.deleteRemote("a.flac")
	assert.Equal(t, StateDeleteBoth, env.states("")["a.flac"])

	report := env.run("", pullOnly)
	assert.Equal(t, 1, report.Actions()[ActionDropRecord])
	count, err := env.journal.Count(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestManager_CheckPrunesEmptyRecords(t *testing.T) {
	env := newSyncEnv(t)
	require.NoError(t, env.journal.Put(env.ctx, NewRecordBuilder("ghost.flac").Remote(3, 10, 0o644).Build()))

	m := NewManager(env.exec, nil, Options{Push: true})
	res, err := m.Check(env.ctx, "")
	require.NoError(t, err)
	assert.Empty(t, res.Files)
	assert.Equal(t, 1, res.Pruned)

	rec, err := env.journal.Get(env.ctx, "ghost.flac")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestManager_CheckChildren(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("top.flac", "t")
	env.writeLocal("local/a.flac", "a")
	env.writeRemote("remote/b.flac", "b")
	require.NoError(t, env.journal.Put(env.ctx, NewRecordBuilder("cached/c.flac").Local(1).Remote(1, 1, 0o644).Build()))

	m := NewManager(env.exec, nil, Options{DryRun: true})
	res, err := m.Check(env.ctx, "")
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	assert.Equal(t, "top.flac", res.Files[0].RelPath)

	require.Len(t, res.Dirs, 3)
	assert.Equal(t, DirEntry{RelPath: "cached", Cached: true}, *res.Dirs[0])
	assert.Equal(t, DirEntry{RelPath: "local", LocalExists: true}, *res.Dirs[1])
	assert.Equal(t, DirEntry{RelPath: "remote", RemoteExists: true}, *res.Dirs[2])
}

func TestManager_DirectoryInPlaceOfFileIsError(t *testing.T) {
	env := newSyncEnv(t)
	env.writeRemote("clash", "file")
	env.writeLocal("clash/inner.flac", "dir")

	report := env.run("", Options{Push: true, Pull: true})
	errs := report.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "clash", errs[0].Path)
	assert.Equal(t, StateError, errs[0].State)
}

func TestManager_DryRun(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("a.flac", "a")
	env.writeRemote("b.flac", "b")

	m := NewManager(env.exec, nil, Options{Push: true, Pull: true, DryRun: true, Recursive: true})
	report, err := m.Run(env.ctx)
	require.NoError(t, err)

	counts := report.Counts()
	assert.Equal(t, 1, counts[StatePush])
	assert.Equal(t, 1, counts[StatePull])
	assert.Equal(t, []string{"b.flac"}, env.remotePaths())
	assert.False(t, env.localExists("b.flac"))

	count, err := env.journal.Count(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestManager_NonRecursive(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("top.flac", "t")
	env.writeLocal("sub/deep.flac", "d")

	env.run("", Options{Push: true})
	assert.Equal(t, []string{"top.flac"}, env.remotePaths())
}

func TestManager_SetDirectory(t *testing.T) {
	env := newSyncEnv(t)
	env.writeLocal("a/1.flac", "1")
	env.writeLocal("b/2.flac", "2")

	m := NewManager(env.exec, nil, pushOnly)
	m.SetDirectory("b")
	_, err := m.Run(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, ManagerDone, m.State())
	assert.Equal(t, []string{"b/2.flac"}, env.remotePaths())

	env.writeLocal("b/3.flac", "3")
	m.SetDirectory("b")
	assert.Equal(t, ManagerIdle, m.State())
	report, err := m.Run(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Actions()[ActionUpload])
	assert.ElementsMatch(t, []string{"b/2.flac", "b/3.flac"}, env.remotePaths())
}

// flakyRemote fails List of one prefix with a connectivity error a fixed number of times
type flakyRemote struct {
	RemoteClient
	prefix   string
	failures int
}

func (f *flakyRemote) List(ctx context.Context, root, prefix string) ([]*tunesdk.RemoteFile, error) {
	if prefix == f.prefix && f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("sdk: list: %w: connection refused", tunesdk.ErrConnectivity)
	}
	return f.RemoteClient.List(ctx, root, prefix)
}

func TestManager_PausesOnConnectivity(t *testing.T) {
	env := newSyncEnv(t, func(cfg *ExecutorConfig) {
		cfg.Remote = &flakyRemote{RemoteClient: cfg.Remote, prefix: "dir", failures: 1}
	})
	env.writeLocal("dir/a.flac", "a")
	env.writeLocal("top.flac", "t")

	m := NewManager(env.exec, nil, pushOnly)
	report, err := m.Run(env.ctx)
	require.ErrorIs(t, err, ErrConnectivity)
	assert.ErrorIs(t, report.Paused(), ErrConnectivity)
	assert.NotEqual(t, ManagerDone, m.State())
	assert.Equal(t, []string{"top.flac"}, env.remotePaths())

	report, err = m.Run(env.ctx)
	require.NoError(t, err)
	assert.NoError(t, report.Paused())
	assert.Equal(t, ManagerDone, m.State())
	assert.ElementsMatch(t, []string{"dir/a.flac", "top.flac"}, env.remotePaths())
	assert.Equal(t, 2, report.Actions()[ActionUpload])
}

func TestChildOf(t *testing.T) {
	tests := []struct {
		dir, path string
		child     string
		nested    bool
	}{
		{"", "a", "a", false},
		{"", "a/b", "a", true},
		{"a", "a/b", "a/b", false},
		{"a", "a/b/c", "a/b", true},
		{"a", "ab/c", "", false},
		{"a", "a", "", false},
	}
	for _, tt := range tests {
		child, nested := childOf(tt.dir, tt.path)
		assert.Equal(t, tt.child, child, "%s in %s", tt.path, tt.dir)
		assert.Equal(t, tt.nested, nested, "%s in %s", tt.path, tt.dir)
	}
}
