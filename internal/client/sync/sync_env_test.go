package sync

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tunebox/tunesync/internal/db"
	"github.com/tunebox/tunesync/internal/envelope"
	"github.com/tunebox/tunesync/internal/server"
	"github.com/tunebox/tunesync/internal/server/blob"
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/tunesdk"
)

const (
	testLocalRoot  = "mem://local"
	testRemoteRoot = "music"
)

var testMasterKey = bytes.Repeat([]byte{9}, envelope.KeySize)

// syncEnv is a local mem:// tree synced against an in-process server
type syncEnv struct {
	t        *testing.T
	ctx      context.Context
	registry *storage.Registry
	client   *tunesdk.Client
	journal  *SyncJournal
	exec     *Executor
	clock    int64
}

func startSyncServer(t *testing.T) *tunesdk.Client {
	t.Helper()

	cfg := &server.Config{
		HTTP:      server.HttpServerConfig{Addr: server.DefaultAddr},
		Blob:      blob.Config{Root: "mem://blobs"},
		DataDir:   "unused",
		MasterKey: envelope.EncodeKey(testMasterKey),
	}

	sqlDB, err := db.NewSqliteDB(db.WithPath(":memory:"))
	require.NoError(t, err)
	srv, err := server.NewWithDeps(cfg, sqlDB, storage.NewRegistry(storage.NewMemBackend()))
	require.NoError(t, err)
	require.NoError(t, srv.Services().Start(context.Background()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Services().Shutdown(context.Background())
	})

	client, err := tunesdk.New(&tunesdk.Config{BaseURL: ts.URL, Retries: -1, Timeout: 10 * time.Second})
	require.NoError(t, err)
	return client
}

func newSyncEnv(t *testing.T, opts ...func(*ExecutorConfig)) *syncEnv {
	t.Helper()

	client := startSyncServer(t)
	registry := storage.NewRegistry(storage.NewMemBackend())
	journal := openTestJournal(t)

	cfg := &ExecutorConfig{
		Registry:      registry,
		Remote:        client,
		Journal:       journal,
		LocalRoot:     testLocalRoot,
		RemoteRoot:    testRemoteRoot,
		BufferInitial: 16,
		BufferMax:     64,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	exec, err := NewExecutor(cfg)
	require.NoError(t, err)

	return &syncEnv{
		t:        t,
		ctx:      context.Background(),
		registry: registry,
		client:   client,
		journal:  journal,
		exec:     exec,
		clock:    1700000000,
	}
}

func (env *syncEnv) tick() int64 {
	env.clock += 10
	return env.clock
}

func (env *syncEnv) localURI(rel string) string {
	return env.registry.Join(testLocalRoot, rel)
}

func (env *syncEnv) writeLocal(rel, content string) {
	env.t.Helper()
	w, err := env.registry.Create(env.ctx, env.localURI(rel))
	require.NoError(env.t, err)
	_, err = io.WriteString(w, content)
	require.NoError(env.t, err)
	require.NoError(env.t, w.Close())
	require.NoError(env.t, env.registry.SetMtime(env.ctx, env.localURI(rel), env.tick()))
}

func (env *syncEnv) readLocal(rel string) string {
	env.t.Helper()
	r, err := env.registry.OpenReader(env.ctx, env.localURI(rel))
	require.NoError(env.t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(env.t, err)
	return string(data)
}

func (env *syncEnv) localExists(rel string) bool {
	env.t.Helper()
	ok, err := env.registry.Exists(env.ctx, env.localURI(rel))
	require.NoError(env.t, err)
	return ok
}

func (env *syncEnv) removeLocal(rel string) {
	env.t.Helper()
	require.NoError(env.t, env.registry.Remove(env.ctx, env.localURI(rel)))
}

// writeRemote simulates another device uploading to the same remote root
func (env *syncEnv) writeRemote(rel, content string) *tunesdk.UploadResult {
	env.t.Helper()
	res, err := env.client.Upload(env.ctx, &tunesdk.UploadParams{
		Root:       testRemoteRoot,
		Path:       rel,
		Body:       bytes.NewReader([]byte(content)),
		Mtime:      env.tick(),
		Permission: 0o644,
	})
	require.NoError(env.t, err)
	return res
}

// readRemoteRaw returns the stored bytes, still wrapped in their envelope
func (env *syncEnv) readRemoteRaw(rel string) []byte {
	env.t.Helper()
	dl, err := env.client.Download(env.ctx, testRemoteRoot, rel)
	require.NoError(env.t, err)
	defer dl.Close()
	data, err := io.ReadAll(dl)
	require.NoError(env.t, err)
	return data
}

// readRemote returns the content of an unencrypted remote file
func (env *syncEnv) readRemote(rel string) []byte {
	env.t.Helper()
	plain, mode, err := envelope.Decrypt(env.ctx, nil, env.readRemoteRaw(rel))
	require.NoError(env.t, err)
	require.Equal(env.t, envelope.ModeNone, mode)
	return plain
}

func (env *syncEnv) remotePaths() []string {
	env.t.Helper()
	files, err := env.client.List(env.ctx, testRemoteRoot, "")
	require.NoError(env.t, err)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}

func (env *syncEnv) deleteRemote(rel string) {
	env.t.Helper()
	resp, err := env.client.Delete(env.ctx, testRemoteRoot, rel)
	require.NoError(env.t, err)
	require.True(env.t, resp.Deleted)
}

func (env *syncEnv) run(dir string, opts Options) *Report {
	env.t.Helper()
	m := NewManager(env.exec, nil, opts)
	m.SetDirectory(dir)
	report, err := m.Run(env.ctx)
	require.NoError(env.t, err)
	return report
}

// states classifies the immediate files of dir the way a walk would
func (env *syncEnv) states(dir string) map[string]FileState {
	env.t.Helper()
	m := NewManager(env.exec, nil, Options{DryRun: true})
	res, err := m.Check(env.ctx, dir)
	require.NoError(env.t, err)

	states := make(map[string]FileState, len(res.Files))
	for _, f := range res.Files {
		state, ok := ClassifyEntry(f)
		require.True(env.t, ok)
		states[f.RelPath] = state
	}
	return states
}

var (
	pushOnly = Options{Push: true, Recursive: true}
	pullOnly = Options{Pull: true, Recursive: true}
	bothWays = Options{Push: true, Pull: true, Recursive: true}
)
