package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tunebox/tunesync/internal/queue"
	"github.com/tunebox/tunesync/internal/storage"
	"github.com/tunebox/tunesync/internal/utils"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// ManagerState is the phase of a walk
type ManagerState string

const (
	ManagerIdle         ManagerState = "idle"
	ManagerScanning     ManagerState = "scanning"
	ManagerDrainingPush ManagerState = "draining-push"
	ManagerDrainingPull ManagerState = "draining-pull"
	ManagerDone         ManagerState = "done"
)

type Options struct {
	Push      bool
	Pull      bool
	Force     bool
	Recursive bool
	// DryRun classifies and plans without transfers or journal writes
	DryRun  bool
	Workers int
}

// CheckResult lists the immediate children of one directory
type CheckResult struct {
	Dir    string
	Files  []*FileEntry
	Dirs   []*DirEntry
	Pruned int
}

// Manager walks the synced tree one directory at a time. Directories present locally
// go to the push queue, the others to the pull queue. Files of a directory are handed
// to a bounded worker pool, smallest first.
type Manager struct {
	exec   *Executor
	ignore *SyncIgnoreList
	opts   Options

	state     ManagerState
	start     string
	pushQueue []string
	pullQueue []string
	queued    mapset.Set[string]
	visited   mapset.Set[string]
	report    *Report
}

func NewManager(exec *Executor, ignore *SyncIgnoreList, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	return &Manager{
		exec:    exec,
		ignore:  ignore,
		opts:    opts,
		state:   ManagerIdle,
		queued:  mapset.NewThreadUnsafeSet[string](),
		visited: mapset.NewThreadUnsafeSet[string](),
		report:  NewReport(),
	}
}

func (m *Manager) State() ManagerState {
	return m.state
}

func (m *Manager) Report() *Report {
	return m.report
}

// SetDirectory roots the walk at rel and puts rel in front of the queue,
// so it is checked again even when it was already visited.
func (m *Manager) SetDirectory(rel string) {
	rel = utils.NormRelPath(rel)
	if m.state == ManagerDone {
		m.report = NewReport()
		m.state = ManagerIdle
	}

	m.start = rel
	m.visited.Remove(rel)
	m.dequeue(rel)
	m.pushQueue = append([]string{rel}, m.pushQueue...)
	m.queued.Add(rel)
}

// Run drains both queues. On a connectivity error the walk pauses with its queues intact
// and a later Run resumes where it stopped.
func (m *Manager) Run(ctx context.Context) (*Report, error) {
	if m.state == ManagerIdle && !m.pending() {
		m.enqueue(m.start, true)
	}
	m.report.setPaused(nil)

	slog.Info("sync walk", "start", m.start, "push", m.opts.Push, "pull", m.opts.Pull, "force", m.opts.Force, "recursive", m.opts.Recursive, "dryRun", m.opts.DryRun)
	for {
		more, err := m.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrConnectivity) {
				m.report.setPaused(err)
				slog.Warn("sync walk paused", "error", err, "pendingDirs", len(m.pushQueue)+len(m.pullQueue))
			}
			return m.report, err
		}
		if !more {
			break
		}
	}

	m.report.finish()
	slog.Info("sync walk done", "dirs", m.report.Dirs(), "duration", m.report.Duration())
	return m.report, nil
}

// Next processes one queued directory. It reports whether more directories are queued.
func (m *Manager) Next(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return m.pending(), err
	}

	dir, push, ok := m.pop()
	if !ok {
		m.state = ManagerDone
		return false, nil
	}

	if push {
		m.state = ManagerDrainingPush
	} else {
		m.state = ManagerDrainingPull
	}

	if !m.visited.Contains(dir) {
		if err := m.processDir(ctx, dir); err != nil {
			m.requeue(dir, push)
			return true, err
		}
		m.visited.Add(dir)
	}

	if !m.pending() {
		m.state = ManagerDone
		return false, nil
	}
	return true, nil
}

func (m *Manager) processDir(ctx context.Context, dir string) error {
	drain := m.state
	m.state = ManagerScanning
	res, err := m.Check(ctx, dir)
	m.state = drain
	if err != nil {
		return err
	}
	m.report.addDir(res.Pruned)

	if err := m.applyFiles(ctx, res.Files); err != nil {
		return err
	}

	if m.opts.Recursive {
		for _, d := range res.Dirs {
			if m.visited.Contains(d.RelPath) || m.queued.Contains(d.RelPath) {
				continue
			}
			m.enqueue(d.RelPath, d.LocalExists)
		}
	}
	return nil
}

func (m *Manager) applyFiles(ctx context.Context, files []*FileEntry) error {
	pq := queue.NewPriorityQueue[*FileEntry]()
	for _, f := range files {
		pq.Enqueue(f, transferPriority(f))
	}

	if m.opts.DryRun {
		for _, f := range pq.DequeueAll() {
			if out := m.planEntry(f); out != nil {
				m.report.Add(out)
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for _, f := range pq.DequeueAll() {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out := m.exec.Apply(gctx, f, m.opts.Push, m.opts.Pull, m.opts.Force)
			m.report.Add(out)
			if errors.Is(out.Err, ErrConnectivity) {
				return out.Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *Manager) planEntry(f *FileEntry) *Outcome {
	state, ok := ClassifyEntry(f)
	if !ok {
		return nil
	}

	out := &Outcome{Path: f.RelPath, State: state}
	switch {
	case state == StateError:
		out.Action, out.Final, out.Err = ActionSkip, StateError, f.LiveErr
	default:
		out.Action, out.Final = Plan(state, m.opts.Push, m.opts.Pull, m.opts.Force)
		if out.Action == ActionSkip && state.IsConflict() {
			out.Err = fmt.Errorf("%w: %s is %s", ErrConflict, f.RelPath, state)
		}
	}
	return out
}

// transferPriority orders small files first
func transferPriority(f *FileEntry) int64 {
	var size int64
	if f.LiveLocal != nil {
		size = f.LiveLocal.Size
	}
	if f.CachedRemote != nil && f.CachedRemote.Size > size {
		size = f.CachedRemote.Size
	}
	return size
}

// Check scans rel locally, lists it remotely and loads its journal records, then builds
// an entry per immediate child. The listing is merged into copies of the records.
// Records left with nothing on either side are pruned from the journal.
func (m *Manager) Check(ctx context.Context, rel string) (*CheckResult, error) {
	rel = utils.NormRelPath(rel)
	e := m.exec

	local, err := e.registry.ScanDir(ctx, e.registry.Join(e.localRoot, rel))
	if err != nil && !storage.IsNotFound(err) {
		return nil, fmt.Errorf("scan %q: %w", rel, err)
	}

	listing, err := e.remote.List(ctx, e.remoteRoot, rel)
	if err != nil {
		return nil, classifyError(fmt.Errorf("list %q: %w", rel, err))
	}

	records, err := e.journal.List(ctx, rel)
	if err != nil {
		return nil, err
	}

	files := make(map[string]*FileEntry)
	dirs := make(map[string]*DirEntry)
	fileEntry := func(child string) *FileEntry {
		f, ok := files[child]
		if !ok {
			f = e.entryFor(child, nil)
			files[child] = f
		}
		return f
	}
	dirEntry := func(child string) *DirEntry {
		d, ok := dirs[child]
		if !ok {
			d = &DirEntry{RelPath: child}
			dirs[child] = d
		}
		return d
	}

	for _, rec := range records {
		child, nested := childOf(rel, rec.Path)
		if child == "" || m.ignored(child, nested) {
			continue
		}
		if nested {
			dirEntry(child).Cached = true
			continue
		}
		c := rec.Clone()
		f := fileEntry(child)
		f.CachedLocal, f.CachedRemote = c.Local, c.Remote
	}

	listed := mapset.NewThreadUnsafeSet[string]()
	for _, rf := range listing {
		child, nested := childOf(rel, rf.Path)
		if child == "" || m.ignored(child, nested) {
			continue
		}
		if nested {
			dirEntry(child).RemoteExists = true
			continue
		}
		fileEntry(child).CachedRemote = snapshotFromRemote(rf)
		listed.Add(child)
	}
	for child, f := range files {
		if !listed.Contains(child) {
			f.CachedRemote = nil
		}
	}

	for i := range local {
		info := &local[i]
		child := utils.JoinRel(rel, info.Name)
		if m.ignored(child, info.IsDir) {
			continue
		}
		if info.IsDir {
			dirEntry(child).LocalExists = true
			continue
		}
		fileEntry(child).LiveLocal = observationFromInfo(info)
	}

	res := &CheckResult{Dir: rel}
	for child, f := range files {
		if d, ok := dirs[child]; ok && d.LocalExists {
			f.LiveErr = fmt.Errorf("%w: %s", storage.ErrIsDir, f.LocalPath)
		}

		if _, ok := ClassifyEntry(f); !ok {
			res.Pruned++
			if !m.opts.DryRun {
				if err := e.journal.Delete(ctx, child); err != nil {
					return nil, err
				}
			}
			continue
		}
		res.Files = append(res.Files, f)
	}
	for _, d := range dirs {
		res.Dirs = append(res.Dirs, d)
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].RelPath < res.Files[j].RelPath })
	sort.Slice(res.Dirs, func(i, j int) bool { return res.Dirs[i].RelPath < res.Dirs[j].RelPath })

	slog.Debug("sync check", "dir", rel, "files", len(res.Files), "dirs", len(res.Dirs), "pruned", res.Pruned)
	return res, nil
}

func (m *Manager) ignored(rel string, isDir bool) bool {
	return m.ignore != nil && m.ignore.ShouldIgnore(rel, isDir)
}

// childOf returns the immediate child of dir that p lies in, and whether p is nested deeper
func childOf(dir, p string) (child string, nested bool) {
	rest := p
	if dir != "" {
		if !strings.HasPrefix(p, dir+"/") {
			return "", false
		}
		rest = p[len(dir)+1:]
	}
	if rest == "" {
		return "", false
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return utils.JoinRel(dir, rest[:idx]), true
	}
	return utils.JoinRel(dir, rest), false
}

func (m *Manager) pending() bool {
	return len(m.pushQueue) > 0 || len(m.pullQueue) > 0
}

func (m *Manager) enqueue(dir string, push bool) {
	if push {
		m.pushQueue = append(m.pushQueue, dir)
	} else {
		m.pullQueue = append(m.pullQueue, dir)
	}
	m.queued.Add(dir)
}

func (m *Manager) requeue(dir string, push bool) {
	if push {
		m.pushQueue = append([]string{dir}, m.pushQueue...)
	} else {
		m.pullQueue = append([]string{dir}, m.pullQueue...)
	}
	m.queued.Add(dir)
}

// pop takes from the push queue first
func (m *Manager) pop() (dir string, push bool, ok bool) {
	switch {
	case len(m.pushQueue) > 0:
		dir, m.pushQueue = m.pushQueue[0], m.pushQueue[1:]
		push = true
	case len(m.pullQueue) > 0:
		dir, m.pullQueue = m.pullQueue[0], m.pullQueue[1:]
	default:
		return "", false, false
	}
	m.queued.Remove(dir)
	return dir, push, true
}

func (m *Manager) dequeue(dir string) {
	drop := func(q []string) []string {
		kept := q[:0]
		for _, d := range q {
			if d != dir {
				kept = append(kept, d)
			}
		}
		return kept
	}
	m.pushQueue = drop(m.pushQueue)
	m.pullQueue = drop(m.pullQueue)
	m.queued.Remove(dir)
}
