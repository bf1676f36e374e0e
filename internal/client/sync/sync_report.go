package sync

import (
	"sort"
	"sync"
	"time"
)

// Report accumulates outcomes of a walk. Outcomes are keyed by path, so a directory
// revisited after a pause replaces what it reported before.
type Report struct {
	mu       sync.Mutex
	outcomes map[string]*Outcome
	dirs     int
	pruned   int
	paused   error

	StartedAt  time.Time
	FinishedAt time.Time
}

func NewReport() *Report {
	return &Report{
		outcomes:  make(map[string]*Outcome),
		StartedAt: time.Now(),
	}
}

// Add records o. A no-op on a path that already completed a transfer keeps the transfer.
func (r *Report) Add(o *Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.outcomes[o.Path]; ok && prev.Err == nil && prev.Action != ActionNone && o.Action == ActionNone {
		return
	}
	r.outcomes[o.Path] = o
}

func (r *Report) addDir(pruned int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs++
	r.pruned += pruned
}

func (r *Report) setPaused(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = err
}

// Paused is the connectivity error that stopped the walk, nil when it ran to the end
func (r *Report) Paused() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Report) Dirs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirs
}

func (r *Report) Pruned() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruned
}

// Outcomes returns every outcome ordered by path
func (r *Report) Outcomes() []*Outcome {
	return r.filter(func(*Outcome) bool { return true })
}

// Counts is the number of paths per classified state
func (r *Report) Counts() map[FileState]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[FileState]int, len(AllStates))
	for _, o := range r.outcomes {
		if o.State != "" {
			counts[o.State]++
		}
	}
	return counts
}

// Actions is the number of paths per action taken, failures excluded
func (r *Report) Actions() map[Action]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Action]int)
	for _, o := range r.outcomes {
		if o.Err == nil {
			counts[o.Action]++
		}
	}
	return counts
}

// Bytes is the total transferred by successful uploads and downloads
func (r *Report) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, o := range r.outcomes {
		if o.Err == nil {
			total += o.Bytes
		}
	}
	return total
}

// Conflicts are the unresolved conflicting paths
func (r *Report) Conflicts() []*Outcome {
	return r.filter(func(o *Outcome) bool {
		return o.State.IsConflict() && o.Action == ActionSkip
	})
}

// Errors are failed entries, unresolved conflicts excluded
func (r *Report) Errors() []*Outcome {
	return r.filter(func(o *Outcome) bool {
		return o.Err != nil && !(o.State.IsConflict() && o.Action == ActionSkip)
	})
}

func (r *Report) HasFailures() bool {
	return len(r.Errors()) > 0 || len(r.Conflicts()) > 0 || r.Paused() != nil
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
}

func (r *Report) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Report) filter(keep func(*Outcome) bool) []*Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Outcome
	for _, o := range r.outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
