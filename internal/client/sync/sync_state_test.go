package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func snap(version, size, mtime int64) *Snapshot {
	return &Snapshot{Size: size, Mtime: mtime, Permission: 0o644, Version: version}
}

func obs(size, mtime int64) *Observation {
	return &Observation{Size: size, Mtime: mtime, Permission: 0o644}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		local  *Snapshot
		remote *Snapshot
		live   *Observation
		want   FileState
	}{
		{"deleted on both sides", snap(2, 10, 100), nil, nil, StateDeleteBoth},
		{"remote only record, nothing live", nil, snap(2, 10, 100), nil, StatePull},
		{"deleted locally, remote unchanged", snap(2, 10, 100), snap(2, 10, 100), nil, StateDeleteLocal},
		{"new local file", nil, nil, obs(10, 100), StatePush},
		{"local edit, remote unchanged", snap(2, 10, 100), snap(2, 10, 100), obs(11, 100), StatePush},
		{"local touch, remote unchanged", snap(2, 10, 100), snap(2, 10, 100), obs(10, 101), StatePush},
		{"remote newer, local unchanged", snap(2, 10, 100), snap(3, 12, 200), obs(10, 100), StatePull},
		{"deleted remotely, local unchanged", snap(2, 10, 100), nil, obs(10, 100), StateDeleteRemote},
		{"created on both sides", nil, snap(1, 12, 200), obs(10, 100), StateConflictCreated},
		{"edited on both sides", snap(2, 10, 100), snap(3, 12, 200), obs(11, 150), StateConflictModified},
		{"deleted locally, edited remotely", snap(2, 10, 100), snap(3, 12, 200), nil, StateConflictModified},
		{"edited locally, deleted remotely", snap(2, 10, 100), nil, obs(11, 150), StateConflictModified},
		{"local ahead of remote", snap(4, 10, 100), snap(3, 10, 100), obs(10, 100), StateConflictVersion},
		{"negative remote version", snap(1, 10, 100), snap(-1, 10, 100), obs(10, 100), StateConflictVersion},
		{"in sync", snap(2, 10, 100), snap(2, 10, 100), obs(10, 100), StateSame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.local, tt.remote, tt.live)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_PrunesEmpty(t *testing.T) {
	state, ok := Classify(nil, nil, nil)
	assert.False(t, ok)
	assert.Empty(t, state)
}

func TestClassify_PermissionOnlyChangeIsSame(t *testing.T) {
	live := &Observation{Size: 10, Mtime: 100, Permission: 0o600}
	state, ok := Classify(snap(1, 10, 100), snap(1, 10, 100), live)
	assert.True(t, ok)
	assert.Equal(t, StateSame, state)
}

func TestClassifyEntry_ProbeError(t *testing.T) {
	entry := &FileEntry{
		RelPath:      "a.flac",
		CachedLocal:  snap(1, 10, 100),
		CachedRemote: snap(1, 10, 100),
		LiveErr:      errors.New("permission denied"),
	}
	state, ok := ClassifyEntry(entry)
	assert.True(t, ok)
	assert.Equal(t, StateError, state)
}

func TestFileState_IsConflict(t *testing.T) {
	for _, s := range AllStates {
		switch s {
		case StateConflictModified, StateConflictCreated, StateConflictVersion:
			assert.True(t, s.IsConflict(), s)
		default:
			assert.False(t, s.IsConflict(), s)
		}
	}
}

func TestPlan(t *testing.T) {
	type row struct {
		state      FileState
		push, pull bool
		force      bool
		action     Action
		final      FileState
	}
	rows := []row{
		{StateSame, true, true, false, ActionNone, StateSame},
		{StatePush, true, false, false, ActionUpload, StateSame},
		{StatePush, false, true, false, ActionNone, StatePush},
		{StatePush, false, true, true, ActionNone, StatePush},
		{StatePush, true, true, false, ActionUpload, StateSame},
		{StatePull, true, false, false, ActionNone, StatePull},
		{StatePull, false, true, false, ActionDownload, StateSame},
		{StatePull, true, true, false, ActionDownload, StateSame},
		{StateConflictModified, true, false, false, ActionSkip, StateConflictModified},
		{StateConflictModified, true, false, true, ActionUpload, StateSame},
		{StateConflictCreated, false, true, true, ActionDownload, StateSame},
		{StateConflictVersion, true, true, true, ActionSkip, StateConflictVersion},
		{StateDeleteBoth, true, false, false, ActionDropRecord, ""},
		{StateDeleteBoth, false, true, false, ActionDropRecord, ""},
		{StateDeleteRemote, true, false, false, ActionUpload, StateSame},
		{StateDeleteRemote, false, true, false, ActionDeleteLocal, ""},
		{StateDeleteRemote, true, true, false, ActionDeleteLocal, ""},
		{StateDeleteLocal, true, false, false, ActionDeleteRemote, ""},
		{StateDeleteLocal, false, true, false, ActionDownload, StateSame},
		{StateDeleteLocal, true, true, false, ActionDeleteRemote, ""},
		{StatePush, false, false, true, ActionNone, StatePush},
	}

	for _, r := range rows {
		action, final := Plan(r.state, r.push, r.pull, r.force)
		assert.Equal(t, r.action, action, "%s push=%v pull=%v force=%v", r.state, r.push, r.pull, r.force)
		assert.Equal(t, r.final, final, "%s push=%v pull=%v force=%v", r.state, r.push, r.pull, r.force)
	}
}
