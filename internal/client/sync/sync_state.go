package sync

// FileState is the classification of one path
type FileState string

const (
	StateSame             FileState = "SAME"
	StatePush             FileState = "PUSH"
	StatePull             FileState = "PULL"
	StateConflictModified FileState = "CONFLICT_MODIFIED"
	StateConflictCreated  FileState = "CONFLICT_CREATED"
	StateConflictVersion  FileState = "CONFLICT_VERSION"
	StateDeleteBoth       FileState = "DELETE_BOTH"
	StateDeleteRemote     FileState = "DELETE_REMOTE"
	StateDeleteLocal      FileState = "DELETE_LOCAL"
	StateError            FileState = "ERROR"
)

// AllStates in report order
var AllStates = []FileState{
	StateSame, StatePush, StatePull,
	StateConflictModified, StateConflictCreated, StateConflictVersion,
	StateDeleteBoth, StateDeleteRemote, StateDeleteLocal, StateError,
}

func (s FileState) IsConflict() bool {
	switch s {
	case StateConflictModified, StateConflictCreated, StateConflictVersion:
		return true
	}
	return false
}

// remoteUnchanged: the remote still holds the version the local copy agreed on
func remoteUnchanged(local, remote *Snapshot) bool {
	return remote != nil && local != nil && remote.Version == local.Version
}

// remoteNewer: the remote holds a version the local copy has not seen
func remoteNewer(local, remote *Snapshot) bool {
	return remote != nil && (local == nil || remote.Version > local.Version)
}

// versionAnomaly: version bookkeeping that no sequence of normal syncs produces
func versionAnomaly(local, remote *Snapshot) bool {
	if local == nil || remote == nil {
		return false
	}
	return remote.Version < 0 || local.Version < 0 || local.Version > remote.Version
}

// Classify computes the state of a path from the journal snapshots and the live local probe.
// ok is false when the path is unknown everywhere and the entry should be pruned.
func Classify(cachedLocal, cachedRemote *Snapshot, live *Observation) (state FileState, ok bool) {
	liveMatches := sameContent(live, cachedLocal)

	switch {
	case live == nil && cachedLocal == nil && cachedRemote == nil:
		return "", false

	case live == nil && cachedRemote == nil:
		return StateDeleteBoth, true

	case live == nil && cachedLocal != nil && remoteUnchanged(cachedLocal, cachedRemote):
		return StateDeleteLocal, true

	case live != nil && cachedRemote == nil && cachedLocal == nil:
		return StatePush, true

	// checked before the content rules so they only see consistent versions
	case versionAnomaly(cachedLocal, cachedRemote):
		return StateConflictVersion, true

	case !liveMatches && remoteUnchanged(cachedLocal, cachedRemote):
		return StatePush, true

	case liveMatches && remoteNewer(cachedLocal, cachedRemote):
		return StatePull, true

	case liveMatches && cachedLocal != nil && cachedRemote == nil:
		return StateDeleteRemote, true

	case !liveMatches && !remoteUnchanged(cachedLocal, cachedRemote) && cachedLocal == nil:
		return StateConflictCreated, true

	case !liveMatches && !remoteUnchanged(cachedLocal, cachedRemote):
		return StateConflictModified, true
	}

	return StateSame, true
}

// ClassifyEntry classifies an entry, reporting ERROR when the local probe failed
func ClassifyEntry(e *FileEntry) (FileState, bool) {
	if e.LiveErr != nil {
		return StateError, true
	}
	return Classify(e.CachedLocal, e.CachedRemote, e.LiveLocal)
}
