// Package store holds the in-memory fleet-wide Session Store, the
// per-connection Subscription Manager, and the per-session Ring Buffer
// Manager described in the daemon's component design.
package store

import (
	"sync"
	"time"

	"github.com/olivier-motium/mimesis/internal/model"
)

// ChangeKind distinguishes the three Store lifecycle notifications.
type ChangeKind string

const (
	ChangeDiscovered ChangeKind = "discovered"
	ChangeUpdated    ChangeKind = "updated"
	ChangeRemoved    ChangeKind = "removed"
)

// Change is delivered synchronously to every listener while the Store's
// write lock is held, matching the atomic commit-then-notify contract
// mutators rely on. Handlers must not call back into the Store (it would
// deadlock on the same lock) and a handler panic must not prevent the
// remaining listeners from running.
type Change struct {
	Kind           ChangeKind
	SessionID      string
	Session        model.TrackedSession
	PartialUpdates map[string]any
}

// Listener receives Store changes. See Change's doc comment for the
// non-reentrancy contract.
type Listener func(Change)

// Store is the fleet-wide map of sessionId -> TrackedSession.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]model.TrackedSession
	listeners []Listener
}

// New creates an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]model.TrackedSession)}
}

// OnChange registers a listener invoked synchronously under the write
// lock on every mutator call.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Get returns a copy of the tracked session, if any.
func (s *Store) Get(id string) (model.TrackedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.sessions[id]
	return ts, ok
}

// All returns a snapshot copy of every tracked session.
func (s *Store) All() []model.TrackedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TrackedSession, 0, len(s.sessions))
	for _, ts := range s.sessions {
		out = append(out, ts)
	}
	return out
}

// AddFromWatcher creates or updates a session discovered by the
// Transcript Watcher. It preserves source=pty if already set, and
// preserves fields the watcher doesn't own.
func (s *Store) AddFromWatcher(incoming model.TrackedSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, existed := s.sessions[incoming.ID]

	merged := incoming
	merged.Source = model.SourceWatcher
	if existed {
		if existing.Source == model.SourcePTY {
			merged.Source = model.SourcePTY
			merged.PTYID = existing.PTYID
		}
		merged.CreatedAt = existing.CreatedAt
		merged.ProjectID = existing.ProjectID
		merged.PID = existing.PID
		merged.FileStatus = existing.FileStatus
	} else {
		merged.CreatedAt = time.Now()
	}
	now := time.Now()
	merged.UpdatedAt = now
	merged.LastActivityAt = now
	s.sessions[incoming.ID] = merged

	if existed {
		s.notifyLocked(Change{Kind: ChangeUpdated, SessionID: incoming.ID, Session: merged})
	} else {
		s.notifyLocked(Change{Kind: ChangeDiscovered, SessionID: incoming.ID, Session: merged})
	}
}

// AddFromPty registers (or upgrades) a session bound to a Commander or
// worker PTY. Watcher-origin metadata already present is preserved.
func (s *Store) AddFromPty(id, ptyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, existed := s.sessions[id]

	merged := existing
	merged.ID = id
	merged.Source = model.SourcePTY
	merged.PTYID = ptyID
	now := time.Now()
	merged.UpdatedAt = now
	merged.LastActivityAt = now
	if !existed {
		merged.CreatedAt = now
	}
	s.sessions[id] = merged

	if existed {
		s.notifyLocked(Change{Kind: ChangeUpdated, SessionID: id, Session: merged, PartialUpdates: map[string]any{"source": model.SourcePTY, "ptyId": ptyID}})
	} else {
		s.notifyLocked(Change{Kind: ChangeDiscovered, SessionID: id, Session: merged})
	}
}

// UpdateFileStatus is a no-op if the session is unknown; otherwise it
// records the externally-reported file status and maps it onto the
// session's Status via the fixed table in spec §3 invariant (b).
func (s *Store) UpdateFileStatus(id string, fs model.FileStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[id]
	if !ok {
		return
	}
	now := time.Now()
	existing.FileStatus = fs
	existing.Status = fs.ToStatus()
	existing.LastActivityAt = now
	existing.UpdatedAt = now
	s.sessions[id] = existing

	s.notifyLocked(Change{Kind: ChangeUpdated, SessionID: id, Session: existing, PartialUpdates: map[string]any{"fileStatus": fs, "status": existing.Status}})
}

// UpdateStatus ignores unknown ids; for a known session it only refreshes
// lastActivityAt, leaving Status and FileStatus untouched. Used for plain
// liveness pings (e.g. PTY byte activity) that don't carry a new status.
func (s *Store) UpdateStatus(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[id]
	if !ok {
		return
	}
	existing.LastActivityAt = time.Now()
	s.sessions[id] = existing
}

// ApplyCompaction marks the predecessor session as superseded by the
// successor. Per the glossary's "superseded session", the predecessor is
// not removed, only marked; a no-op if the predecessor is unknown.
func (s *Store) ApplyCompaction(ev model.CompactionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[ev.PredecessorID]
	if !ok {
		return
	}
	existing.SupersededBy = ev.SuccessorID
	existing.UpdatedAt = time.Now()
	s.sessions[ev.PredecessorID] = existing

	s.notifyLocked(Change{Kind: ChangeUpdated, SessionID: ev.PredecessorID, Session: existing, PartialUpdates: map[string]any{"supersededBy": ev.SuccessorID}})
}

// FindMostRecentByCWD returns the most recently active, not-yet-superseded
// session tracked for cwd. The compaction watcher uses it to resolve a
// marker's predecessor when no linked terminal window id is available.
func (s *Store) FindMostRecentByCWD(cwd string) (model.TrackedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best model.TrackedSession
	found := false
	for _, ts := range s.sessions {
		if ts.Meta.CWD != cwd || ts.SupersededBy != "" || ts.ID == "" {
			continue
		}
		if !found || ts.LastActivityAt.After(best.LastActivityAt) {
			best = ts
			found = true
		}
	}
	return best, found
}

// Remove deletes a session and notifies listeners.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	if !ok {
		return
	}
	s.notifyLocked(Change{Kind: ChangeRemoved, SessionID: id})
}

// notifyLocked invokes every listener while mu is held, recovering from
// panics so one bad listener cannot prevent the rest from observing the
// change. Callers must hold s.mu. Listeners must not call back into the
// Store: doing so deadlocks on the same (non-reentrant) mutex.
func (s *Store) notifyLocked(c Change) {
	for _, l := range s.listeners {
		func() {
			defer func() { recover() }()
			l(c)
		}()
	}
}
