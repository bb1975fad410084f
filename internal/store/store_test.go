package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivier-motium/mimesis/internal/model"
)

func TestStore_AddFromWatcher_DiscoveredThenUpdated(t *testing.T) {
	s := New()
	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	s.AddFromWatcher(model.TrackedSession{ID: "s1", Status: model.StatusWorking})
	s.AddFromWatcher(model.TrackedSession{ID: "s1", Status: model.StatusIdle})

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeDiscovered, changes[0].Kind)
	assert.Equal(t, ChangeUpdated, changes[1].Kind)
	assert.Equal(t, model.StatusIdle, changes[1].Session.Status)
}

func TestStore_PTYSourceDominatesButPreservesWatcherMeta(t *testing.T) {
	s := New()
	s.AddFromWatcher(model.TrackedSession{ID: "s1", Meta: model.SessionMeta{CWD: "/tmp/proj"}})
	s.AddFromPty("s1", "pty-1")

	ts, ok := s.Get("s1")
	require.True(t, ok)
	assert.Equal(t, model.SourcePTY, ts.Source)
	assert.Equal(t, "pty-1", ts.PTYID)
	assert.Equal(t, "/tmp/proj", ts.Meta.CWD)

	// A later watcher update must not demote source back to watcher.
	s.AddFromWatcher(model.TrackedSession{ID: "s1", Meta: model.SessionMeta{CWD: "/tmp/proj"}})
	ts, _ = s.Get("s1")
	assert.Equal(t, model.SourcePTY, ts.Source)
	assert.Equal(t, "pty-1", ts.PTYID)
}

func TestStore_UpdateFileStatus_NoopOnUnknownSession(t *testing.T) {
	s := New()
	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	s.UpdateFileStatus("ghost", model.FileStatusWorking)
	assert.Empty(t, changes)
}

func TestStore_Remove_EmitsRemovedAfterDiscovered(t *testing.T) {
	s := New()
	var kinds []ChangeKind
	s.OnChange(func(c Change) { kinds = append(kinds, c.Kind) })

	s.AddFromWatcher(model.TrackedSession{ID: "s1"})
	s.Remove("s1")
	s.Remove("s1") // second remove on unknown id is a no-op

	require.Equal(t, []ChangeKind{ChangeDiscovered, ChangeRemoved}, kinds)

	_, ok := s.Get("s1")
	assert.False(t, ok)
}

func TestStore_ListenerPanicDoesNotBlockOthers(t *testing.T) {
	s := New()
	var secondCalled bool
	s.OnChange(func(c Change) { panic("boom") })
	s.OnChange(func(c Change) { secondCalled = true })

	s.AddFromWatcher(model.TrackedSession{ID: "s1"})
	assert.True(t, secondCalled)
}

func TestStore_All_ReturnsSnapshot(t *testing.T) {
	s := New()
	s.AddFromWatcher(model.TrackedSession{ID: "s1"})
	s.AddFromWatcher(model.TrackedSession{ID: "s2"})

	all := s.All()
	assert.Len(t, all, 2)
}
