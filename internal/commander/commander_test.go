package commander

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivier-motium/mimesis/internal/model"
	"github.com/olivier-motium/mimesis/internal/persist"
	"github.com/olivier-motium/mimesis/internal/ptybridge"
	"github.com/olivier-motium/mimesis/internal/store"
)

// writeFakeCLI writes a tiny shell script that echoes whatever it
// receives on stdin back out, ignoring its argv entirely, so it can
// stand in for the real external CLI binary.
func writeFakeCLI(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec cat\n"), 0o755))
	return path
}

func newTestCommander(t *testing.T) (*Commander, *ptybridge.Manager, *store.Store) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	db, err := persist.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New()

	var cmdr *Commander
	var mu sync.Mutex
	ptys := ptybridge.NewManager(func(id string, reason ptybridge.ExitReason) {
		mu.Lock()
		c := cmdr
		mu.Unlock()
		if c != nil {
			c.HandleExit(id, reason)
		}
	})

	cwd := t.TempDir()
	c, err := New(ptys, db, st, writeFakeCLI(t), cwd, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	mu.Lock()
	cmdr = c
	mu.Unlock()

	return c, ptys, st
}

func TestCommander_SendPrompt_SpawnsAndRelaysOutput(t *testing.T) {
	c, ptys, _ := newTestCommander(t)

	require.NoError(t, c.SendPrompt("hello fleet"))

	var got []byte
	var gotMu sync.Mutex
	var detach func()
	require.Eventually(t, func() bool {
		d, err := ptys.AddClient("commander", "", func(b []byte) {
			gotMu.Lock()
			got = append(got, b...)
			gotMu.Unlock()
		})
		if err != nil {
			return false
		}
		detach = d
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer detach()

	require.NoError(t, c.SendPrompt("second turn"))

	assert.Eventually(t, func() bool {
		gotMu.Lock()
		defer gotMu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCommander_SendPrompt_QueuesWhileWorking(t *testing.T) {
	c, _, st := newTestCommander(t)

	require.NoError(t, c.SendPrompt("first"))

	// Bind a fake session id so isWorkingLocked can observe a status.
	c.mu.Lock()
	c.claudeSessionID = "fake-session"
	c.mu.Unlock()
	st.AddFromPty("fake-session", "commander")
	st.UpdateFileStatus("fake-session", model.FileStatusWorking)

	var queued Event
	done := make(chan struct{}, 1)
	c.OnEvent(func(e Event) {
		if e.Kind == EventQueued {
			queued = e
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})

	require.NoError(t, c.SendPrompt("second"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected commander.queued event")
	}
	assert.Equal(t, 1, queued.Position)

	c.mu.Lock()
	qlen := len(c.queue)
	c.mu.Unlock()
	assert.Equal(t, 1, qlen)
}

func TestCommander_Drain_FiresOnWaitingForInput(t *testing.T) {
	c, _, st := newTestCommander(t)
	require.NoError(t, c.SendPrompt("first"))

	c.mu.Lock()
	c.claudeSessionID = "fake-session"
	c.queue = []string{"queued-one"}
	c.mu.Unlock()
	st.AddFromPty("fake-session", "commander")

	st.UpdateFileStatus("fake-session", model.FileStatusWaitingForInput)

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.queue) == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCommander_Reset_ClearsStateAndStopsPTY(t *testing.T) {
	c, ptys, _ := newTestCommander(t)
	require.NoError(t, c.SendPrompt("first"))

	c.mu.Lock()
	c.claudeSessionID = "fake-session"
	c.queue = []string{"leftover"}
	c.mu.Unlock()

	c.Reset()

	c.mu.Lock()
	assert.Empty(t, c.claudeSessionID)
	assert.Empty(t, c.queue)
	assert.False(t, c.spawned)
	c.mu.Unlock()

	_, err := ptys.AddClient("commander", "", func([]byte) {})
	assert.ErrorIs(t, err, ptybridge.ErrNotFound)
}

func TestEncodeCWD(t *testing.T) {
	assert.Equal(t, "-Users-me-proj-sub", encodeCWD("/Users/me/proj.sub"))
}
