package transcriptwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olivier-motium/mimesis/internal/model"
)

func TestWatcher_DiscoversThenUpdatesIncrementally(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "-tmp-proj")
	require.NoError(t, os.MkdirAll(projDir, 0o755))

	w, err := New(root, nil)
	require.NoError(t, err)
	defer w.Close()
	w.SetDebounce(10 * time.Millisecond)

	events := make(chan Event, 16)
	w.OnEvent(func(e Event) { events <- e })

	require.NoError(t, w.Start(context.Background()))

	path := filepath.Join(projDir, "sess-1.jsonl")
	// Status is derived against the wall clock, so the entries carry the
	// current time rather than a fixed date that would already be stale.
	ts := time.Now().UTC().Format(time.RFC3339)
	line := `{"type":"user","uuid":"u1","sessionId":"sess-1","cwd":"/tmp/proj","timestamp":"` + ts + `","message":{"role":"user","content":"go"}}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))

	var discovered Event
	select {
	case discovered = <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discovered event")
	}
	require.Equal(t, EventDiscovered, discovered.Kind)
	require.Equal(t, model.StatusWorking, discovered.Session.Status)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"system","subtype":"turn_duration","uuid":"u2","timestamp":"` + ts + `"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var updated Event
	select {
	case updated = <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for updated event")
	}
	require.Equal(t, EventUpdated, updated.Kind)
	require.Equal(t, model.StatusWaitingForInput, updated.Session.Status)
}

func TestWatcher_IgnoresSubsessionFiles(t *testing.T) {
	root := t.TempDir()
	projDir := filepath.Join(root, "-tmp-proj")
	require.NoError(t, os.MkdirAll(projDir, 0o755))

	w, err := New(root, nil)
	require.NoError(t, err)
	defer w.Close()
	w.SetDebounce(10 * time.Millisecond)

	events := make(chan Event, 16)
	w.OnEvent(func(e Event) { events <- e })
	require.NoError(t, w.Start(context.Background()))

	path := filepath.Join(projDir, "sub-agent-1.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"user","uuid":"u1"}`+"\n"), 0o644))

	select {
	case ev := <-events:
		t.Fatalf("expected no events for sub-session file, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
