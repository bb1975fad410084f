package projectwatch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivier-motium/mimesis/internal/briefing"
	"github.com/olivier-motium/mimesis/internal/model"
	"github.com/olivier-motium/mimesis/internal/statusfile"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := New()
	require.NoError(t, err)
	w.Start()
	t.Cleanup(func() { w.Close() })
	return w
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_SweepsExistingStatusFileOnWatch(t *testing.T) {
	cwd := t.TempDir()
	claudeDir := filepath.Join(cwd, ".claude")
	require.NoError(t, os.MkdirAll(claudeDir, 0o755))

	f := statusfile.File{Status: statusfile.StatusWorking, Updated: time.Now(), Task: "t1"}
	data, err := statusfile.Generate(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(claudeDir, "status.md"), data, 0o644))

	w := newTestWatcher(t)

	var got *statusfile.File
	w.OnStatus(func(gotCWD string, sf *statusfile.File) {
		assert.Equal(t, cwd, gotCWD)
		got = sf
	})

	require.NoError(t, w.Watch(cwd))
	waitFor(t, func() bool { return got != nil })
	assert.Equal(t, statusfile.StatusWorking, got.Status)
}

func TestWatcher_DetectsStatusFileWrittenAfterWatch(t *testing.T) {
	cwd := t.TempDir()

	w := newTestWatcher(t)
	require.NoError(t, w.Watch(cwd))

	var got *statusfile.File
	w.OnStatus(func(_ string, sf *statusfile.File) { got = sf })

	f := statusfile.File{Status: statusfile.StatusWaitingForInput, Updated: time.Now()}
	data, err := statusfile.Generate(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cwd, ".claude", "status.md"), data, 0o644))

	waitFor(t, func() bool { return got != nil })
	assert.Equal(t, statusfile.StatusWaitingForInput, got.Status)
}

func TestWatcher_DetectsBriefingFile(t *testing.T) {
	cwd := t.TempDir()

	w := newTestWatcher(t)
	require.NoError(t, w.Watch(cwd))

	var got *briefing.File
	w.OnBriefing(func(_ string, bf *briefing.File) { got = bf })

	bf := briefing.File{SessionID: "s1", TaskID: "t1", Status: "completed", ImpactLevel: briefing.ImpactMinor, BroadcastLevel: briefing.BroadcastMention, DocDriftRisk: briefing.DocDriftLow}
	data, err := briefing.Generate(bf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cwd, ".claude", "briefing-t1.md"), data, 0o644))

	waitFor(t, func() bool { return got != nil })
	assert.Equal(t, "s1", got.SessionID)
}

func TestWatcher_CompactionMarkerDeletedAndDeduped(t *testing.T) {
	cwd := t.TempDir()
	claudeDir := filepath.Join(cwd, ".claude")
	require.NoError(t, os.MkdirAll(claudeDir, 0o755))

	w := newTestWatcher(t)

	var events []model.CompactionMarker
	w.OnCompaction(func(m model.CompactionMarker) { events = append(events, m) })

	markerPath := filepath.Join(claudeDir, "compacted.new-session.marker")
	marker := model.CompactionMarker{NewSessionID: "new-session", CWD: cwd, CompactedAt: time.Now()}
	data, err := json.Marshal(marker)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(markerPath, data, 0o644))

	require.NoError(t, w.Watch(cwd))
	waitFor(t, func() bool { return len(events) == 1 })

	_, statErr := os.Stat(markerPath)
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, os.WriteFile(markerPath, data, 0o644))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, events, 1, "marker rewritten within the dedupe window must not re-emit")
}
