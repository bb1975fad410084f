// Package projectwatch watches each tracked session's <cwd>/.claude
// directory for the three externally-written control files the daemon
// consumes outside the transcript itself: the human-editable status.md
// file, status.v5 handoff briefings, and compaction markers left behind
// when a session hands its work off to a successor after a context
// compaction. It mirrors transcriptwatch's fsnotify-plus-dispatch-loop
// shape, but roots are added dynamically as sessions' working
// directories become known rather than walked once at startup.
package projectwatch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/olivier-motium/mimesis/internal/briefing"
	"github.com/olivier-motium/mimesis/internal/model"
	"github.com/olivier-motium/mimesis/internal/statusfile"
)

// compactionDedupeWindow is how long a (cwd, newSessionId) marker is
// remembered after being processed, so a marker rewritten (or a stale
// fsnotify event fired twice) doesn't emit a second compaction event.
const compactionDedupeWindow = 60 * time.Second

var (
	markerPattern   = regexp.MustCompile(`^compacted\.(.+)\.marker$`)
	briefingPattern = regexp.MustCompile(`^briefing-.+\.md$`)
)

// StatusListener receives a parsed status.md update for a cwd.
type StatusListener func(cwd string, f *statusfile.File)

// BriefingListener receives a parsed handoff briefing for a cwd.
type BriefingListener func(cwd string, f *briefing.File)

// CompactionListener receives a parsed, de-duplicated compaction marker.
type CompactionListener func(marker model.CompactionMarker)

// Watcher watches a dynamically growing set of <cwd>/.claude
// directories for status.md, briefing-*.md, and compacted.*.marker
// files.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu         sync.Mutex
	cwdByDir   map[string]string
	lastMarker map[string]time.Time

	listenersMu sync.Mutex
	onStatus    []StatusListener
	onBriefing  []BriefingListener
	onCompaction []CompactionListener

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a Watcher with no directories watched yet; call Watch to
// add one per discovered session cwd.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:        fsw,
		cwdByDir:   make(map[string]string),
		lastMarker: make(map[string]time.Time),
		closeCh:    make(chan struct{}),
	}, nil
}

// OnStatus registers a listener for parsed status.md updates.
func (w *Watcher) OnStatus(l StatusListener) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.onStatus = append(w.onStatus, l)
}

// OnBriefing registers a listener for parsed handoff briefings.
func (w *Watcher) OnBriefing(l BriefingListener) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.onBriefing = append(w.onBriefing, l)
}

// OnCompaction registers a listener for de-duplicated compaction markers.
func (w *Watcher) OnCompaction(l CompactionListener) {
	w.listenersMu.Lock()
	defer w.listenersMu.Unlock()
	w.onCompaction = append(w.onCompaction, l)
}

// Start begins dispatching fsnotify events in a background goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.dispatchLoop()
}

// Close stops the dispatch loop and releases the fsnotify handle.
func (w *Watcher) Close() error {
	close(w.closeCh)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// Watch begins watching cwd's .claude directory, creating it if
// absent, and sweeps any control files already present. Safe to call
// more than once for the same cwd.
func (w *Watcher) Watch(cwd string) error {
	if cwd == "" {
		return nil
	}
	dir := filepath.Join(cwd, ".claude")

	w.mu.Lock()
	if _, already := w.cwdByDir[dir]; already {
		w.mu.Unlock()
		return nil
	}
	w.cwdByDir[dir] = cwd
	w.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.handleFile(dir, cwd, e.Name())
		}
	}
	return nil
}

func (w *Watcher) dispatchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			dir := filepath.Dir(ev.Name)
			w.mu.Lock()
			cwd := w.cwdByDir[dir]
			w.mu.Unlock()
			if cwd == "" {
				continue
			}
			w.handleFile(dir, cwd, filepath.Base(ev.Name))
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleFile(dir, cwd, name string) {
	switch {
	case name == "status.md":
		w.handleStatus(dir, cwd)
	case briefingPattern.MatchString(name):
		w.handleBriefing(dir, cwd, name)
	case markerPattern.MatchString(name):
		w.handleMarker(dir, cwd, name)
	}
}

func (w *Watcher) handleStatus(dir, cwd string) {
	data, err := os.ReadFile(filepath.Join(dir, "status.md"))
	if err != nil {
		return
	}
	f, err := statusfile.Parse(data)
	if err != nil {
		return
	}
	w.listenersMu.Lock()
	listeners := append([]StatusListener(nil), w.onStatus...)
	w.listenersMu.Unlock()
	for _, l := range listeners {
		func() {
			defer func() { recover() }()
			l(cwd, f)
		}()
	}
}

func (w *Watcher) handleBriefing(dir, cwd, name string) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return
	}
	f := briefing.Parse(data)
	if f == nil {
		return
	}
	w.listenersMu.Lock()
	listeners := append([]BriefingListener(nil), w.onBriefing...)
	w.listenersMu.Unlock()
	for _, l := range listeners {
		func() {
			defer func() { recover() }()
			l(cwd, f)
		}()
	}
}

// handleMarker parses, de-duplicates, and deletes a compaction marker
// file, per the marker contract: the file is removed once processed
// regardless of whether it turns out to be a duplicate.
func (w *Watcher) handleMarker(dir, cwd, name string) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var marker model.CompactionMarker
	parseErr := json.Unmarshal(data, &marker)
	_ = os.Remove(path)
	if parseErr != nil {
		return
	}
	if marker.CWD == "" {
		marker.CWD = cwd
	}
	if marker.CompactedAt.IsZero() {
		marker.CompactedAt = time.Now()
	}

	key := marker.CWD + "\x00" + marker.NewSessionID
	w.mu.Lock()
	last, seen := w.lastMarker[key]
	duplicate := seen && time.Since(last) < compactionDedupeWindow
	w.lastMarker[key] = time.Now()
	w.mu.Unlock()
	if duplicate {
		return
	}

	w.listenersMu.Lock()
	listeners := append([]CompactionListener(nil), w.onCompaction...)
	w.listenersMu.Unlock()
	for _, l := range listeners {
		func() {
			defer func() { recover() }()
			l(marker)
		}()
	}
}
