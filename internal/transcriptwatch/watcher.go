// Package transcriptwatch watches the Claude Code projects directory
// recursively, tailing each transcript file with a per-file debounce and
// emitting discovered/updated/removed lifecycle events for the Session
// Store to consume.
package transcriptwatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/olivier-motium/mimesis/internal/gitinfo"
	"github.com/olivier-motium/mimesis/internal/model"
	"github.com/olivier-motium/mimesis/internal/status"
	"github.com/olivier-motium/mimesis/internal/transcript"
)

const defaultDebounce = 200 * time.Millisecond

// EventKind distinguishes the three lifecycle events the watcher emits.
type EventKind string

const (
	EventDiscovered EventKind = "discovered"
	EventUpdated    EventKind = "updated"
	EventRemoved    EventKind = "removed"
)

// Event is emitted to every registered listener. discovered/updated
// events come from the debounce timer goroutine that tails the file,
// removed events from the fsnotify dispatch loop or the DeleteSession
// caller, so emissions are not serialized through one goroutine.
// Consumers must treat Session as a snapshot and must not mutate it.
type Event struct {
	Kind    EventKind
	SessionID string
	Session model.TrackedSession
	// Subsessions lists the sidechain/agent session ids referenced by
	// this transcript as of this tail, per transcript.ExtractSubsessions.
	Subsessions []string
}

// Listener receives watcher lifecycle events synchronously.
type Listener func(Event)

// Watcher tails every non-sub-session transcript file under root,
// debouncing per-file changes and re-deriving status after each tail.
type Watcher struct {
	root      string
	git       *gitinfo.Cache
	deb       *debouncer

	mu        sync.Mutex
	sessions  map[string]*trackedFile
	listeners []Listener

	fsw       *fsnotify.Watcher
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

type trackedFile struct {
	state        model.SessionState
	lastStatus   model.Status
	lastMsgCount int
}

// New creates a Watcher rooted at root (typically ~/.claude/projects).
func New(root string, git *gitinfo.Cache) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}

	w := &Watcher{
		root:     root,
		git:      git,
		deb:      newDebouncer(defaultDebounce),
		sessions: make(map[string]*trackedFile),
		fsw:      fsw,
		closeCh:  make(chan struct{}),
	}
	return w, nil
}

// SetDebounce overrides the default 200ms per-file debounce window.
func (w *Watcher) SetDebounce(d time.Duration) { w.deb.setDuration(d) }

// OnEvent registers a listener invoked synchronously on the goroutine
// that emits each event (see Event); listeners may therefore be called
// concurrently. Listener panics are recovered so one bad listener cannot
// block the rest.
func (w *Watcher) OnEvent(l Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
}

// Start walks root adding every directory to the fsnotify watch set,
// performs an initial sweep of existing files, then begins dispatching
// fsnotify events in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	if err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = w.fsw.Add(path)
		}
		return nil
	}); err != nil && !os.IsNotExist(err) {
		return err
	}

	_ = filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if isJSONL(path) && !transcript.IsSubsessionFile(path) {
			w.triggerTail(path)
		}
		return nil
	})

	w.wg.Add(1)
	go w.dispatchLoop(ctx)
	return nil
}

// Close stops the watcher and releases its fsnotify handle.
func (w *Watcher) Close() error {
	close(w.closeCh)
	w.deb.stop()
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func isJSONL(path string) bool {
	return filepath.Ext(path) == ".jsonl"
}

// DecodeProjectPath reverses the external CLI's project directory
// encoding (path separators and dots flattened to dashes). The encoding
// is ambiguous for a cwd containing a literal dash, so candidates are
// probed with os.Stat and the first one that exists on disk wins;
// failing that, it falls back to a best-effort basename split.
func DecodeProjectPath(encoded string) string {
	if !strings.HasPrefix(encoded, "-") {
		return encoded
	}

	if candidate := strings.ReplaceAll(encoded, "-", "/"); dirExists(candidate) {
		return candidate
	}

	parts := strings.Split(encoded[1:], "-")
	for numSlashes := len(parts) - 1; numSlashes > 0; numSlashes-- {
		candidate := "/" + strings.Join(parts[:numSlashes], "/")
		if numSlashes < len(parts) {
			candidate = candidate + "/" + strings.Join(parts[numSlashes:], "-")
		}
		if dirExists(candidate) {
			return candidate
		}
	}

	if len(parts) > 2 {
		return strings.Join(parts[2:], "-")
	}
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return encoded
}

func dirExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func projectIDForPath(path string) string {
	return DecodeProjectPath(filepath.Base(filepath.Dir(path)))
}

func (w *Watcher) dispatchLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ev)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(ev.Name)
			return
		}
	}

	if !isJSONL(ev.Name) || transcript.IsSubsessionFile(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.deb.cancel(ev.Name)
		w.removeSession(ev.Name)
	case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
		w.triggerTail(ev.Name)
	}
}

func (w *Watcher) triggerTail(path string) {
	w.deb.debounce(path, func() {
		w.tailOnce(path)
	})
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func (w *Watcher) tailOnce(path string) {
	sid := sessionIDFromPath(path)

	w.mu.Lock()
	tf, existed := w.sessions[sid]
	if !existed {
		tf = &trackedFile{state: model.SessionState{FilePath: path}}
		w.sessions[sid] = tf
	}
	w.mu.Unlock()

	res, err := transcript.Tail(path, tf.state.BytePosition)
	if err != nil {
		return // transient I/O error: swallow and retry on next trigger
	}
	if len(res.Entries) == 0 && existed {
		return
	}

	transcript.ApplyTail(&tf.state, res)

	sr := status.Derive(tf.state.Entries, time.Now())

	git := gitinfo.Info{}
	if w.git != nil && tf.state.Meta.CWD != "" {
		git = w.git.Lookup(context.Background(), tf.state.Meta.CWD)
	}
	branch := tf.state.Meta.GitBranch
	if branch == "" {
		branch = git.Branch
	}

	session := model.TrackedSession{
		ID:        sid,
		ProjectID: projectIDForPath(path),
		Source:    model.SourceWatcher,
		Status:    sr.Status,
		Meta:      tf.state.Meta,
		FilePath:  path,
		CreatedAt: tf.state.Meta.StartedAt,
		UpdatedAt: time.Now(),
	}
	session.Meta.GitBranch = branch

	kind := EventUpdated
	if !existed {
		kind = EventDiscovered
	} else if tf.lastStatus == sr.Status && tf.lastMsgCount == sr.MessageCount {
		return
	}
	tf.lastStatus = sr.Status
	tf.lastMsgCount = sr.MessageCount

	w.emit(Event{Kind: kind, SessionID: sid, Session: session, Subsessions: transcript.ExtractSubsessions(tf.state.Entries)})
}

func (w *Watcher) removeSession(path string) {
	sid := sessionIDFromPath(path)
	w.mu.Lock()
	_, ok := w.sessions[sid]
	delete(w.sessions, sid)
	w.mu.Unlock()
	if !ok {
		return
	}
	w.emit(Event{Kind: EventRemoved, SessionID: sid})
}

// DeleteSession is the explicit-delete path: in addition to emitting
// removed, it unlinks the underlying transcript file.
func (w *Watcher) DeleteSession(sessionID, path string) error {
	w.mu.Lock()
	delete(w.sessions, sessionID)
	w.mu.Unlock()
	w.emit(Event{Kind: EventRemoved, SessionID: sessionID})
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *Watcher) emit(ev Event) {
	w.mu.Lock()
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() { recover() }()
			l(ev)
		}()
	}
}
