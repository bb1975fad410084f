package commander

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// encodeCWD mirrors the external CLI's own project-directory naming:
// replace path separators and dots with dashes so a working directory
// can be used as a single path segment.
func encodeCWD(cwd string) string {
	r := strings.NewReplacer("/", "-", ".", "-")
	return r.Replace(cwd)
}

// sessionIDWatcher reports the basename-minus-extension of the
// lexicographically greatest *.jsonl file already present in a single
// directory or, if there is none, of the first one created there
// afterwards. It reports once, then stops watching.
type sessionIDWatcher struct {
	dir    string
	found  chan string
	fsw    *fsnotify.Watcher
	stopCh chan struct{}
}

func startSessionIDWatcher(dir string) (*sessionIDWatcher, error) {
	w := &sessionIDWatcher{dir: dir, found: make(chan string, 1), stopCh: make(chan struct{})}

	if id, ok := w.sweepExisting(); ok {
		w.found <- id
		close(w.found)
		return w, nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	_ = os.MkdirAll(dir, 0o755)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw

	go w.loop()
	return w, nil
}

func (w *sessionIDWatcher) sweepExisting() (string, bool) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return "", false
	}
	var best string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		if e.Name() > best {
			best = e.Name()
		}
	}
	if best == "" {
		return "", false
	}
	return strings.TrimSuffix(best, ".jsonl"), true
}

func (w *sessionIDWatcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) || filepath.Ext(ev.Name) != ".jsonl" {
				continue
			}
			id := strings.TrimSuffix(filepath.Base(ev.Name), ".jsonl")
			select {
			case w.found <- id:
			default:
			}
			return
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *sessionIDWatcher) Found() <-chan string { return w.found }

func (w *sessionIDWatcher) Close() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if w.fsw != nil {
		w.fsw.Close()
	}
}
