package transcriptwatch

import (
	"sync"
	"time"
)

// debouncer coalesces repeated triggers for the same key into a single
// call fired duration after the last trigger for that key.
type debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	timers   map[string]*time.Timer
}

func newDebouncer(d time.Duration) *debouncer {
	return &debouncer{duration: d, timers: make(map[string]*time.Timer)}
}

func (d *debouncer) debounce(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.duration, fn)
}

func (d *debouncer) cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[string]*time.Timer)
}

func (d *debouncer) setDuration(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.duration = dur
}
