package store

import (
	"encoding/json"
	"sync"

	"github.com/olivier-motium/mimesis/internal/model"
)

// DefaultRingCapBytes is the default per-session ring buffer byte cap.
const DefaultRingCapBytes = 20 * 1024 * 1024

// Ring is a single session's byte-capped FIFO event buffer. seq is
// assigned on push and is never reset by eviction or Clear, preserving
// monotonicity across the process lifetime of the buffer.
type Ring struct {
	mu       sync.Mutex
	capBytes int
	nextSeq  uint64
	total    int
	events   []model.BufferedEvent
}

// NewRing creates a Ring with the given byte cap (DefaultRingCapBytes if
// capBytes <= 0).
func NewRing(capBytes int) *Ring {
	if capBytes <= 0 {
		capBytes = DefaultRingCapBytes
	}
	return &Ring{capBytes: capBytes}
}

// Push assigns the next seq to event, measures its marshaled size, evicts
// the oldest entries until the buffer fits within the cap, then appends.
func (r *Ring) Push(event any) model.BufferedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	size := estimateSize(event)
	be := model.BufferedEvent{Seq: r.nextSeq, Event: event, SizeBytes: size}

	r.total += size
	for r.total > r.capBytes && len(r.events) > 0 {
		r.total -= r.events[0].SizeBytes
		r.events = r.events[1:]
	}
	r.events = append(r.events, be)

	return be
}

func estimateSize(event any) int {
	b, err := json.Marshal(event)
	if err != nil {
		return 0
	}
	return len(b)
}

// GetFrom returns every buffered event with seq > cursor, in order.
func (r *Ring) GetFrom(cursor uint64) []model.BufferedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.BufferedEvent, 0)
	for _, e := range r.events {
		if e.Seq > cursor {
			out = append(out, e)
		}
	}
	return out
}

// Clear empties the buffer without resetting the seq counter.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.total = 0
}

// RingManager owns one Ring per session, created lazily.
type RingManager struct {
	mu       sync.Mutex
	capBytes int
	rings    map[string]*Ring
}

// NewRingManager creates a RingManager whose rings share the given cap.
func NewRingManager(capBytes int) *RingManager {
	return &RingManager{capBytes: capBytes, rings: make(map[string]*Ring)}
}

// Ring returns (creating if necessary) the ring for sessionID.
func (m *RingManager) Ring(sessionID string) *Ring {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rings[sessionID]
	if !ok {
		r = NewRing(m.capBytes)
		m.rings[sessionID] = r
	}
	return r
}

// Remove drops a session's ring entirely (its seq counter is discarded
// along with it; a later re-creation starts a fresh sequence).
func (m *RingManager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rings, sessionID)
}
