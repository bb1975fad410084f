// Package commander implements the daemon's singleton PTY-backed
// supervisor for the external AI CLI: lazy spawn, a serialized FIFO
// prompt queue, fleet-prelude construction from the outbox, and
// session-id capture by watching the CLI's own transcript directory.
package commander

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/olivier-motium/mimesis/internal/model"
	"github.com/olivier-motium/mimesis/internal/persist"
	"github.com/olivier-motium/mimesis/internal/ptybridge"
	"github.com/olivier-motium/mimesis/internal/store"
)

// Sentinel errors SendPrompt and its helpers wrap their failures in, so
// callers (the Gateway) can classify a failure with errors.Is instead of
// string-matching an error message.
var (
	// ErrBusy is returned when an operation cannot proceed because the
	// Commander is currently mid-drain of its prompt queue.
	ErrBusy = errors.New("commander: busy draining queue")
	// ErrSendFailed wraps any failure to spawn the PTY or write a prompt
	// to it.
	ErrSendFailed = errors.New("commander: send failed")
)

const (
	ptyID          = "commander"
	maxOutboxEvents = 50
	systemPromptPreamble = "You are the fleet commander. Use the activity below to decide what to do next."
)

// EventKind distinguishes the Commander lifecycle events the Gateway
// relays to clients as `commander.*` outbound messages.
type EventKind string

const (
	EventQueued EventKind = "queued"
	EventState  EventKind = "state"
	EventExit   EventKind = "exit"
)

// Event is emitted synchronously to every registered listener.
type Event struct {
	Kind     EventKind
	Position int
	Status   model.Status
	Exit     ptybridge.ExitReason
}

// Listener receives Commander events.
type Listener func(Event)

// Commander is the singleton supervisor described in the component
// design. One Commander exists per daemon process.
type Commander struct {
	ptys *ptybridge.Manager
	db   *persist.DB
	st   *store.Store

	cli string
	cwd string
	env []string

	mu              sync.Mutex
	claudeSessionID string
	spawned         bool
	draining        bool
	queue           []string
	idWatcher       *sessionIDWatcher

	listenersMu sync.Mutex
	listeners   []Listener

	changeCh chan store.Change
	closeCh  chan struct{}
	wg       sync.WaitGroup
}

// New creates a Commander bound to cli (the external CLI binary name,
// e.g. "claude") run with cwd as its working directory. It loads the
// persisted Conversation record and, per the restart-resume rule, marks
// isFirstTurn=false without spawning if a claudeSessionId already exists.
func New(ptys *ptybridge.Manager, db *persist.DB, st *store.Store, cli, cwd string, env []string) (*Commander, error) {
	c := &Commander{
		ptys:     ptys,
		db:       db,
		st:       st,
		cli:      cli,
		cwd:      cwd,
		env:      env,
		changeCh: make(chan store.Change, 64),
		closeCh:  make(chan struct{}),
	}

	conv, err := db.LoadConversation(model.ConversationCommander)
	if err != nil {
		return nil, err
	}
	c.claudeSessionID = conv.ClaudeSessionID
	if conv.ClaudeSessionID != "" && conv.IsFirstTurn {
		conv.IsFirstTurn = false
		if err := db.SaveConversation(conv); err != nil {
			return nil, err
		}
	}

	st.OnChange(func(ch store.Change) {
		if ch.SessionID != c.currentSessionID() {
			return
		}
		select {
		case c.changeCh <- ch:
		default:
		}
	})

	c.wg.Add(1)
	go c.drainLoop()

	return c, nil
}

// OnEvent registers a listener for Commander lifecycle events.
func (c *Commander) OnEvent(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Commander) emit(ev Event) {
	c.listenersMu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenersMu.Unlock()
	for _, l := range listeners {
		func() {
			defer func() { recover() }()
			l(ev)
		}()
	}
}

func (c *Commander) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claudeSessionID
}

// Close stops the Commander's background goroutine. It does not stop
// the underlying PTY.
func (c *Commander) Close() {
	close(c.closeCh)
	c.wg.Wait()
}

func (c *Commander) drainLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closeCh:
			return
		case ch := <-c.changeCh:
			st, ok := statusFromChange(ch)
			if !ok {
				continue
			}
			c.emit(Event{Kind: EventState, Status: st})
			if st == model.StatusWaitingForInput || st == model.StatusIdle {
				c.tryDrain()
			}
		}
	}
}

func statusFromChange(ch store.Change) (model.Status, bool) {
	if ch.Kind != store.ChangeUpdated && ch.Kind != store.ChangeDiscovered {
		return "", false
	}
	return ch.Session.Status, true
}

// SendPrompt is the entry point for a new prompt. It spawns the PTY on
// first use, queues the prompt if the Commander is currently working,
// and otherwise writes it immediately.
func (c *Commander) SendPrompt(prompt string) error {
	c.mu.Lock()
	if !c.spawned {
		c.mu.Unlock()
		if err := c.spawn(); err != nil {
			return fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
		c.mu.Lock()
	}

	working := c.isWorkingLocked()
	if working {
		c.queue = append(c.queue, prompt)
		position := len(c.queue)
		c.mu.Unlock()
		c.emit(Event{Kind: EventQueued, Position: position})
		return nil
	}
	c.mu.Unlock()

	return c.writePrompt(prompt)
}

func (c *Commander) isWorkingLocked() bool {
	if c.claudeSessionID == "" {
		return false
	}
	ts, ok := c.st.Get(c.claudeSessionID)
	if !ok {
		return false
	}
	return ts.Status == model.StatusWorking || ts.Status == model.StatusWaitingForApproval
}

func (c *Commander) tryDrain() {
	c.mu.Lock()
	if c.draining || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	if c.isWorkingLocked() {
		c.mu.Unlock()
		return
	}
	c.draining = true
	prompt := c.queue[0]
	c.queue = c.queue[1:]
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}()

	_ = c.writePrompt(prompt)
}

func (c *Commander) spawn() error {
	c.mu.Lock()
	if c.spawned {
		c.mu.Unlock()
		return nil
	}

	args := []string{"--dangerously-skip-permissions"}
	if c.claudeSessionID != "" {
		args = append(args, "--resume", c.claudeSessionID)
	}

	if err := c.ptys.Create(ptyID, c.cli, args, c.cwd, c.env, 120, 40, ""); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("commander: spawn: %w", err)
	}
	c.spawned = true

	watchDirty := c.claudeSessionID == ""
	c.mu.Unlock()

	if watchDirty {
		c.startSessionIDCapture()
	} else {
		c.st.AddFromPty(c.claudeSessionID, ptyID)
	}

	return nil
}

func (c *Commander) startSessionIDCapture() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	dir := filepath.Join(home, ".claude", "projects", encodeCWD(c.cwd))

	w, err := startSessionIDWatcher(dir)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.idWatcher = w
	c.mu.Unlock()

	go func() {
		select {
		case id, ok := <-w.Found():
			if !ok {
				return
			}
			c.mu.Lock()
			c.claudeSessionID = id
			c.idWatcher = nil
			c.mu.Unlock()
			w.Close()

			conv, err := c.db.LoadConversation(model.ConversationCommander)
			if err == nil {
				conv.ClaudeSessionID = id
				_ = c.db.SaveConversation(conv)
			}
			c.st.AddFromPty(id, ptyID)
		case <-c.closeCh:
			w.Close()
		}
	}()
}

// writePrompt builds the fleet prelude and writes the full turn to the
// PTY, per the component design's writePrompt algorithm.
func (c *Commander) writePrompt(prompt string) error {
	conv, err := c.db.LoadConversation(model.ConversationCommander)
	if err != nil {
		return fmt.Errorf("commander: load conversation: %w", err)
	}

	events, err := c.db.OutboxSince(conv.LastOutboxEventIDSeen, maxOutboxEvents)
	if err != nil {
		return fmt.Errorf("commander: load outbox: %w", err)
	}

	fleetDelta := buildFleetDelta(events)
	hasActivity := strings.TrimSpace(fleetDelta) != ""
	newCursor := conv.LastOutboxEventIDSeen
	if len(events) > 0 {
		newCursor = events[len(events)-1].EventID
	}

	var preamble strings.Builder
	if conv.IsFirstTurn {
		preamble.WriteString("<system-reminder>\n")
		preamble.WriteString(systemPromptPreamble)
		preamble.WriteString("\n</system-reminder>\n\n")
	}
	if hasActivity {
		preamble.WriteString("<system-reminder>\n")
		preamble.WriteString(fleetDelta)
		preamble.WriteString("\n</system-reminder>\n\n")
	}

	payload := preamble.String() + prompt + "\n"
	if err := c.ptys.Write(ptyID, []byte(payload)); err != nil {
		return fmt.Errorf("%w: write prompt: %v", ErrSendFailed, err)
	}

	conv.IsFirstTurn = false
	conv.LastOutboxEventIDSeen = newCursor
	if err := c.db.SaveConversation(conv); err != nil {
		return fmt.Errorf("commander: save conversation: %w", err)
	}

	if sid := c.currentSessionID(); sid != "" {
		c.st.UpdateFileStatus(sid, model.FileStatusWorking)
	}

	return nil
}

func buildFleetDelta(events []model.OutboxEvent) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "[%s] %s\n", e.Kind, e.Payload)
	}
	return strings.TrimSpace(b.String())
}

// Reset tears down the PTY, clears the queue, and forgets the captured
// session id so the next prompt starts a brand-new conversation. It
// refuses to run while a queued prompt is actively being drained, since
// tearing down the PTY mid-write would leave writePrompt's outbox
// cursor update racing the reset.
func (c *Commander) Reset() error {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.idWatcher != nil {
		c.idWatcher.Close()
		c.idWatcher = nil
	}
	wasSpawned := c.spawned
	c.spawned = false
	c.queue = nil
	c.claudeSessionID = ""
	c.mu.Unlock()

	if wasSpawned {
		_ = c.ptys.Stop(ptyID, "SIGTERM")
	}

	conv, err := c.db.LoadConversation(model.ConversationCommander)
	if err == nil {
		conv.ClaudeSessionID = ""
		conv.IsFirstTurn = true
		_ = c.db.SaveConversation(conv)
	}
	return nil
}

// Cancel sends SIGINT to the Commander's PTY child.
func (c *Commander) Cancel() error {
	return c.ptys.Signal(ptyID, "SIGINT")
}

// HandleExit is registered as the ptybridge.ExitHandler for the
// Commander's own PTY id. Per the failure semantics, it emits an idle
// state and preserves the queue so the next SendPrompt respawns.
func (c *Commander) HandleExit(id string, reason ptybridge.ExitReason) {
	if id != ptyID {
		return
	}
	c.mu.Lock()
	c.spawned = false
	c.mu.Unlock()

	c.emit(Event{Kind: EventExit, Exit: reason})
	c.emit(Event{Kind: EventState, Status: model.StatusIdle})
}
