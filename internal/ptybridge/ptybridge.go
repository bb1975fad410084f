// Package ptybridge spawns interactive PTY-backed child processes,
// relays their byte stream to any number of attached clients, and
// reclaims idle PTYs. It is the daemon's only owner of real
// creack/pty file descriptors; the Gateway and Commander talk to it
// through this package's exported operations only.
package ptybridge

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	gops "github.com/mitchellh/go-ps"
)

// IdleTimeout is how long a PTY with no attached clients and no output
// activity survives before the idle sweeper reclaims it.
const IdleTimeout = 30 * time.Minute

var (
	// ErrNotFound is returned when an operation targets an unknown PTY id.
	ErrNotFound = errors.New("ptybridge: pty not found")
	// ErrBadToken is returned when AddClient is called with a token that
	// does not match the one issued at Create.
	ErrBadToken = errors.New("ptybridge: bad attachment token")
)

// ExitReason classifies how a PTY's child process ended.
type ExitReason struct {
	Code   int
	Signal string
}

// ExitHandler is invoked once, exactly once, when a PTY's child exits.
type ExitHandler func(ptyID string, reason ExitReason)

type client struct {
	sink func([]byte)
}

// pty state: one real os/exec child plus its master fd, the set of
// attached client sinks, and the one-shot attachment token issued at
// creation.
type ptyState struct {
	id             string
	cmd            *exec.Cmd
	master         *os.File
	token          string
	tokenConsumed  bool
	cols, rows     int
	lastActivityAt time.Time
	// exited is closed exactly once, by waitLoop's single cmd.Wait()
	// call. Stop blocks on it instead of calling Wait() itself —
	// exec.Cmd.Wait() is documented as unsafe to call more than once or
	// concurrently.
	exited chan struct{}

	mu      sync.Mutex
	clients map[int]*client
	nextCID int
	stopped bool
}

// Manager owns every live PTY in the daemon.
type Manager struct {
	mu    sync.Mutex
	ptys  map[string]*ptyState
	onExit ExitHandler
}

// NewManager creates an empty Manager. onExit, if non-nil, is called
// once per PTY when its child process exits.
func NewManager(onExit ExitHandler) *Manager {
	return &Manager{ptys: make(map[string]*ptyState), onExit: onExit}
}

// Create spawns command/args in a new PTY with the given working
// directory, extra environment variables, and initial size, registering
// it under id with token as its one-shot attachment token (an empty
// token leaves attachment ungated).
func (m *Manager) Create(id string, command string, args []string, dir string, env []string, cols, rows int, token string) error {
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	// New process group so Signal can target the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return fmt.Errorf("ptybridge: start %s: %w", command, err)
	}

	st := &ptyState{
		id:             id,
		cmd:            cmd,
		master:         master,
		token:          token,
		cols:           cols,
		rows:           rows,
		lastActivityAt: time.Now(),
		clients:        make(map[int]*client),
		exited:         make(chan struct{}),
	}

	m.mu.Lock()
	m.ptys[id] = st
	m.mu.Unlock()

	go m.relayLoop(st)
	go m.waitLoop(st)

	return nil
}

func (m *Manager) relayLoop(st *ptyState) {
	buf := make([]byte, 4096)
	for {
		n, err := st.master.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			st.mu.Lock()
			st.lastActivityAt = time.Now()
			sinks := make([]func([]byte), 0, len(st.clients))
			for _, c := range st.clients {
				sinks = append(sinks, c.sink)
			}
			st.mu.Unlock()

			for _, sink := range sinks {
				func() {
					defer func() { recover() }()
					sink(chunk)
				}()
			}
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) waitLoop(st *ptyState) {
	err := st.cmd.Wait()

	reason := ExitReason{}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		reason.Code = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			reason.Signal = ws.Signal().String()
		}
	}

	st.mu.Lock()
	st.stopped = true
	st.mu.Unlock()
	st.master.Close()
	close(st.exited)

	if m.onExit != nil {
		m.onExit(st.id, reason)
	}
}

func (m *Manager) get(id string) (*ptyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.ptys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// Write sends data to the PTY's master side (child's stdin).
func (m *Manager) Write(id string, data []byte) error {
	st, err := m.get(id)
	if err != nil {
		return err
	}
	if _, err := st.master.Write(data); err != nil {
		// A dead master is terminal for the whole PTY, not just this writer.
		m.Stop(id, "SIGKILL")
		return fmt.Errorf("ptybridge: write %s: %w", id, err)
	}
	st.mu.Lock()
	st.lastActivityAt = time.Now()
	st.mu.Unlock()
	return nil
}

// Resize changes the PTY's terminal dimensions.
func (m *Manager) Resize(id string, cols, rows int) error {
	st, err := m.get(id)
	if err != nil {
		return err
	}
	if err := pty.Setsize(st.master, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return fmt.Errorf("ptybridge: resize %s: %w", id, err)
	}
	st.mu.Lock()
	st.cols, st.rows = cols, rows
	st.mu.Unlock()
	return nil
}

// Signal delivers a named signal (e.g. "SIGINT", "SIGTERM") to the
// PTY's child process group.
func (m *Manager) Signal(id, sig string) error {
	st, err := m.get(id)
	if err != nil {
		return err
	}
	s, ok := signalByName[sig]
	if !ok {
		return fmt.Errorf("ptybridge: unknown signal %q", sig)
	}
	return syscall.Kill(-st.cmd.Process.Pid, s)
}

var signalByName = map[string]syscall.Signal{
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": syscall.SIGKILL,
	"SIGHUP":  syscall.SIGHUP,
}

// AddClient registers a sink for the PTY's output, validating the
// attachment token. The token may only be consumed once; subsequent
// attaches (e.g. a reconnecting browser tab) must go through a freshly
// issued token from the Commander or session owner. Returns a detach
// function the caller must invoke on disconnect.
func (m *Manager) AddClient(ptyID, token string, sink func([]byte)) (func(), error) {
	st, err := m.get(ptyID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	if st.token != "" {
		if st.tokenConsumed || token != st.token {
			st.mu.Unlock()
			return nil, ErrBadToken
		}
		st.tokenConsumed = true
	}
	cid := st.nextCID
	st.nextCID++
	st.clients[cid] = &client{sink: sink}
	st.lastActivityAt = time.Now()
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		delete(st.clients, cid)
		st.mu.Unlock()
	}, nil
}

// ClientCount reports how many clients are currently attached.
func (m *Manager) ClientCount(id string) int {
	st, err := m.get(id)
	if err != nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.clients)
}

// Stop terminates a PTY's child, escalating from the named signal to
// SIGKILL if it doesn't exit within the grace period, then removes the
// PTY from the Manager. It never calls cmd.Wait() itself — waitLoop's
// single call is the only one, and Stop just waits on the channel it
// closes on exit.
func (m *Manager) Stop(id, sig string) error {
	st, err := m.get(id)
	if err != nil {
		return err
	}

	_ = m.Signal(id, sig)

	select {
	case <-st.exited:
	case <-time.After(5 * time.Second):
		syscall.Kill(-st.cmd.Process.Pid, syscall.SIGKILL)
		<-st.exited
	}

	m.mu.Lock()
	delete(m.ptys, id)
	m.mu.Unlock()

	return nil
}

// SweepIdle stops every PTY with no attached clients whose last
// activity is older than IdleTimeout, cross-checking against the OS
// process table so a PTY whose child has already died outside our
// Wait() (e.g. reparented) isn't kept alive by a stale lastActivityAt.
func (m *Manager) SweepIdle(now time.Time) {
	m.mu.Lock()
	var candidates []*ptyState
	for _, st := range m.ptys {
		candidates = append(candidates, st)
	}
	m.mu.Unlock()

	for _, st := range candidates {
		st.mu.Lock()
		idle := len(st.clients) == 0 && now.Sub(st.lastActivityAt) > IdleTimeout
		pid := st.cmd.Process.Pid
		st.mu.Unlock()

		if !idle {
			continue
		}
		if !processAlive(pid) {
			m.mu.Lock()
			delete(m.ptys, st.id)
			m.mu.Unlock()
			continue
		}
		m.Stop(st.id, "SIGTERM")
	}
}

func processAlive(pid int) bool {
	proc, err := gops.FindProcess(pid)
	return err == nil && proc != nil
}
