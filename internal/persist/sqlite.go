// Package persist is the daemon's SQLite-backed durability layer: one
// pure-Go modernc.org/sqlite database holding terminal links, handoff
// briefings, the fleet-wide outbox, and the two singleton conversation
// records (Commander and worker-session). Callers never see a lock;
// every exported method handles its own synchronization internally.
package persist

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/olivier-motium/mimesis/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS terminal_links (
	token      TEXT PRIMARY KEY,
	pty_id     TEXT NOT NULL,
	session_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS briefings (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	task_id    TEXT NOT NULL,
	summary    TEXT NOT NULL,
	ended_at   INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(project_id, session_id, task_id, ended_at)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	event_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	delivered  INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	kind                      TEXT PRIMARY KEY,
	claude_session_id         TEXT NOT NULL DEFAULT '',
	is_first_turn             INTEGER NOT NULL DEFAULT 1,
	last_outbox_event_id_seen INTEGER NOT NULL DEFAULT 0,
	updated_at                INTEGER NOT NULL
);
`

// DB wraps a single SQLite connection and serializes access with a
// mutex; modernc.org/sqlite's cgo-free driver does not multiplex
// writers well across goroutines, so every repository method here
// takes the same lock before touching *sql.DB.
type DB struct {
	mu   sync.Mutex
	conn *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and
// applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("persist: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// SaveTerminalLink upserts a terminal attachment token.
func (d *DB) SaveTerminalLink(l model.TerminalLink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.conn.Exec(`
		INSERT INTO terminal_links (token, pty_id, session_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET pty_id=excluded.pty_id, session_id=excluded.session_id, expires_at=excluded.expires_at
	`, l.Token, l.PTYID, l.SessionID, l.CreatedAt.UnixMilli(), l.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("persist: save terminal link: %w", err)
	}
	return nil
}

// GetTerminalLink looks up a token, returning (zero, false) if absent
// or expired as of now.
func (d *DB) GetTerminalLink(token string, now time.Time) (model.TerminalLink, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var l model.TerminalLink
	var created, expires int64
	row := d.conn.QueryRow(`SELECT token, pty_id, session_id, created_at, expires_at FROM terminal_links WHERE token = ?`, token)
	if err := row.Scan(&l.Token, &l.PTYID, &l.SessionID, &created, &expires); err != nil {
		return model.TerminalLink{}, false
	}
	l.CreatedAt = time.UnixMilli(created)
	l.ExpiresAt = time.UnixMilli(expires)
	if now.After(l.ExpiresAt) {
		return model.TerminalLink{}, false
	}
	return l, true
}

// IngestResult reports whether IngestBriefing's insert was the first one
// to see this briefing's unique key, per spec boundary scenario S6.
type IngestResult struct {
	Success     bool
	IsDuplicate bool
}

// IngestBriefing inserts one briefing and, only on a genuinely new row,
// appends a matching outbox event in the same transaction — so the
// outbox can never contain an event for a briefing that didn't commit,
// and a replayed briefing file never produces a second fleet-prelude
// entry. Idempotency relies on `ON CONFLICT DO NOTHING` over
// (projectId, sessionId, taskId, endedAt) plus RowsAffected to detect
// the conflict.
func (d *DB) IngestBriefing(b model.Briefing, outboxPayload string) (IngestResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.conn.Begin()
	if err != nil {
		return IngestResult{}, fmt.Errorf("persist: begin briefing tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO briefings (project_id, session_id, task_id, summary, ended_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, session_id, task_id, ended_at) DO NOTHING
	`, b.ProjectID, b.SessionID, b.TaskID, b.Summary, b.EndedAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return IngestResult{}, fmt.Errorf("persist: insert briefing: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return IngestResult{}, fmt.Errorf("persist: briefing rows affected: %w", err)
	}
	if affected == 0 {
		return IngestResult{Success: true, IsDuplicate: true}, tx.Commit()
	}

	if _, err := tx.Exec(`INSERT INTO outbox_events (kind, payload, created_at) VALUES (?, ?, ?)`,
		"briefing", outboxPayload, time.Now().UnixMilli()); err != nil {
		return IngestResult{}, fmt.Errorf("persist: append briefing outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return IngestResult{}, fmt.Errorf("persist: commit briefing tx: %w", err)
	}
	return IngestResult{Success: true}, nil
}

// AppendOutboxEvent appends one event to the monotonically increasing
// outbox and returns its assigned event id.
func (d *DB) AppendOutboxEvent(kind, payload string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.conn.Exec(`INSERT INTO outbox_events (kind, payload, created_at) VALUES (?, ?, ?)`, kind, payload, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("persist: append outbox event: %w", err)
	}
	return res.LastInsertId()
}

// OutboxSince returns every event with eventId > after, in ascending
// order, bounded to maxEvents.
func (d *DB) OutboxSince(after int64, maxEvents int) ([]model.OutboxEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.conn.Query(`
		SELECT event_id, kind, payload, delivered, created_at FROM outbox_events
		WHERE event_id > ? ORDER BY event_id ASC LIMIT ?
	`, after, maxEvents)
	if err != nil {
		return nil, fmt.Errorf("persist: query outbox: %w", err)
	}
	defer rows.Close()

	var out []model.OutboxEvent
	for rows.Next() {
		var e model.OutboxEvent
		var delivered int
		var created int64
		if err := rows.Scan(&e.EventID, &e.Kind, &e.Payload, &delivered, &created); err != nil {
			return nil, fmt.Errorf("persist: scan outbox row: %w", err)
		}
		e.Delivered = delivered != 0
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadConversation loads the singleton conversation record for kind,
// creating a fresh one in memory (not yet persisted) if absent.
func (d *DB) LoadConversation(kind model.ConversationKind) (model.Conversation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var c model.Conversation
	c.Kind = kind
	var isFirst int
	var updated int64
	row := d.conn.QueryRow(`
		SELECT claude_session_id, is_first_turn, last_outbox_event_id_seen, updated_at
		FROM conversations WHERE kind = ?
	`, string(kind))
	err := row.Scan(&c.ClaudeSessionID, &isFirst, &c.LastOutboxEventIDSeen, &updated)
	if err == sql.ErrNoRows {
		c.IsFirstTurn = true
		return c, nil
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("persist: load conversation %s: %w", kind, err)
	}
	c.IsFirstTurn = isFirst != 0
	c.UpdatedAt = time.UnixMilli(updated)
	return c, nil
}

// SaveConversation upserts the singleton conversation record for its kind.
func (d *DB) SaveConversation(c model.Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	isFirst := 0
	if c.IsFirstTurn {
		isFirst = 1
	}
	_, err := d.conn.Exec(`
		INSERT INTO conversations (kind, claude_session_id, is_first_turn, last_outbox_event_id_seen, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			claude_session_id=excluded.claude_session_id,
			is_first_turn=excluded.is_first_turn,
			last_outbox_event_id_seen=excluded.last_outbox_event_id_seen,
			updated_at=excluded.updated_at
	`, string(c.Kind), c.ClaudeSessionID, isFirst, c.LastOutboxEventIDSeen, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("persist: save conversation %s: %w", c.Kind, err)
	}
	return nil
}
