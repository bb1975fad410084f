// Package model holds the data types shared across the daemon's
// subsystems: transcript entries, derived status, tracked sessions,
// ring-buffered events, and the records persisted to SQLite.
package model

import "time"

// EntryType discriminates the tagged LogEntry union. Unknown values are
// preserved verbatim so callers can decide whether to skip them.
type EntryType string

const (
	EntryUser      EntryType = "user"
	EntryAssistant EntryType = "assistant"
	EntrySystem    EntryType = "system"
	EntryOther     EntryType = "other"
)

// System-entry subtypes that the status machine treats as TURN_END, per
// spec §4.2. Other system subtypes (init, api_error, compact_boundary,
// local_command, ...) are parsed but drive no transition.
const (
	SubtypeTurnDuration    = "turn_duration"
	SubtypeStopHookSummary = "stop_hook_summary"
)

// LogEntry is one parsed line of a Claude Code transcript JSONL file.
// Fields beyond Type are optional depending on variant; unrecognized JSON
// is retained in Raw for forward compatibility. A line whose "type" is
// not one of the four recognized values is still kept, with its type
// string as written, rather than dropped, so the Parser's per-line skip applies only to
// malformed JSON, not to unrecognized-but-well-formed variants.
type LogEntry struct {
	Type        EntryType      `json:"type"`
	Subtype     string         `json:"subtype,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	UUID        string         `json:"uuid"`
	SessionID   string         `json:"sessionId,omitempty"`
	CWD         string         `json:"cwd,omitempty"`
	GitBranch   string         `json:"gitBranch,omitempty"`
	IsSidechain bool           `json:"isSidechain,omitempty"`
	Message     *EntryMessage  `json:"message,omitempty"`
	Raw         map[string]any `json:"-"`
}

// EntryMessage carries the role/content payload for user and assistant
// entries. Content is left as a raw JSON-decoded interface{} value
// because it is either a plain string (a free-text user prompt) or a
// content-block array: assistant messages embed `tool_use` blocks, user
// messages embed `tool_result{tool_use_id, content}` blocks answering a
// prior tool_use.
type EntryMessage struct {
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`
}

// ContentBlock is one element of an assistant message's content array.
type ContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// MAX_ENTRIES_PER_SESSION bounds the in-memory transcript window kept per
// session; bootstrap metadata (session id, cwd, branch, original prompt,
// started-at) is captured once at first parse and never re-derived from
// the trimmed window.
const MaxEntriesPerSession = 500

// SessionState is the Watcher's view of one transcript file: the trimmed
// entry window plus the byte offset already consumed and the metadata
// captured at first parse.
type SessionState struct {
	FilePath       string
	BytePosition   int64
	Entries        []LogEntry
	Meta           SessionMeta
	MetaCaptured   bool
	LastParsedAt   time.Time
	trailingBuf    []byte // not set by the tailer; a partial trailing line is re-read from BytePosition
}

// SessionMeta is captured once from the first entries of a transcript and
// never overwritten afterward, even once Entries is trimmed to the cap.
type SessionMeta struct {
	SessionID      string
	CWD            string
	GitBranch      string
	OriginalPrompt string
	StartedAt      time.Time
}

// Status is the coarse machine state derived from a session's entries.
type Status string

const (
	StatusWorking               Status = "working"
	StatusWaitingForApproval    Status = "waiting_for_approval"
	StatusWaitingForInput       Status = "waiting_for_input"
	StatusIdle                  Status = "idle"
)

// FileStatus is the coarse value a `<cwd>/.claude/status.md` file's
// frontmatter may declare. It is merged into a TrackedSession by the
// Session Store's updateFileStatus mutator, which maps it onto Status
// via the fixed table in spec §3 invariant (b).
type FileStatus string

const (
	FileStatusWorking            FileStatus = "working"
	FileStatusWaitingForApproval FileStatus = "waiting_for_approval"
	FileStatusWaitingForInput    FileStatus = "waiting_for_input"
	FileStatusCompleted          FileStatus = "completed"
	FileStatusError              FileStatus = "error"
	FileStatusBlocked            FileStatus = "blocked"
	FileStatusIdle               FileStatus = "idle"
)

// ToStatus maps a file-reported status onto the Status Machine's
// four-value state, per spec §3 invariant (b): waiting_for_approval,
// waiting_for_input, and blocked all resolve to a "waiting" status;
// completed/error/idle resolve to idle.
func (fs FileStatus) ToStatus() Status {
	switch fs {
	case FileStatusWorking:
		return StatusWorking
	case FileStatusWaitingForApproval:
		return StatusWaitingForApproval
	case FileStatusWaitingForInput, FileStatusBlocked:
		return StatusWaitingForInput
	default:
		return StatusIdle
	}
}

// UIStatus is the collapsed three-value mapping exposed to clients.
type UIStatus string

const (
	UIWorking UIStatus = "working"
	UIWaiting UIStatus = "waiting"
	UIIdle    UIStatus = "idle"
)

// ToUIStatus collapses the four internal states into the three the UI
// distinguishes between.
func (s Status) ToUIStatus() UIStatus {
	switch s {
	case StatusWorking:
		return UIWorking
	case StatusWaitingForApproval, StatusWaitingForInput:
		return UIWaiting
	default:
		return UIIdle
	}
}

// StatusResult is the output of the pure status-derivation function:
// status plus the context needed to render or reason about it further.
type StatusResult struct {
	Status          Status
	PendingToolIDs  []string
	LastEventAt     time.Time
	LastTurnEndedAt time.Time
	MessageCount    int
}

// SessionSource records which subsystem first discovered a session.
type SessionSource string

const (
	SourceWatcher SessionSource = "watcher"
	SourcePTY     SessionSource = "pty"
)

// TrackedSession is the Store's unioned view of a session, regardless of
// whether it originated from the transcript watcher, a bound PTY, or
// both.
type TrackedSession struct {
	ID             string
	ProjectID      string
	Source         SessionSource
	Status         Status
	FileStatus     FileStatus
	Meta           SessionMeta
	FilePath       string
	PTYID          string
	PID            int
	CreatedAt      time.Time
	LastActivityAt time.Time
	UpdatedAt      time.Time
	// SupersededBy is the successor session id once a compaction marker
	// has linked this session into a work chain. A superseded session is
	// marked, never removed.
	SupersededBy string
}

// CompactionMarker is the parsed contents of a
// `<cwd>/.claude/compacted.<newSessionId>.marker` file.
type CompactionMarker struct {
	NewSessionID string    `json:"newSessionId"`
	CWD          string    `json:"cwd"`
	CompactedAt  time.Time `json:"compactedAt"`
}

// CompactionEvent links a superseded predecessor session to the
// successor session that continued its work, per the glossary's
// "superseded session" and "work chain" definitions.
type CompactionEvent struct {
	PredecessorID string
	SuccessorID   string
	CWD           string
	CompactedAt   time.Time
}

// BufferedEvent is one entry in a session's ring buffer.
type BufferedEvent struct {
	Seq       uint64
	Event     any
	SizeBytes int
}

// TerminalLink is a persisted mapping from a short-lived token to an
// attachable PTY, used so a reconnecting client can resume a terminal
// session without re-authenticating from scratch.
type TerminalLink struct {
	Token     string
	PTYID     string
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Briefing is a persisted, append-only record of a completed unit of work
// handed off between sessions; uniqueness is enforced on
// (ProjectID, SessionID, TaskID, EndedAt).
type Briefing struct {
	ID        int64
	ProjectID string
	SessionID string
	TaskID    string
	Summary   string
	EndedAt   time.Time
	CreatedAt time.Time
}

// OutboxEvent is one row in the monotonically increasing global outbox
// cursor that the Commander drains into fleet-prelude deltas.
type OutboxEvent struct {
	EventID   int64
	Kind      string
	Payload   string
	Delivered bool
	CreatedAt time.Time
}

// ConversationKind distinguishes the Commander's own conversation from a
// plain worker session's conversation record.
type ConversationKind string

const (
	ConversationCommander    ConversationKind = "commander"
	ConversationWorkerSession ConversationKind = "worker_session"
)

// Conversation is the persisted singleton-per-kind record tracking resume
// state across daemon restarts.
type Conversation struct {
	Kind                   ConversationKind
	ClaudeSessionID        string
	IsFirstTurn            bool
	LastOutboxEventIDSeen  int64
	UpdatedAt              time.Time
}
