// Package transcript tails Claude Code JSONL transcript files
// incrementally, capturing bootstrap session metadata once and keeping
// only a bounded trailing window of entries in memory.
package transcript

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olivier-motium/mimesis/internal/model"
)

// TailResult is the output of one incremental tail pass: newly parsed
// entries (in file order) and the byte offset to resume from next time.
type TailResult struct {
	Entries  []model.LogEntry
	NewByte  int64
}

// Tail reads path starting at fromByte, returning every complete JSONL
// line parsed since. Malformed lines are skipped but still advance the
// offset. A trailing line with no terminating newline is left unconsumed
// so the next call retries it once more data has been written.
//
// ENOENT is not an error here: it returns a zero-valued TailResult at
// fromByte so a watcher racing a file's creation can simply retry later.
func Tail(path string, fromByte int64) (TailResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TailResult{NewByte: fromByte}, nil
		}
		return TailResult{NewByte: fromByte}, err
	}
	defer f.Close()

	if fromByte > 0 {
		if _, err := f.Seek(fromByte, io.SeekStart); err != nil {
			return TailResult{NewByte: fromByte}, err
		}
	}

	result := TailResult{NewByte: fromByte}
	reader := bufio.NewReaderSize(f, 64*1024)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return result, err
		}
		if len(line) == 0 {
			break
		}
		if line[len(line)-1] != '\n' {
			// Incomplete trailing line: don't consume, retry next tail.
			break
		}

		result.NewByte += int64(len(line))

		entry, ok := parseLine(line[:len(line)-1])
		if !ok {
			continue
		}
		result.Entries = append(result.Entries, entry)

		if err == io.EOF {
			break
		}
	}

	return result, nil
}

func parseLine(data []byte) (model.LogEntry, bool) {
	data = bytesTrimSpace(data)
	if len(data) == 0 {
		return model.LogEntry{}, false
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.LogEntry{}, false
	}

	var entry model.LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return model.LogEntry{}, false
	}
	entry.Raw = raw
	return entry, true
}

// IsSubsessionFile reports whether a transcript filename looks like a
// sub-session ("agent") transcript rather than a top-level session, by
// the same naming convention Claude Code uses for sidechain transcripts.
func IsSubsessionFile(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(base, "-agent-") || strings.HasPrefix(base, "agent-")
}

// ExtractSubsessions returns the distinct sub-session (sidechain) ids
// referenced by entries, in first-seen order.
func ExtractSubsessions(entries []model.LogEntry) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if !e.IsSidechain || e.SessionID == "" || seen[e.SessionID] {
			continue
		}
		seen[e.SessionID] = true
		out = append(out, e.SessionID)
	}
	return out
}

func bytesTrimSpace(b []byte) []byte {
	return []byte(strings.TrimSpace(string(b)))
}

// Compact trims entries to at most keep, always preserving index 0 so
// bootstrap metadata captured from the very first entry is never lost
// even once the live window has been trimmed past it.
func Compact(entries []model.LogEntry, keep int) []model.LogEntry {
	if keep <= 0 || len(entries) <= keep {
		return entries
	}
	out := make([]model.LogEntry, 0, keep)
	out = append(out, entries[0])
	out = append(out, entries[len(entries)-(keep-1):]...)
	return out
}

// ExtractMeta derives bootstrap session metadata from the earliest
// entries of a freshly-opened transcript. It is meant to be called once,
// at first parse, and the result cached by the caller rather than
// re-derived after Compact has trimmed the window.
func ExtractMeta(entries []model.LogEntry) model.SessionMeta {
	var meta model.SessionMeta
	for _, e := range entries {
		if meta.SessionID == "" && e.SessionID != "" {
			meta.SessionID = e.SessionID
		}
		if meta.CWD == "" && e.CWD != "" {
			meta.CWD = e.CWD
		}
		if meta.GitBranch == "" && e.GitBranch != "" {
			meta.GitBranch = e.GitBranch
		}
		if meta.StartedAt.IsZero() && !e.Timestamp.IsZero() {
			meta.StartedAt = e.Timestamp
		}
		if meta.OriginalPrompt == "" && e.Type == model.EntryUser && e.Message != nil {
			if text, ok := e.Message.Content.(string); ok {
				meta.OriginalPrompt = text
			}
		}
		if meta.SessionID != "" && meta.CWD != "" && meta.OriginalPrompt != "" && !meta.StartedAt.IsZero() {
			break
		}
	}
	return meta
}

// ApplyTail folds a TailResult into a SessionState: appends new entries,
// captures bootstrap metadata on the very first successful parse, trims
// to MaxEntriesPerSession, and advances the byte offset.
func ApplyTail(state *model.SessionState, res TailResult) {
	state.BytePosition = res.NewByte
	if len(res.Entries) == 0 {
		return
	}

	if !state.MetaCaptured {
		state.Meta = ExtractMeta(res.Entries)
		if state.Meta.SessionID != "" {
			state.MetaCaptured = true
		}
	}

	state.Entries = append(state.Entries, res.Entries...)
	state.Entries = Compact(state.Entries, model.MaxEntriesPerSession)
	state.LastParsedAt = time.Now()
}
