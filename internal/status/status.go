// Package status derives a session's coarse machine state from its
// transcript entries as a pure function of (entries, now). It owns no
// goroutines and performs no I/O.
package status

import (
	"time"

	"github.com/olivier-motium/mimesis/internal/model"
)

const (
	StaleTimeout    = 60 * time.Second
	IdleTimeout     = 10 * time.Minute
	ApprovalTimeout = 5 * time.Second
)

// eventKind is the derived-event alphabet the state machine reacts to.
type eventKind int

const (
	eventUserPrompt eventKind = iota
	eventAssistantStreaming
	eventAssistantToolUse
	eventToolResult
	eventTurnEnd
)

type derivedEvent struct {
	kind      eventKind
	ids       []string
	at        time.Time
}

// deriveEvents walks the raw entries and produces the event stream the
// transition table reacts to. ASSISTANT_STREAMING entries (text-only
// assistant content) are emitted but never drive a transition.
//
// Per spec §3/§4.2, a transcript line's top-level type is only ever
// user|assistant|system|other: tool_use blocks are nested inside an
// assistant entry's message content array, tool_result blocks are nested
// inside a user entry's message content array, and TURN_END is signaled
// by a system entry whose subtype is turn_duration or stop_hook_summary
// rather than by a distinct top-level type.
func deriveEvents(entries []model.LogEntry) []derivedEvent {
	events := make([]derivedEvent, 0, len(entries))
	for _, e := range entries {
		switch e.Type {
		case model.EntryUser:
			if ids := contentBlockIDs(e, "tool_result"); len(ids) > 0 {
				events = append(events, derivedEvent{kind: eventToolResult, ids: ids, at: e.Timestamp})
			} else {
				events = append(events, derivedEvent{kind: eventUserPrompt, at: e.Timestamp})
			}
		case model.EntryAssistant:
			ids := contentBlockIDs(e, "tool_use")
			if len(ids) > 0 {
				events = append(events, derivedEvent{kind: eventAssistantToolUse, ids: ids, at: e.Timestamp})
			} else {
				events = append(events, derivedEvent{kind: eventAssistantStreaming, at: e.Timestamp})
			}
		case model.EntrySystem:
			if e.Subtype == model.SubtypeTurnDuration || e.Subtype == model.SubtypeStopHookSummary {
				events = append(events, derivedEvent{kind: eventTurnEnd, at: e.Timestamp})
			}
		}
	}
	return events
}

// contentBlockIDs extracts the ids of content blocks of the given type
// ("tool_use" or "tool_result") from a user or assistant entry's message
// content array. A tool_use block's id is keyed "id"; a tool_result
// block answering it is keyed "tool_use_id".
func contentBlockIDs(e model.LogEntry, blockType string) []string {
	if e.Message == nil {
		return nil
	}
	blocks, ok := e.Message.Content.([]any)
	if !ok {
		return nil
	}
	idKey := "id"
	if blockType == "tool_result" {
		idKey = "tool_use_id"
	}
	var ids []string
	for _, b := range blocks {
		m, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != blockType {
			continue
		}
		if id, _ := m[idKey].(string); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Derive replays entries to compute the current status as of now. It is
// a total pure function: the same entries and now always yield the same
// result (Invariant: pure status derivation).
func Derive(entries []model.LogEntry, now time.Time) model.StatusResult {
	st := model.StatusIdle
	pending := map[string]struct{}{}
	var lastEventAt, lastTurnEndedAt, lastWorkingAt, lastWaitingAt time.Time

	events := deriveEvents(entries)
	messageCount := 0

	for _, ev := range events {
		if ev.kind == eventUserPrompt || ev.kind == eventAssistantToolUse || ev.kind == eventToolResult {
			messageCount++
		}
		if !ev.at.IsZero() {
			lastEventAt = ev.at
		}

		switch ev.kind {
		case eventUserPrompt:
			st = model.StatusWorking
			pending = map[string]struct{}{}
			lastWorkingAt = ev.at

		case eventAssistantStreaming:
			// No-op: does not drive a transition.

		case eventAssistantToolUse:
			if st == model.StatusWorking || st == model.StatusWaitingForApproval {
				for _, id := range ev.ids {
					pending[id] = struct{}{}
				}
				st = model.StatusWaitingForApproval
				lastWaitingAt = ev.at
			}

		case eventToolResult:
			if st == model.StatusWaitingForApproval {
				for _, id := range ev.ids {
					delete(pending, id)
				}
				if len(pending) == 0 {
					st = model.StatusWorking
					lastWorkingAt = ev.at
				} else {
					lastWaitingAt = ev.at
				}
			}

		case eventTurnEnd:
			if st == model.StatusWorking {
				st = model.StatusWaitingForInput
				lastTurnEndedAt = ev.at
				lastWaitingAt = ev.at
			}
		}
	}

	// Time-based transitions, applied last against "now". A stale working
	// session becomes waiting_for_input and can then also pass the idle
	// timeout, measured from the same instant.
	if st == model.StatusWorking {
		if !lastWorkingAt.IsZero() && len(pending) == 0 && now.Sub(lastWorkingAt) > StaleTimeout {
			st = model.StatusWaitingForInput
			lastWaitingAt = lastWorkingAt
		}
	}
	if st == model.StatusWaitingForInput || st == model.StatusWaitingForApproval {
		if !lastWaitingAt.IsZero() && now.Sub(lastWaitingAt) > IdleTimeout {
			st = model.StatusIdle
		}
	}

	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}

	return model.StatusResult{
		Status:          st,
		PendingToolIDs:  ids,
		LastEventAt:     lastEventAt,
		LastTurnEndedAt: lastTurnEndedAt,
		MessageCount:    messageCount,
	}
}
