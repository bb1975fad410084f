// Package gateway implements the daemon's bidirectional WebSocket
// protocol: connection lifecycle, per-client bounded send queues with
// drop-oldest backpressure, and dispatch of inbound messages to the
// Session Store, Ring Buffer Manager, PTY Bridge, and Commander.
package gateway

// InboundType enumerates inbound message discriminators.
type InboundType string

const (
	InSessionsList     InboundType = "sessions.list"
	InSessionsSearch   InboundType = "sessions.search"
	InSubscribe        InboundType = "subscribe"
	InUnsubscribe      InboundType = "unsubscribe"
	InSetScope         InboundType = "set_scope"
	InFleetSubscribe   InboundType = "fleet.subscribe"
	InPtyAttach        InboundType = "pty.attach"
	InPtyInput         InboundType = "pty.input"
	InPtyResize        InboundType = "pty.resize"
	InPtySignal        InboundType = "pty.signal"
	InCommanderSend    InboundType = "commander.send"
	InCommanderReset   InboundType = "commander.reset"
	InCommanderCancel  InboundType = "commander.cancel"
	InPing             InboundType = "ping"
)

// OutboundType enumerates outbound message discriminators.
type OutboundType string

const (
	OutSessionsSnapshot OutboundType = "sessions.snapshot"
	OutSessionStatus    OutboundType = "session.status"
	OutEvent            OutboundType = "event"
	OutCommander        OutboundType = "commander"
	OutJob              OutboundType = "job"
	OutError            OutboundType = "error"
	OutPong             OutboundType = "pong"
	OutWarning          OutboundType = "warning"
)

// InboundMessage is the envelope decoded from every inbound websocket
// text frame.
type InboundMessage struct {
	Type      InboundType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Scope     string      `json:"scope,omitempty"`
	FromCursor int64       `json:"fromCursor,omitempty"`
	Token     string      `json:"token,omitempty"`
	FromSeq   *uint64     `json:"fromSeq,omitempty"`
	Bytes     string      `json:"bytes,omitempty"`
	Cols      int         `json:"cols,omitempty"`
	Rows      int         `json:"rows,omitempty"`
	Sig       string      `json:"sig,omitempty"`
	Prompt    string      `json:"prompt,omitempty"`
	Query     string      `json:"query,omitempty"`
}

// OutboundMessage is the envelope marshaled for every outbound frame.
type OutboundMessage struct {
	Type    OutboundType `json:"type"`
	Payload any          `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an `error` outbound message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WarningPayload is the payload of a `warning` outbound message.
type WarningPayload struct {
	Reason string `json:"reason"`
}
