package gateway

import (
	"errors"

	"github.com/olivier-motium/mimesis/internal/commander"
	"github.com/olivier-motium/mimesis/internal/ptybridge"
)

// Sentinel errors for the conditions the boundary rejects with a typed
// `error{code, message}` to the originating client, per the component
// design's invariant-violation/timeout error codes.
var (
	ErrBadState = errors.New("gateway: invalid message for current state")
	ErrTimeout  = errors.New("gateway: operation timed out")
)

// codeForError maps an error to its wire `error.code` value via
// errors.Is, so a single dispatch path decides the code instead of each
// call site hand-writing a string literal.
func codeForError(err error) string {
	switch {
	case errors.Is(err, ptybridge.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ptybridge.ErrBadToken):
		return "BAD_TOKEN"
	case errors.Is(err, commander.ErrBusy):
		return "COMMANDER_BUSY"
	case errors.Is(err, commander.ErrSendFailed):
		return "COMMANDER_SEND_FAILED"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrBadState):
		return "BAD_STATE"
	default:
		return "BAD_STATE"
	}
}
