// Package approval implements the central tool-approval broker: a registry
// of pending human decisions with blocking wait/signal semantics, plus the
// HTTP surface the agent-side gate and the frontend talk to.
package approval

import (
	"errors"
	"time"
)

// Decisions accepted by Decide.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Tools whose target path is eligible for workspace-folder auto-allow.
var fileMutatingTools = map[string]struct{}{
	"Write":     {},
	"Edit":      {},
	"MultiEdit": {},
}

var (
	// ErrNotFound is returned for operations on an unknown request id.
	ErrNotFound = errors.New("no pending request for this request_id")
	// ErrInvalidDecision is returned when a decision is not allow or deny.
	ErrInvalidDecision = errors.New("decision must be 'allow' or 'deny'")
	// ErrAlreadyDecided is returned when a request id is decided twice.
	ErrAlreadyDecided = errors.New("request already decided")
)

// Request is a gated tool call awaiting a decision.
type Request struct {
	RequestID string
	ChatID    string
	Tool      string
	Input     map[string]any
}

// Question is a free-form question for the user; it always surfaces and is
// never auto-decided.
type Question struct {
	RequestID string
	ChatID    string
	Questions []any
}

// pendingRequest tracks one undecided request. The decision channel is
// buffered with capacity one so decisions are write-once and signalling
// never blocks the deciding thread.
type pendingRequest struct {
	chatID     string
	tool       string
	input      map[string]any
	decisionCh chan string
	createdAt  time.Time
}
