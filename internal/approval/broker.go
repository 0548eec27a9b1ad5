package approval

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/permission"
)

// EventSink injects synthetic events into a chat's live output stream.
// Implemented by the process supervisor.
type EventSink interface {
	InjectEvent(chatID string, event any) bool
}

// WorkspaceResolver reports the registered workspace folder for a chat.
// Implemented by the session store.
type WorkspaceResolver interface {
	Workspace(chatID string) string
}

// RuleChecker evaluates permission rules for a tool call.
// Implemented by the permission store.
type RuleChecker interface {
	Check(tool string, input map[string]any) string
}

// Broker is the in-memory registry of pending approval requests. It is safe
// for concurrent use from HTTP handler goroutines: one goroutine may block
// in Wait while others register and decide unrelated requests.
type Broker struct {
	rules       RuleChecker
	workspaces  WorkspaceResolver
	sink        EventSink
	waitTimeout time.Duration
	logger      *logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewBroker creates an approval broker. waitTimeout bounds Wait; zero means
// the 5-minute default.
func NewBroker(rules RuleChecker, workspaces WorkspaceResolver, sink EventSink, waitTimeout time.Duration, log *logger.Logger) *Broker {
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Minute
	}
	return &Broker{
		rules:       rules,
		workspaces:  workspaces,
		sink:        sink,
		waitTimeout: waitTimeout,
		logger:      log.WithFields(zap.String("component", "approval-broker")),
		pending:     make(map[string]*pendingRequest),
	}
}

// Register records a gated tool call. When a permission rule allows the
// call, or the call mutates a file inside the chat's registered workspace
// folder, it is resolved immediately and the returned auto value is "allow";
// a later Wait returns without blocking. Everything else, including calls a
// deny rule matches, surfaces to the user so there are no silent denials.
func (b *Broker) Register(req Request) (auto string, err error) {
	p := &pendingRequest{
		chatID:     req.ChatID,
		tool:       req.Tool,
		input:      req.Input,
		decisionCh: make(chan string, 1),
		createdAt:  time.Now(),
	}

	b.mu.Lock()
	b.pending[req.RequestID] = p
	b.mu.Unlock()

	if b.rules != nil && b.rules.Check(req.Tool, req.Input) == permission.VerdictAllow {
		p.decisionCh <- DecisionAllow
		b.logger.Info("auto-allowed by permission rule",
			zap.String("request_id", req.RequestID),
			zap.String("tool", req.Tool))
		return DecisionAllow, nil
	}

	if b.workspaceAllowed(req) {
		p.decisionCh <- DecisionAllow
		b.logger.Info("auto-allowed inside workspace folder",
			zap.String("request_id", req.RequestID),
			zap.String("tool", req.Tool))
		return DecisionAllow, nil
	}

	b.surface(req)
	return "", nil
}

// RegisterQuestion records a free-form question and surfaces it to the user.
func (b *Broker) RegisterQuestion(q Question) {
	p := &pendingRequest{
		chatID:     q.ChatID,
		tool:       "AskUserQuestion",
		decisionCh: make(chan string, 1),
		createdAt:  time.Now(),
	}

	b.mu.Lock()
	b.pending[q.RequestID] = p
	b.mu.Unlock()

	if b.sink != nil {
		b.sink.InjectEvent(q.ChatID, map[string]any{
			"type":       "user_question",
			"request_id": q.RequestID,
			"questions":  q.Questions,
		})
	}
}

// Wait blocks until the request is decided, the wait window elapses, or ctx
// is cancelled. Timeout and cancellation both resolve to deny, because an
// approval that cannot be delivered must never default to allow. The pending
// entry is purged on every return path.
func (b *Broker) Wait(ctx context.Context, requestID string) (string, error) {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	b.mu.Unlock()

	if !ok {
		return "", ErrNotFound
	}

	defer func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(b.waitTimeout)
	defer timer.Stop()

	select {
	case decision := <-p.decisionCh:
		return decision, nil
	case <-timer.C:
		b.logger.Warn("approval wait timed out, denying",
			zap.String("request_id", requestID),
			zap.Duration("timeout", b.waitTimeout))
		return DecisionDeny, nil
	case <-ctx.Done():
		return DecisionDeny, nil
	}
}

// Decide stores the user's allow/deny decision and unblocks the waiter.
// As a side effect a permission_decision event is pushed into the chat's
// live stream so the UI can reconcile optimistic state.
func (b *Broker) Decide(requestID, decision string) error {
	if decision != DecisionAllow && decision != DecisionDeny {
		return ErrInvalidDecision
	}

	b.mu.Lock()
	p, ok := b.pending[requestID]
	b.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	select {
	case p.decisionCh <- decision:
	default:
		return ErrAlreadyDecided
	}

	if b.sink != nil && p.chatID != "" {
		b.sink.InjectEvent(p.chatID, map[string]any{
			"type":       "permission_decision",
			"request_id": requestID,
			"approved":   decision == DecisionAllow,
		})
	}
	return nil
}

// Answer stores a free-text answer for a question and unblocks the waiter.
func (b *Broker) Answer(requestID, answer string) error {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	b.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	select {
	case p.decisionCh <- answer:
		return nil
	default:
		return ErrAlreadyDecided
	}
}

// PendingCount returns the number of undecided requests.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// workspaceAllowed reports whether the call is a file-mutating tool whose
// target path lies inside the chat's registered workspace folder.
func (b *Broker) workspaceAllowed(req Request) bool {
	if b.workspaces == nil {
		return false
	}
	if _, ok := fileMutatingTools[req.Tool]; !ok {
		return false
	}
	folder := b.workspaces.Workspace(req.ChatID)
	path, _ := req.Input["file_path"].(string)
	if folder == "" || path == "" {
		return false
	}
	return strings.HasPrefix(path, folder+"/")
}

// surface injects a permission_request event carrying a human-friendly
// description and, where safe, an always-allow pattern suggestion.
func (b *Broker) surface(req Request) {
	if b.sink == nil {
		return
	}

	description, _ := req.Input["command"].(string)
	if description == "" {
		if content, ok := req.Input["content"].(string); ok {
			description = truncate(content, 120)
		}
	}
	if description == "" {
		if old, ok := req.Input["old_string"].(string); ok {
			description = truncate(old, 80)
		}
	}

	path, _ := req.Input["file_path"].(string)
	if path == "" {
		path, _ = req.Input["path"].(string)
	}

	var alwaysAllow any
	switch req.Tool {
	case "Bash":
		command, _ := req.Input["command"].(string)
		if pattern, ok := permission.SuggestPattern(command); ok {
			alwaysAllow = pattern
		}
	case "Write", "Edit", "MultiEdit":
		if strings.HasSuffix(path, ".md") {
			alwaysAllow = "**/*.md"
		}
	}

	b.sink.InjectEvent(req.ChatID, map[string]any{
		"type":                 "permission_request",
		"request_id":           req.RequestID,
		"tool":                 req.Tool,
		"path":                 path,
		"description":          description,
		"input":                req.Input,
		"always_allow_pattern": alwaysAllow,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
