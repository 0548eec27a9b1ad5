package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/permission"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}

type fakeRules struct {
	verdict string
}

func (f *fakeRules) Check(tool string, input map[string]any) string {
	return f.verdict
}

type fakeWorkspaces struct {
	folders map[string]string
}

func (f *fakeWorkspaces) Workspace(chatID string) string {
	return f.folders[chatID]
}

type captureSink struct {
	mu     sync.Mutex
	events []map[string]any
}

func (c *captureSink) InjectEvent(chatID string, event any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := event.(map[string]any); ok {
		c.events = append(c.events, m)
	}
	return true
}

func (c *captureSink) byType(eventType string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, e := range c.events {
		if e["type"] == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestBroker(verdict string, waitTimeout time.Duration) (*Broker, *captureSink) {
	sink := &captureSink{}
	ws := &fakeWorkspaces{folders: map[string]string{"chat-1": "/home/user/project"}}
	b := NewBroker(&fakeRules{verdict: verdict}, ws, sink, waitTimeout, newTestLogger())
	return b, sink
}

func TestBroker_DecideThenWaitReturnsImmediately(t *testing.T) {
	b, _ := newTestBroker(permission.VerdictAsk, time.Minute)

	_, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "make deploy"}})
	require.NoError(t, err)

	require.NoError(t, b.Decide("req-1", DecisionAllow))

	start := time.Now()
	decision, err := b.Wait(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBroker_UnknownRequestID(t *testing.T) {
	b, _ := newTestBroker(permission.VerdictAsk, time.Minute)

	_, err := b.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, b.Decide("nope", DecisionAllow), ErrNotFound)
	assert.ErrorIs(t, b.Answer("nope", "hi"), ErrNotFound)
}

func TestBroker_InvalidDecisionRejected(t *testing.T) {
	b, _ := newTestBroker(permission.VerdictAsk, time.Minute)

	_, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "make deploy"}})
	require.NoError(t, err)

	assert.ErrorIs(t, b.Decide("req-1", "maybe"), ErrInvalidDecision)
	assert.ErrorIs(t, b.Decide("req-1", ""), ErrInvalidDecision)

	// A bad decision must not consume the request.
	require.NoError(t, b.Decide("req-1", DecisionDeny))
}

func TestBroker_WaitTimesOutToDeny(t *testing.T) {
	b, _ := newTestBroker(permission.VerdictAsk, 50*time.Millisecond)

	_, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "make deploy"}})
	require.NoError(t, err)

	decision, err := b.Wait(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision)

	// The entry is purged after the wait resolves.
	_, err = b.Wait(context.Background(), "req-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBroker_CancelledContextDenies(t *testing.T) {
	b, _ := newTestBroker(permission.VerdictAsk, time.Minute)

	_, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "make deploy"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision, err := b.Wait(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision)
}

func TestBroker_RuleAutoAllowSkipsHuman(t *testing.T) {
	b, sink := newTestBroker(permission.VerdictAllow, time.Minute)

	auto, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "git status"}})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, auto)

	decision, err := b.Wait(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)

	assert.Empty(t, sink.byType("permission_request"))
}

func TestBroker_WorkspaceWriteAutoAllows(t *testing.T) {
	b, sink := newTestBroker(permission.VerdictAsk, time.Minute)

	auto, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-1", Tool: "Write",
		Input: map[string]any{"file_path": "/home/user/project/main.go", "content": "package main"}})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, auto)

	decision, err := b.Wait(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)

	assert.Empty(t, sink.byType("permission_request"))
}

func TestBroker_WriteOutsideWorkspaceSurfaces(t *testing.T) {
	b, sink := newTestBroker(permission.VerdictAsk, time.Minute)

	auto, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-1", Tool: "Write",
		Input: map[string]any{"file_path": "/etc/hosts", "content": "bad"}})
	require.NoError(t, err)
	assert.Empty(t, auto)

	events := sink.byType("permission_request")
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0]["request_id"])
	assert.Equal(t, "Write", events[0]["tool"])
	assert.Equal(t, "/etc/hosts", events[0]["path"])
}

func TestBroker_BashWorkspacePathDoesNotAutoAllow(t *testing.T) {
	// Workspace auto-allow covers file-mutating tools only.
	b, sink := newTestBroker(permission.VerdictAsk, time.Minute)

	auto, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-1", Tool: "Bash",
		Input: map[string]any{"command": "touch /home/user/project/x", "file_path": "/home/user/project/x"}})
	require.NoError(t, err)
	assert.Empty(t, auto)
	assert.Len(t, sink.byType("permission_request"), 1)
}

func TestBroker_DenyRuleStillSurfaces(t *testing.T) {
	b, sink := newTestBroker(permission.VerdictDeny, time.Minute)

	auto, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "rm -rf /"}})
	require.NoError(t, err)
	assert.Empty(t, auto)
	assert.Len(t, sink.byType("permission_request"), 1)
}

func TestBroker_DecideEmitsDecisionEvent(t *testing.T) {
	b, sink := newTestBroker(permission.VerdictAsk, time.Minute)

	_, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "make deploy"}})
	require.NoError(t, err)

	require.NoError(t, b.Decide("req-1", DecisionDeny))

	events := sink.byType("permission_decision")
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0]["request_id"])
	assert.Equal(t, false, events[0]["approved"])
}

func TestBroker_DoubleDecide(t *testing.T) {
	b, _ := newTestBroker(permission.VerdictAsk, time.Minute)

	_, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "make deploy"}})
	require.NoError(t, err)

	require.NoError(t, b.Decide("req-1", DecisionAllow))
	assert.ErrorIs(t, b.Decide("req-1", DecisionDeny), ErrAlreadyDecided)
}

func TestBroker_QuestionAnswerRoundTrip(t *testing.T) {
	b, sink := newTestBroker(permission.VerdictAsk, time.Minute)

	b.RegisterQuestion(Question{RequestID: "q-1", ChatID: "chat-2",
		Questions: []any{map[string]any{"question": "Deploy to prod?"}}})

	events := sink.byType("user_question")
	require.Len(t, events, 1)
	assert.Equal(t, "q-1", events[0]["request_id"])

	require.NoError(t, b.Answer("q-1", "yes, go ahead"))

	answer, err := b.Wait(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, "yes, go ahead", answer)
}

func TestBroker_BashSuggestionInSurfacedEvent(t *testing.T) {
	b, sink := newTestBroker(permission.VerdictAsk, time.Minute)

	_, err := b.Register(Request{RequestID: "req-1", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "make build"}})
	require.NoError(t, err)

	events := sink.byType("permission_request")
	require.Len(t, events, 1)
	assert.Equal(t, "make", events[0]["always_allow_pattern"])

	_, err = b.Register(Request{RequestID: "req-2", ChatID: "chat-2", Tool: "Bash",
		Input: map[string]any{"command": "rm -rf build"}})
	require.NoError(t, err)

	events = sink.byType("permission_request")
	require.Len(t, events, 2)
	assert.Nil(t, events[1]["always_allow_pattern"])
}
