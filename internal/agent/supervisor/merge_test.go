package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/agent"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}

type fakeSessions struct {
	sessions map[string]string
	dropped  []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]string)}
}

func (f *fakeSessions) Resolve(chatID string) string { return f.sessions[chatID] }
func (f *fakeSessions) SetSession(chatID, sessionID string) {
	f.sessions[chatID] = sessionID
}
func (f *fakeSessions) DropSession(chatID string) {
	delete(f.sessions, chatID)
	f.dropped = append(f.dropped, chatID)
}

func newTestSupervisor(store SessionStore) *Supervisor {
	return New(Options{
		CLIPath:      "claude",
		GateBinary:   "approval-gate",
		GateURL:      "http://127.0.0.1:5050",
		DefaultModel: "claude-sonnet-4-6",
	}, store, newTestLogger())
}

func TestMergeQueue_FIFO(t *testing.T) {
	q := newMergeQueue()
	q.push(itemStdout, "a")
	q.push(itemStderr, "b")
	q.push(itemInject, "c")

	assert.Equal(t, mergeItem{itemStdout, "a"}, q.pop())
	assert.Equal(t, mergeItem{itemStderr, "b"}, q.pop())
	assert.Equal(t, mergeItem{itemInject, "c"}, q.pop())
}

func TestMergeQueue_PopBlocksUntilPush(t *testing.T) {
	q := newMergeQueue()
	got := make(chan mergeItem, 1)
	go func() { got <- q.pop() }()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(20 * time.Millisecond):
	}

	q.push(itemCancel, "")
	select {
	case item := <-got:
		assert.Equal(t, itemCancel, item.kind)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func drainEvents(out chan string) []map[string]any {
	close(out)
	var events []map[string]any
	for line := range out {
		var m map[string]any
		if json.Unmarshal([]byte(line), &m) == nil {
			events = append(events, m)
		}
	}
	return events
}

func TestConsume_TerminatesOnBothEOFs(t *testing.T) {
	s := newTestSupervisor(newFakeSessions())
	run := &liveRun{queue: newMergeQueue()}
	out := make(chan string, 16)

	run.queue.push(itemStdout, `{"type":"assistant"}`)
	run.queue.push(itemOutEOF, "")
	run.queue.push(itemErrEOF, "")

	result := s.consume(out, run, "chat-1")
	assert.False(t, result.cancelled)
	assert.False(t, result.gotResult)
	require.Len(t, result.stdoutLines, 1)

	events := drainEvents(out)
	require.Len(t, events, 1)
	// No cancelled event when the pipes simply close.
	assert.Equal(t, "assistant", events[0]["type"])
}

func TestConsume_CancelShortCircuits(t *testing.T) {
	s := newTestSupervisor(newFakeSessions())
	run := &liveRun{queue: newMergeQueue()}
	out := make(chan string, 16)

	run.queue.push(itemStdout, `{"type":"assistant"}`)
	run.queue.push(itemCancel, "")
	run.queue.push(itemStdout, `{"type":"assistant","later":true}`)

	result := s.consume(out, run, "chat-1")
	assert.True(t, result.cancelled)

	events := drainEvents(out)
	require.Len(t, events, 2)
	assert.Equal(t, "assistant", events[0]["type"])
	assert.Equal(t, "cancelled", events[1]["type"])
}

func TestConsume_InjectedEventsPassThroughVerbatim(t *testing.T) {
	s := newTestSupervisor(newFakeSessions())
	run := &liveRun{queue: newMergeQueue()}
	out := make(chan string, 16)

	injected := `{"type":"permission_request","request_id":"req-1"}`
	run.queue.push(itemInject, injected)
	run.queue.push(itemOutEOF, "")
	run.queue.push(itemErrEOF, "")

	s.consume(out, run, "chat-1")

	close(out)
	var lines []string
	for line := range out {
		lines = append(lines, line)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, injected, lines[0])
}

func TestConsume_StderrBecomesErrorEvents(t *testing.T) {
	s := newTestSupervisor(newFakeSessions())
	run := &liveRun{queue: newMergeQueue()}
	out := make(chan string, 16)

	run.queue.push(itemStderr, "something broke")
	run.queue.push(itemOutEOF, "")
	run.queue.push(itemErrEOF, "")

	result := s.consume(out, run, "chat-1")
	require.Len(t, result.stderrLines, 1)

	events := drainEvents(out)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0]["type"])
	assert.Equal(t, "claude: something broke", events[0]["message"])
}

func TestConsume_ResultPersistsSessionID(t *testing.T) {
	store := newFakeSessions()
	s := newTestSupervisor(store)
	run := &liveRun{queue: newMergeQueue()}
	out := make(chan string, 16)

	run.queue.push(itemStdout, `{"type":"result","session_id":"sess-new"}`)
	run.queue.push(itemOutEOF, "")
	run.queue.push(itemErrEOF, "")

	result := s.consume(out, run, "chat-1")
	assert.True(t, result.gotResult)
	assert.Equal(t, "sess-new", store.sessions["chat-1"])
}

func TestConsume_ResultWithoutSessionIDDoesNotPersist(t *testing.T) {
	store := newFakeSessions()
	s := newTestSupervisor(store)
	run := &liveRun{queue: newMergeQueue()}
	out := make(chan string, 16)

	run.queue.push(itemStdout, `{"type":"result"}`)
	run.queue.push(itemOutEOF, "")
	run.queue.push(itemErrEOF, "")

	result := s.consume(out, run, "chat-1")
	assert.True(t, result.gotResult)
	assert.Empty(t, store.sessions)
}

// Cancel must be safe to call while the process is still starting: the
// command handle is published under the registry lock, so a concurrent
// cancel either sees no process yet (and reports false) or a fully
// started one.
func TestRun_CancelRacingProcessStart(t *testing.T) {
	s := New(Options{
		CLIPath:      "/bin/sh",
		GateBinary:   "approval-gate",
		GateURL:      "http://127.0.0.1:5050",
		DefaultModel: "claude-sonnet-4-6",
		CancelGrace:  100 * time.Millisecond,
	}, newFakeSessions(), newTestLogger())

	events := s.Run(context.Background(), agent.RunRequest{ChatID: "chat-race", Prompt: "hi"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			s.Cancel("chat-race")
		}
	}()

	for range events {
	}
	<-done
	assert.Zero(t, s.ActiveRuns())
}

func TestSupervisor_InjectAndCancelFailClosed(t *testing.T) {
	s := newTestSupervisor(newFakeSessions())

	assert.False(t, s.InjectEvent("ghost", map[string]string{"type": "x"}))
	assert.False(t, s.Cancel("ghost"))
	assert.False(t, s.SendToolResult("ghost", "toolu_1", "ok"))
	assert.Zero(t, s.ActiveRuns())
}
