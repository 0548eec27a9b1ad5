package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/agent"
	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/gateway/ws"
	"github.com/agentdeck/agentdeck/internal/history"
	"github.com/agentdeck/agentdeck/internal/permission"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}

type fakeProvider struct {
	events     []string
	lastRun    agent.RunRequest
	cancelled  []string
	cancelOK   bool
	toolOK     bool
	toolCalls  int
	activeRuns int
}

func (f *fakeProvider) OpenTarget(ctx context.Context, target string) error { return nil }
func (f *fakeProvider) CreateChat() string                                  { return "chat-new" }
func (f *fakeProvider) ListModels() ([]agent.Model, string) {
	return agent.ClaudeModels(), agent.DefaultModel
}
func (f *fakeProvider) Run(ctx context.Context, req agent.RunRequest) <-chan string {
	f.lastRun = req
	out := make(chan string, len(f.events))
	for _, e := range f.events {
		out <- e
	}
	close(out)
	return out
}
func (f *fakeProvider) Cancel(chatID string) bool {
	f.cancelled = append(f.cancelled, chatID)
	return f.cancelOK
}
func (f *fakeProvider) SendToolResult(chatID, toolUseID, content string) bool {
	f.toolCalls++
	return f.toolOK
}
func (f *fakeProvider) ActiveRuns() int { return f.activeRuns }

type fixture struct {
	router      *gin.Engine
	provider    *fakeProvider
	transcripts *history.Store
	rules       *permission.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := newTestLogger()

	dir := t.TempDir()
	transcripts, err := history.NewStore(filepath.Join(dir, "history.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { transcripts.Close() })

	rules := permission.NewStore(filepath.Join(dir, "rules.json"), log)
	provider := &fakeProvider{cancelOK: true, toolOK: true}
	hub := ws.NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	router := gin.New()
	router.Use(ErrorHandler(log))
	RegisterRoutes(router, provider, nil, rules, transcripts, hub, log)
	return &fixture{router: router, provider: provider, transcripts: transcripts, rules: rules}
}

// closeNotifyRecorder adds the http.CloseNotifier method gin's Stream
// requires, which httptest.ResponseRecorder does not implement.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func (f *fixture) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(&closeNotifyRecorder{w}, req)
	return w
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRun_StreamsEventsAndRecordsTranscript(t *testing.T) {
	f := newFixture(t)
	f.provider.events = []string{
		`{"type":"assistant"}`,
		`{"type":"result","session_id":"sess-1","result":"all done"}`,
	}

	w := f.postJSON(t, "/api/agent/run", gin.H{
		"chat_id": "chat-1",
		"prompt":  "do the thing",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "chat-1", w.Header().Get("X-Chat-ID"))

	body := w.Body.String()
	assert.Contains(t, body, `{"type":"assistant"}`)
	assert.Contains(t, body, "all done")
	assert.Contains(t, body, "event:done")

	messages, err := f.transcripts.Load(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "do the thing", messages[0].Content)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "all done", messages[1].Content)
}

func TestRun_AllocatesChatIDWhenMissing(t *testing.T) {
	f := newFixture(t)
	w := f.postJSON(t, "/api/agent/run", gin.H{"prompt": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "chat-new", w.Header().Get("X-Chat-ID"))
	assert.Equal(t, "chat-new", f.provider.lastRun.ChatID)
}

func TestRun_RequiresPrompt(t *testing.T) {
	f := newFixture(t)
	w := f.postJSON(t, "/api/agent/run", gin.H{"chat_id": "chat-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON(t, "/api/agent/cancel", gin.H{"chat_id": "chat-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"chat-1"}, f.provider.cancelled)

	f.provider.cancelOK = false
	w = f.postJSON(t, "/api/agent/cancel", gin.H{"chat_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), errors.ErrCodeRunNotActive)
}

func TestToolResult(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON(t, "/api/agent/tool-result", gin.H{
		"chat_id":     "chat-1",
		"tool_use_id": "toolu_1",
		"content":     "answer",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.provider.toolCalls)

	f.provider.toolOK = false
	w = f.postJSON(t, "/api/agent/tool-result", gin.H{
		"chat_id":     "ghost",
		"tool_use_id": "toolu_2",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListModels(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/api/models")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, agent.DefaultModel, resp.Default)
	assert.Len(t, resp.Models, 3)
}

func TestRulesCRUD(t *testing.T) {
	f := newFixture(t)

	w := f.postJSON(t, "/api/permissions/rules", gin.H{
		"tool":       "Bash",
		"match_type": "prefix",
		"pattern":    "make",
		"action":     "allow",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var created struct {
		Rule permission.Rule `json:"rule"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Rule.ID)

	w = f.get(t, "/api/permissions/rules")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.Rule.ID)

	req := httptest.NewRequest(http.MethodDelete, "/api/permissions/rules/"+created.Rule.ID, nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/permissions/rules/ghost", nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRules_InvalidBodyRejected(t *testing.T) {
	f := newFixture(t)
	w := f.postJSON(t, "/api/permissions/rules", gin.H{
		"tool":       "Bash",
		"match_type": "regex",
		"pattern":    ".*",
		"action":     "allow",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChats_LoadDeleteSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.transcripts.Append(ctx, "chat-1", "user", "find the websocket bug"))

	w := f.get(t, "/api/chats/chat-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "websocket bug")

	w = f.get(t, "/api/chats/search?q=websocket")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chat-1")

	req := httptest.NewRequest(http.MethodDelete, "/api/chats/chat-1", nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/chats/chat-1", nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.get(t, "/api/chats/..%2Fetc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), errors.ErrCodeInvalidChatID)
}

// Errors pushed onto the gin context come back as the structured envelope
// the middleware renders, not an ad-hoc body.
func TestErrorEnvelope(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/chats/ghost", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrCodeNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "ghost")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.provider.activeRuns = 2

	w := f.get(t, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["active_runs"])
}
