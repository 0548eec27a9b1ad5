// Package api is the HTTP surface for agent runs, chat history, models and
// permission rules.
package api

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent"
	"github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/gateway/ws"
	"github.com/agentdeck/agentdeck/internal/history"
	"github.com/agentdeck/agentdeck/internal/permission"
	"github.com/agentdeck/agentdeck/pkg/claudecli"
)

// Streamer is the provider surface the handlers drive: runs plus the
// mid-run channels only the concrete supervisor has.
type Streamer interface {
	agent.Provider
	SendToolResult(chatID, toolUseID, content string) bool
	ActiveRuns() int
}

// WorkspaceRegistrar persists the workspace folder a run is pinned to.
type WorkspaceRegistrar interface {
	SetWorkspace(chatID, path string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handlers serves the agent API.
type Handlers struct {
	provider    Streamer
	workspaces  WorkspaceRegistrar
	rules       *permission.Store
	transcripts *history.Store
	hub         *ws.Hub
	logger      *logger.Logger
}

// NewHandlers creates the agent API handlers.
func NewHandlers(provider Streamer, workspaces WorkspaceRegistrar, rules *permission.Store, transcripts *history.Store, hub *ws.Hub, log *logger.Logger) *Handlers {
	return &Handlers{
		provider:    provider,
		workspaces:  workspaces,
		rules:       rules,
		transcripts: transcripts,
		hub:         hub,
		logger:      log.WithFields(zap.String("component", "agent-api")),
	}
}

// httpRun starts a run and streams its events as SSE until the run ends.
func (h *Handlers) httpRun(c *gin.Context) {
	var body RunBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errors.BadRequest("invalid payload: " + err.Error()))
		return
	}

	chatID := body.ChatID
	if chatID == "" {
		chatID = h.provider.CreateChat()
	}
	if body.Workspace != "" && h.workspaces != nil {
		h.workspaces.SetWorkspace(chatID, body.Workspace)
	}

	if h.transcripts != nil {
		if err := h.transcripts.Append(c.Request.Context(), chatID, "user", body.Prompt); err != nil {
			h.logger.Warn("failed to record prompt", zap.Error(err))
		}
	}

	events := h.provider.Run(c.Request.Context(), agent.RunRequest{
		ChatID:    chatID,
		Prompt:    body.Prompt,
		Workspace: body.Workspace,
		Model:     body.Model,
		Images:    body.Images,
	})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Chat-ID", chatID)

	c.Stream(func(w io.Writer) bool {
		line, ok := <-events
		if !ok {
			c.SSEvent("done", gin.H{"chat_id": chatID})
			return false
		}

		h.hub.Broadcast(chatID, []byte(line))
		h.recordResult(c, chatID, line)

		c.SSEvent("message", line)
		return true
	})
}

// recordResult appends the terminal result text to the transcript.
func (h *Handlers) recordResult(c *gin.Context, chatID, line string) {
	if h.transcripts == nil {
		return
	}
	e, ok := claudecli.ParseEvent(line)
	if !ok || e.Type != claudecli.EventTypeResult {
		return
	}
	text := e.ResultText()
	if text == "" {
		return
	}
	if err := h.transcripts.Append(c.Request.Context(), chatID, "assistant", text); err != nil {
		h.logger.Warn("failed to record result", zap.Error(err))
	}
}

func (h *Handlers) httpCancel(c *gin.Context) {
	var body CancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errors.BadRequest("invalid payload: " + err.Error()))
		return
	}
	if !h.provider.Cancel(body.ChatID) {
		c.Error(errors.RunNotActive(body.ChatID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpToolResult(c *gin.Context) {
	var body ToolResultBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errors.BadRequest("invalid payload: " + err.Error()))
		return
	}
	if !h.provider.SendToolResult(body.ChatID, body.ToolUseID, body.Content) {
		c.Error(errors.RunNotActive(body.ChatID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpListModels(c *gin.Context) {
	models, def := h.provider.ListModels()
	c.JSON(http.StatusOK, ModelsResponse{Models: models, Default: def})
}

func (h *Handlers) httpCreateChat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chat_id": h.provider.CreateChat()})
}

func (h *Handlers) httpOpenTarget(c *gin.Context) {
	var body OpenBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errors.BadRequest("invalid payload: " + err.Error()))
		return
	}
	if err := h.provider.OpenTarget(c.Request.Context(), body.Target); err != nil {
		c.Error(errors.Internal("failed to open target", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpListChats(c *gin.Context) {
	chats, err := h.transcripts.List(c.Request.Context())
	if err != nil {
		c.Error(errors.Internal("failed to list chats", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handlers) httpLoadChat(c *gin.Context) {
	messages, err := h.transcripts.Load(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		if stderrors.Is(err, history.ErrInvalidChatID) {
			c.Error(errors.InvalidChatID(c.Param("chatId")))
			return
		}
		c.Error(errors.Internal("failed to load chat", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": c.Param("chatId"), "messages": messages})
}

func (h *Handlers) httpDeleteChat(c *gin.Context) {
	existed, err := h.transcripts.Delete(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		if stderrors.Is(err, history.ErrInvalidChatID) {
			c.Error(errors.InvalidChatID(c.Param("chatId")))
			return
		}
		c.Error(errors.Internal("failed to delete chat", err))
		return
	}
	if !existed {
		c.Error(errors.NotFound("chat", c.Param("chatId")))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpSearchChats(c *gin.Context) {
	results, err := h.transcripts.Search(c.Request.Context(), c.Query("q"), 20)
	if err != nil {
		c.Error(errors.Internal("failed to search chats", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handlers) httpListRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.rules.List()})
}

func (h *Handlers) httpAddRule(c *gin.Context) {
	var body AddRuleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Error(errors.BadRequest("invalid payload: " + err.Error()))
		return
	}
	rule, err := h.rules.Add(body.Tool, body.MatchType, body.Pattern, body.Action)
	if err != nil {
		c.Error(errors.BadRequest(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

func (h *Handlers) httpRemoveRule(c *gin.Context) {
	if err := h.rules.Remove(c.Param("ruleId")); err != nil {
		if stderrors.Is(err, permission.ErrRuleNotFound) {
			c.Error(errors.NotFound("rule", c.Param("ruleId")))
			return
		}
		c.Error(errors.Internal("failed to remove rule", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// httpWebSocket upgrades the connection and attaches it to the hub.
func (h *Handlers) httpWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(uuid.NewString(), conn, h.hub, h.logger)
	h.hub.Register(client)
	if chatID := c.Query("chat_id"); chatID != "" {
		client.Subscribe(chatID)
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *Handlers) httpStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"active_runs": h.provider.ActiveRuns(),
		"ws_clients":  h.hub.ClientCount(),
	})
}
