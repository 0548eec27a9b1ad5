package approval

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Handlers provides the HTTP surface for the approval broker. The gate
// binary running inside the agent process is the main client; the frontend
// calls decide/answer.
type Handlers struct {
	broker *Broker
	logger *logger.Logger
}

// NewHandlers creates new approval handlers.
func NewHandlers(broker *Broker, log *logger.Logger) *Handlers {
	return &Handlers{
		broker: broker,
		logger: log.WithFields(zap.String("component", "approval-handlers")),
	}
}

// RegisterRoutes registers the approval HTTP routes.
func RegisterRoutes(router *gin.Engine, broker *Broker, log *logger.Logger) {
	h := NewHandlers(broker, log)
	api := router.Group("/api/approval")
	api.POST("/request", h.httpCreateRequest)
	api.GET("/wait/:requestId", h.httpWait)
	api.POST("/decide", h.httpDecide)
	api.POST("/question", h.httpCreateQuestion)
	api.POST("/answer", h.httpAnswer)
}

func (h *Handlers) httpCreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	auto, err := h.broker.Register(Request{
		RequestID: body.RequestID,
		ChatID:    body.ChatID,
		Tool:      body.Tool,
		Input:     body.Input,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, CreateRequestResponse{Status: "pending", AutoDecision: auto})
}

func (h *Handlers) httpWait(c *gin.Context) {
	requestID := c.Param("requestId")

	decision, err := h.broker.Wait(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, WaitResponse{Decision: decision})
}

func (h *Handlers) httpDecide(c *gin.Context) {
	var body DecideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	if err := h.broker.Decide(body.RequestID, body.Decision); err != nil {
		switch {
		case errors.Is(err, ErrInvalidDecision):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, ErrAlreadyDecided):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpCreateQuestion(c *gin.Context) {
	var body CreateQuestionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	h.broker.RegisterQuestion(Question{
		RequestID: body.RequestID,
		ChatID:    body.ChatID,
		Questions: body.Questions,
	})

	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}

func (h *Handlers) httpAnswer(c *gin.Context) {
	var body AnswerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	if err := h.broker.Answer(body.RequestID, body.Answer); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, ErrAlreadyDecided):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
