package api

import (
	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/gateway/ws"
	"github.com/agentdeck/agentdeck/internal/history"
	"github.com/agentdeck/agentdeck/internal/permission"
)

// RegisterRoutes wires the agent API onto the router.
func RegisterRoutes(
	router *gin.Engine,
	provider Streamer,
	workspaces WorkspaceRegistrar,
	rules *permission.Store,
	transcripts *history.Store,
	hub *ws.Hub,
	log *logger.Logger,
) {
	h := NewHandlers(provider, workspaces, rules, transcripts, hub, log)

	api := router.Group("/api")
	{
		agentGroup := api.Group("/agent")
		{
			agentGroup.POST("/run", h.httpRun)
			agentGroup.POST("/cancel", h.httpCancel)
			agentGroup.POST("/tool-result", h.httpToolResult)
		}

		api.GET("/models", h.httpListModels)
		api.GET("/status", h.httpStatus)
		api.POST("/open", h.httpOpenTarget)

		chats := api.Group("/chats")
		{
			chats.POST("", h.httpCreateChat)
			chats.GET("", h.httpListChats)
			chats.GET("/search", h.httpSearchChats)
			chats.GET("/:chatId", h.httpLoadChat)
			chats.DELETE("/:chatId", h.httpDeleteChat)
		}

		rulesGroup := api.Group("/permissions/rules")
		{
			rulesGroup.GET("", h.httpListRules)
			rulesGroup.POST("", h.httpAddRule)
			rulesGroup.DELETE("/:ruleId", h.httpRemoveRule)
		}
	}

	router.GET("/ws", h.httpWebSocket)
}
