package api

import "github.com/agentdeck/agentdeck/internal/agent"

// RunBody starts an agent run for a chat.
type RunBody struct {
	ChatID    string                  `json:"chat_id"`
	Prompt    string                  `json:"prompt" binding:"required"`
	Workspace string                  `json:"workspace_folder"`
	Model     string                  `json:"model"`
	Images    []agent.ImageAttachment `json:"images"`
}

// CancelBody cancels the live run for a chat.
type CancelBody struct {
	ChatID string `json:"chat_id" binding:"required"`
}

// ToolResultBody answers a pending tool_use block mid-run.
type ToolResultBody struct {
	ChatID    string `json:"chat_id" binding:"required"`
	ToolUseID string `json:"tool_use_id" binding:"required"`
	Content   string `json:"content"`
}

// OpenBody opens a file or URL on the host.
type OpenBody struct {
	Target string `json:"target" binding:"required"`
}

// AddRuleBody creates a permission rule.
type AddRuleBody struct {
	Tool      string `json:"tool" binding:"required"`
	MatchType string `json:"match_type" binding:"required"`
	Pattern   string `json:"pattern" binding:"required"`
	Action    string `json:"action" binding:"required"`
}

// ModelsResponse lists the model catalogue.
type ModelsResponse struct {
	Models  []agent.Model `json:"models"`
	Default string        `json:"default"`
}
