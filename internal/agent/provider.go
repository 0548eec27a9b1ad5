// Package agent defines the provider boundary between the HTTP layer and
// the concrete agent backend.
package agent

import "context"

// Model describes one selectable agent model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	IsCurrent bool   `json:"is_current"`
}

// RunRequest carries everything needed to start one agent run.
type RunRequest struct {
	ChatID    string
	Prompt    string
	Workspace string
	Model     string
	Images    []ImageAttachment
}

// ImageAttachment is an inline image supplied with a prompt. Data may carry
// a data-URL prefix.
type ImageAttachment struct {
	MediaType string `json:"type"`
	Data      string `json:"data"`
}

// Provider is the backend the HTTP layer drives. Run never returns an
// error: all failures surface as error events on the returned channel,
// which is closed when the run finishes.
type Provider interface {
	// OpenTarget opens a file or URL on the host.
	OpenTarget(ctx context.Context, target string) error
	// CreateChat allocates a new chat id.
	CreateChat() string
	// ListModels returns the model catalogue and the default model id.
	ListModels() ([]Model, string)
	// Run starts an agent run and streams its events.
	Run(ctx context.Context, req RunRequest) <-chan string
	// Cancel terminates the live run for a chat, if any.
	Cancel(chatID string) bool
}

// Models available through the claude backend. Sonnet is the default.
var claudeModels = []Model{
	{ID: "claude-opus-4-6", Name: "Claude Opus 4.6"},
	{ID: "claude-sonnet-4-6", Name: "Claude Sonnet 4.6", IsDefault: true, IsCurrent: true},
	{ID: "claude-haiku-4-5-20251001", Name: "Claude Haiku 4.5"},
}

// DefaultModel is the model used when a run names none.
const DefaultModel = "claude-sonnet-4-6"

// ClaudeModels returns the fixed model catalogue.
func ClaudeModels() []Model {
	out := make([]Model, len(claudeModels))
	copy(out, claudeModels)
	return out
}
