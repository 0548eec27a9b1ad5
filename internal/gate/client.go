// Package gate implements the agent-side approval gate: an MCP tool server
// that forwards gated tool calls to the broker over HTTP, blocks on the
// user's decision, and executes approved calls locally.
package gate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/claudecli"
)

const (
	defaultBrokerURL = "http://127.0.0.1:5050"
	registerTimeout  = 10 * time.Second
	// waitTimeout covers the broker's 5-minute user window plus buffer.
	waitTimeout = 310 * time.Second
)

// Client talks to the broker's approval endpoints. Every transport failure
// resolves to deny: a gate that cannot reach the broker must not execute.
type Client struct {
	baseURL  string
	chatID   string
	register *http.Client
	wait     *http.Client
	logger   *logger.Logger
}

// NewClient creates a broker client.
func NewClient(baseURL, chatID string, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBrokerURL
	}
	return &Client{
		baseURL:  baseURL,
		chatID:   chatID,
		register: &http.Client{Timeout: registerTimeout},
		wait:     &http.Client{Timeout: waitTimeout},
		logger:   log.WithFields(zap.String("component", "gate-client")),
	}
}

// NewClientFromEnv creates a client from the routing variables the
// supervisor sets on the agent subprocess.
func NewClientFromEnv(log *logger.Logger) *Client {
	return NewClient(
		os.Getenv(claudecli.EnvGateURL),
		os.Getenv(claudecli.EnvGateChatID),
		log,
	)
}

// RequestApproval registers a gated tool call and blocks until the user
// decides. Returns "allow" or "deny"; never an error.
func (c *Client) RequestApproval(tool string, input map[string]any) string {
	requestID := uuid.NewString()

	payload := map[string]any{
		"chat_id":    c.chatID,
		"request_id": requestID,
		"tool":       tool,
		"input":      input,
	}
	if err := c.post("/api/approval/request", payload); err != nil {
		c.logger.Warn("could not reach broker, denying", zap.Error(err))
		return "deny"
	}

	decision, err := c.waitFor(requestID)
	if err != nil {
		c.logger.Warn("approval wait failed, denying", zap.Error(err))
		return "deny"
	}
	return decision
}

// AskUser registers a free-form question and blocks until the user answers.
// Transport failures return a JSON error payload the model can read.
func (c *Client) AskUser(questions []any) string {
	requestID := uuid.NewString()

	payload := map[string]any{
		"chat_id":    c.chatID,
		"request_id": requestID,
		"questions":  questions,
	}
	if err := c.post("/api/approval/question", payload); err != nil {
		c.logger.Warn("could not reach broker for question", zap.Error(err))
		return errorJSON(err)
	}

	answer, err := c.waitFor(requestID)
	if err != nil {
		c.logger.Warn("question wait failed", zap.Error(err))
		return errorJSON(err)
	}
	return answer
}

func (c *Client) post(path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.register.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) waitFor(requestID string) (string, error) {
	resp, err := c.wait.Get(c.baseURL + "/api/approval/wait/" + requestID)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("broker returned %d", resp.StatusCode)
	}
	var body struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Decision == "" {
		return "deny", nil
	}
	return body.Decision, nil
}

func errorJSON(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
