// approval-gate is the MCP stdio server the agent CLI spawns for gated
// tools. It forwards Write, Edit, MultiEdit and Bash calls to the broker
// for user approval, executes approved calls locally, and relays
// AskUserQuestion straight to the user.
//
// Routing comes from the environment set by the supervisor:
//
//	APPROVAL_GATE_URL      broker base URL (default http://127.0.0.1:5050)
//	APPROVAL_GATE_CHAT_ID  chat id approval requests are routed to
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/gate"
	"github.com/agentdeck/agentdeck/pkg/claudecli"
)

func main() {
	// Stdout belongs to the MCP transport; logs go to stderr.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      getenv("AGENTDECK_LOG_LEVEL", "info"),
		Format:     "json",
		OutputPath: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "approval-gate: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("approval-gate starting",
		zap.String("chat_id", os.Getenv(claudecli.EnvGateChatID)),
		zap.String("broker", os.Getenv(claudecli.EnvGateURL)))

	mcpServer := server.NewMCPServer(
		"approval-gate",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	client := gate.NewClientFromEnv(log)
	gate.RegisterTools(mcpServer, client, log)

	if err := server.ServeStdio(mcpServer); err != nil {
		log.Error("stdio server exited", zap.Error(err))
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
