package claudecli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables that must not leak into agent subprocesses. Their
// presence would make the CLI believe it is running inside another agent.
var stripEnvVars = map[string]struct{}{
	"CLAUDECODE":            {},
	"CLAUDE_CODE_ENTRYPOINT": {},
}

// Routing variables the gate binary reads to reach the broker.
const (
	EnvGateURL    = "APPROVAL_GATE_URL"
	EnvGateChatID = "APPROVAL_GATE_CHAT_ID"
)

// Tools the CLI may call. The gated variants are served by the approval-gate
// MCP server; the matching builtins are disallowed so every mutating call
// goes through the gate.
var (
	allowedTools = []string{
		"mcp__approval-gate__Write",
		"mcp__approval-gate__Edit",
		"mcp__approval-gate__MultiEdit",
		"mcp__approval-gate__Bash",
		"mcp__approval-gate__AskUserQuestion",
		"WebFetch",
		"WebSearch",
	}
	disallowedTools = []string{
		"Bash", "Write", "Edit", "MultiEdit", "Task", "TaskOutput",
		"EnterPlanMode", "ExitPlanMode", "AskUserQuestion",
	}
)

// CommandSpec describes one CLI invocation.
type CommandSpec struct {
	// CLIPath is the resolved claude binary.
	CLIPath string
	// GateBinary is the resolved approval-gate executable for --mcp-config.
	GateBinary string
	// Model selects --model when non-empty.
	Model string
	// SessionID selects --resume when non-empty.
	SessionID string
}

// BuildArgs returns the full argument list (excluding argv[0]) for a gated
// streaming run.
func BuildArgs(spec CommandSpec) []string {
	args := []string{
		"-p",
		"--verbose",
		"--include-partial-messages",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--dangerously-skip-permissions",
		"--allowedTools", strings.Join(allowedTools, ","),
		"--disallowedTools", strings.Join(disallowedTools, ","),
	}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.SessionID != "" {
		args = append(args, "--resume", spec.SessionID)
	}
	args = append(args, "--mcp-config", mcpConfig(spec.GateBinary))
	return args
}

// BuildCompactArgs returns the argument list for the bounded compact run
// that shrinks an oversized session.
func BuildCompactArgs(spec CommandSpec) []string {
	args := []string{"-p", "--resume", spec.SessionID}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	return append(args, "/compact")
}

// mcpConfig renders the inline --mcp-config JSON that launches the gate.
func mcpConfig(gateBinary string) string {
	cfg := map[string]any{
		"mcpServers": map[string]any{
			"approval-gate": map[string]any{
				"command": gateBinary,
				"args":    []string{},
			},
		},
	}
	data, _ := json.Marshal(cfg)
	return string(data)
}

// BuildEnv returns the subprocess environment: the caller's env minus the
// stripped variables, plus the gate routing variables.
func BuildEnv(gateURL, chatID string) []string {
	env := make([]string, 0, len(os.Environ())+2)
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if _, strip := stripEnvVars[name]; strip {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, EnvGateURL+"="+gateURL)
	env = append(env, EnvGateChatID+"="+chatID)
	return env
}

// CompactEnv returns the subprocess environment for a compact run: stripped
// but without gate routing, since /compact makes no tool calls.
func CompactEnv() []string {
	env := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if _, strip := stripEnvVars[name]; strip {
			continue
		}
		env = append(env, kv)
	}
	return env
}

// wellKnownCLIPaths are probed when the binary is not on PATH, which happens
// when the server is launched from a GUI or an auto-restart context.
func wellKnownCLIPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return []string{"/usr/local/bin/claude"}
	}
	return []string{
		filepath.Join(home, ".local", "bin", "claude"),
		"/usr/local/bin/claude",
		filepath.Join(home, ".npm-global", "bin", "claude"),
	}
}
