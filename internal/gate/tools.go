package gate

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// deniedResult is what the model sees when the user declines a tool call.
const deniedResult = "[Tool use denied by user]"

// RegisterTools wires the gated tools onto an MCP server. Write, Edit,
// MultiEdit and Bash go through the approval round-trip before executing;
// AskUserQuestion forwards to the user directly with no approval step.
func RegisterTools(s *server.MCPServer, client *Client, log *logger.Logger) {
	log = log.WithFields(zap.String("component", "gate-tools"))

	s.AddTool(
		mcp.NewTool("AskUserQuestion",
			mcp.WithDescription("Ask the user a question with optional choices. "+
				"The question is shown in the frontend UI and the user can "+
				"click an option or type a custom answer."),
			mcp.WithArray("questions",
				mcp.Required(),
				mcp.Description("Questions to ask, each with question, header, options and multiSelect"),
			),
		),
		askUserQuestionHandler(client, log),
	)

	s.AddTool(
		mcp.NewTool("Write",
			mcp.WithDescription("Write content to a file. Creates the file if it does not exist, "+
				"or overwrites it. Requires frontend approval before executing."),
			mcp.WithString("file_path", mcp.Required(), mcp.Description("Path to the file")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Content to write")),
		),
		writeHandler(client, log),
	)

	s.AddTool(
		mcp.NewTool("Edit",
			mcp.WithDescription("Replace one exact string in a file with new text. "+
				"Requires frontend approval before executing."),
			mcp.WithString("file_path", mcp.Required()),
			mcp.WithString("old_string", mcp.Required(), mcp.Description("Exact text to find")),
			mcp.WithString("new_string", mcp.Required(), mcp.Description("Replacement text")),
		),
		editHandler(client, log),
	)

	s.AddTool(
		mcp.NewTool("MultiEdit",
			mcp.WithDescription("Apply multiple find-and-replace edits to a file atomically. "+
				"Requires frontend approval before executing."),
			mcp.WithString("file_path", mcp.Required()),
			mcp.WithArray("edits",
				mcp.Required(),
				mcp.Description("Edits to apply in order, each with old_string and new_string"),
			),
		),
		multiEditHandler(client, log),
	)

	s.AddTool(
		mcp.NewTool("Bash",
			mcp.WithDescription("Execute a shell command in the workspace. "+
				"Requires frontend approval before executing."),
			mcp.WithString("command", mcp.Required(), mcp.Description("Shell command to run")),
			mcp.WithString("description", mcp.Description("Human-readable description")),
			mcp.WithNumber("timeout", mcp.Description("Timeout in milliseconds")),
		),
		bashHandler(client, log),
	)

	log.Info("registered gated tools", zap.Int("count", 5))
}

func askUserQuestionHandler(client *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		questions, _ := args["questions"].([]any)
		log.Info("forwarding user question", zap.Int("questions", len(questions)))
		answer := client.AskUser(questions)
		return mcp.NewToolResultText(answer), nil
	}
}

func writeHandler(client *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := req.RequireString("file_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if decision := client.RequestApproval("Write", req.GetArguments()); decision != "allow" {
			log.Info("write denied", zap.String("file_path", filePath))
			return mcp.NewToolResultError(deniedResult), nil
		}

		result, err := ExecWrite(filePath, content)
		if err != nil {
			return mcp.NewToolResultError("Error: " + err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}

func editHandler(client *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := req.RequireString("file_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		oldString, err := req.RequireString("old_string")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		newString, err := req.RequireString("new_string")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if decision := client.RequestApproval("Edit", req.GetArguments()); decision != "allow" {
			log.Info("edit denied", zap.String("file_path", filePath))
			return mcp.NewToolResultError(deniedResult), nil
		}

		result, err := ExecEdit(filePath, oldString, newString)
		if err != nil {
			return mcp.NewToolResultError("Error: " + err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}

func multiEditHandler(client *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filePath, err := req.RequireString("file_path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rawEdits, _ := req.GetArguments()["edits"].([]any)
		edits := make([]TextEdit, 0, len(rawEdits))
		for _, raw := range rawEdits {
			m, ok := raw.(map[string]any)
			if !ok {
				return mcp.NewToolResultError("each edit must have old_string and new_string"), nil
			}
			oldString, _ := m["old_string"].(string)
			newString, _ := m["new_string"].(string)
			edits = append(edits, TextEdit{OldString: oldString, NewString: newString})
		}

		if decision := client.RequestApproval("MultiEdit", req.GetArguments()); decision != "allow" {
			log.Info("multiedit denied", zap.String("file_path", filePath))
			return mcp.NewToolResultError(deniedResult), nil
		}

		result, err := ExecMultiEdit(filePath, edits)
		if err != nil {
			return mcp.NewToolResultError("Error: " + err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}

func bashHandler(client *Client, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		timeoutMS := req.GetFloat("timeout", 0)

		if decision := client.RequestApproval("Bash", req.GetArguments()); decision != "allow" {
			log.Info("bash denied", zap.String("command", command))
			return mcp.NewToolResultError(deniedResult), nil
		}

		result, err := ExecBash(ctx, command, timeoutMS)
		if err != nil {
			return mcp.NewToolResultError("Error: " + err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	}
}
