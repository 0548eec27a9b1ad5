package supervisor

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent"
	"github.com/agentdeck/agentdeck/pkg/claudecli"
)

// Output signatures that mean the resumed conversation no longer fits the
// model's context window.
var promptTooLongPatterns = []string{
	"prompt is too long",
	"prompt_too_long",
	"context window",
	"maximum context length",
}

// needsRecovery reports whether a finished run should enter the
// compact-or-reset path: it produced no result, it was not itself a retry,
// and its output carries a context-overflow signature against an active
// session.
func needsRecovery(result outcome, isRetry bool, chatID, sessionID string) bool {
	if result.gotResult || result.cancelled || result.spawnFailed || isRetry {
		return false
	}
	if chatID == "" || sessionID == "" {
		return false
	}
	all := strings.ToLower(strings.Join(append(result.stdoutLines, result.stderrLines...), "\n"))
	for _, p := range promptTooLongPatterns {
		if strings.Contains(all, p) {
			return true
		}
	}
	return false
}

// runWithRecovery executes the run and, on a context-overflow failure,
// makes exactly one more attempt: first compacting the session in place and
// resuming it, or, if the compact fails, dropping the session and starting
// fresh. The retry never recurses.
func (s *Supervisor) runWithRecovery(ctx context.Context, out chan<- string, run *liveRun, req agent.RunRequest, originalPrompt string) {
	sessionID := s.store.Resolve(req.ChatID)
	result := s.execute(out, run, req, sessionID)

	if result.cancelled {
		s.mu.Lock()
		s.cancelledPrompts[req.ChatID] = originalPrompt
		s.mu.Unlock()
		return
	}

	if needsRecovery(result, false, req.ChatID, sessionID) {
		out <- typedEvent("session_compacting", "Conversation too large, compacting session...")

		if s.compactSession(ctx, sessionID, req.Workspace, req.Model) {
			s.logger.Info("session compacted, retrying resume",
				zap.String("session_id", sessionID))
			out <- typedEvent("session_compacted", "Session compacted successfully. Retrying...")
			result = s.execute(out, run, req, s.store.Resolve(req.ChatID))
		} else {
			s.logger.Warn("compact failed, starting fresh",
				zap.String("session_id", sessionID))
			s.store.DropSession(req.ChatID)
			out <- typedEvent("session_reset", "Could not compact session. Starting a fresh conversation...")
			result = s.execute(out, run, req, "")
		}

		if result.cancelled {
			s.mu.Lock()
			s.cancelledPrompts[req.ChatID] = originalPrompt
			s.mu.Unlock()
			return
		}
	}

	if !result.gotResult && !result.spawnFailed && len(result.stdoutLines) == 0 {
		msg := "claude exited with no stdout. stderr: " + strings.Join(result.stderrLines, "\n")
		if len(result.stderrLines) == 0 {
			msg = "claude exited with no stdout. stderr: (empty)"
		}
		s.logger.Error("run produced no output", zap.String("chat_id", req.ChatID))
		out <- typedEvent("error", msg)
	}
}

// compactSession runs `claude -p --resume <id> /compact` under a bounded
// timeout and reports whether it exited cleanly.
func (s *Supervisor) compactSession(ctx context.Context, sessionID, workspace, model string) bool {
	args := claudecli.BuildCompactArgs(claudecli.CommandSpec{SessionID: sessionID, Model: model})

	cctx, cancel := context.WithTimeout(ctx, s.opts.CompactTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.opts.CLIPath, args...)
	cmd.Env = claudecli.CompactEnv()
	if workspace != "" {
		cmd.Dir = workspace
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Info("compacting session", zap.String("session_id", sessionID))
	err := cmd.Run()
	s.logger.Info("compact finished",
		zap.Error(err),
		zap.Int("stdout_bytes", stdout.Len()),
		zap.Int("stderr_bytes", stderr.Len()))
	return err == nil
}
