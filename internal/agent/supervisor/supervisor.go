package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/internal/agent"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/pkg/claudecli"
)

// scannerBuffer caps one stdout line; stream-json lines carrying inline
// images can run to several megabytes.
const scannerBuffer = 16 * 1024 * 1024

// SessionStore is the continuation state the supervisor reads and writes.
type SessionStore interface {
	Resolve(chatID string) string
	SetSession(chatID, sessionID string)
	DropSession(chatID string)
}

// Options configures a Supervisor.
type Options struct {
	// CLIPath is the claude binary name or path; resolved at construction.
	CLIPath string
	// GateBinary is the approval-gate executable; resolved at construction.
	GateBinary string
	// GateURL is the broker base URL passed to the gate via env.
	GateURL string
	// DefaultModel is used when a run names no model.
	DefaultModel string
	// CompactTimeout bounds the session-compacting subprocess.
	CompactTimeout time.Duration
	// CancelGrace is how long a terminated process gets before SIGKILL.
	CancelGrace time.Duration
}

// liveRun is the registration for one running chat: the merge queue the
// consumer drains, the stdin pipe for mid-run tool results, and the process
// for cancellation.
type liveRun struct {
	queue *mergeQueue
	// cmd is published under the supervisor mutex once the process has
	// started; Cancel reads it under the same lock.
	cmd *exec.Cmd

	stdinMu     sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool
}

func (r *liveRun) writeStdin(line string) error {
	r.stdinMu.Lock()
	defer r.stdinMu.Unlock()
	if r.stdin == nil || r.stdinClosed {
		return fmt.Errorf("stdin not open")
	}
	_, err := io.WriteString(r.stdin, line+"\n")
	return err
}

func (r *liveRun) closeStdin() {
	r.stdinMu.Lock()
	defer r.stdinMu.Unlock()
	if r.stdin != nil && !r.stdinClosed {
		r.stdin.Close()
		r.stdinClosed = true
	}
}

// Supervisor implements agent.Provider on top of the claude CLI. One run
// per chat id may be live at a time; a second Run for an active chat fails
// with a single error event instead of racing the first.
type Supervisor struct {
	opts   Options
	store  SessionStore
	logger *logger.Logger

	mu   sync.Mutex
	runs map[string]*liveRun
	// cancelledPrompts remembers the prompt of a cancelled run so the next
	// run for that chat can restate the lost context.
	cancelledPrompts map[string]string
}

// New creates a supervisor. Binary paths are resolved once up front.
func New(opts Options, store SessionStore, log *logger.Logger) *Supervisor {
	opts.CLIPath = claudecli.ResolveCLI(opts.CLIPath)
	opts.GateBinary = claudecli.ResolveGateBinary(opts.GateBinary)
	if opts.CompactTimeout <= 0 {
		opts.CompactTimeout = 2 * time.Minute
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 3 * time.Second
	}
	return &Supervisor{
		opts:             opts,
		store:            store,
		logger:           log.WithFields(zap.String("component", "supervisor")),
		runs:             make(map[string]*liveRun),
		cancelledPrompts: make(map[string]string),
	}
}

var _ agent.Provider = (*Supervisor)(nil)

// CreateChat allocates a fresh chat id.
func (s *Supervisor) CreateChat() string {
	return uuid.NewString()
}

// ListModels returns the fixed model catalogue and the default model.
func (s *Supervisor) ListModels() ([]agent.Model, string) {
	return agent.ClaudeModels(), agent.DefaultModel
}

// OpenTarget opens a file or URL with the host's opener.
func (s *Supervisor) OpenTarget(ctx context.Context, target string) error {
	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	return exec.CommandContext(ctx, opener, target).Start()
}

// ActiveRuns returns the number of live runs.
func (s *Supervisor) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// InjectEvent pushes a synthetic event into the live stream for a chat.
// Returns false when the chat has no live run.
func (s *Supervisor) InjectEvent(chatID string, event any) bool {
	s.mu.Lock()
	run, ok := s.runs[chatID]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("inject with no live run", zap.String("chat_id", chatID))
		return false
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal injected event", zap.Error(err))
		return false
	}
	run.queue.push(itemInject, string(data))
	return true
}

// SendToolResult writes a correlated tool_result back to the agent's stdin
// mid-run. Returns false when the chat has no live run or the pipe is gone.
func (s *Supervisor) SendToolResult(chatID, toolUseID, content string) bool {
	s.mu.Lock()
	run, ok := s.runs[chatID]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("tool result with no live run", zap.String("chat_id", chatID))
		return false
	}
	data, err := json.Marshal(claudecli.NewToolResultMessage(toolUseID, content))
	if err != nil {
		return false
	}
	if err := run.writeStdin(string(data)); err != nil {
		s.logger.Warn("tool result stdin write failed",
			zap.String("chat_id", chatID), zap.Error(err))
		return false
	}
	return true
}

// Cancel terminates the live run for a chat. The process gets SIGTERM and a
// cancel sentinel is pushed so the stream yields one cancelled event and
// stops. Returns false when nothing is running.
func (s *Supervisor) Cancel(chatID string) bool {
	s.mu.Lock()
	run, ok := s.runs[chatID]
	var proc *os.Process
	if ok && run.cmd != nil {
		proc = run.cmd.Process
	}
	s.mu.Unlock()
	if proc == nil {
		s.logger.Warn("cancel with no live run", zap.String("chat_id", chatID))
		return false
	}

	s.logger.Info("cancelling run",
		zap.String("chat_id", chatID),
		zap.Int("pid", proc.Pid))
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("SIGTERM failed", zap.Error(err))
	}
	run.queue.push(itemCancel, "")
	return true
}

// Run starts an agent run and streams its events. The channel carries raw
// stream-json lines and synthetic typed events, and is closed when the run
// finishes. Run itself never fails; every failure is an error event.
func (s *Supervisor) Run(ctx context.Context, req agent.RunRequest) <-chan string {
	out := make(chan string, 64)

	if req.Model == "" {
		req.Model = s.opts.DefaultModel
	}

	// Reserve the chat id before spawning so two concurrent runs cannot
	// both start.
	s.mu.Lock()
	if _, exists := s.runs[req.ChatID]; exists {
		s.mu.Unlock()
		go func() {
			defer close(out)
			out <- typedEvent("error", "A run is already in progress for this chat.")
		}()
		return out
	}
	run := &liveRun{queue: newMergeQueue()}
	s.runs[req.ChatID] = run
	s.mu.Unlock()

	// Restate context lost to a previous cancellation.
	originalPrompt := req.Prompt
	s.mu.Lock()
	if prev, ok := s.cancelledPrompts[req.ChatID]; ok && prev != "" {
		delete(s.cancelledPrompts, req.ChatID)
		req.Prompt = "[Context: the user's previous request was cancelled before you could finish. " +
			"Their original message was:\n\n" + prev + "\n\n---\nTheir new message is:]\n\n" + req.Prompt
	} else {
		delete(s.cancelledPrompts, req.ChatID)
	}
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer s.deregister(req.ChatID)
		s.runWithRecovery(ctx, out, run, req, originalPrompt)
	}()
	return out
}

func (s *Supervisor) deregister(chatID string) {
	s.mu.Lock()
	delete(s.runs, chatID)
	s.mu.Unlock()
}

// outcome summarizes one CLI execution for the recovery decision.
type outcome struct {
	gotResult   bool
	cancelled   bool
	spawnFailed bool
	stdoutLines []string
	stderrLines []string
	exitCode    int
}

// execute spawns the CLI, feeds it the prompt, and drains the merge queue
// into out until both pipes close or a cancel sentinel arrives.
func (s *Supervisor) execute(out chan<- string, run *liveRun, req agent.RunRequest, sessionID string) outcome {
	spec := claudecli.CommandSpec{
		CLIPath:    s.opts.CLIPath,
		GateBinary: s.opts.GateBinary,
		Model:      req.Model,
		SessionID:  sessionID,
	}
	args := claudecli.BuildArgs(spec)

	cmd := exec.Command(s.opts.CLIPath, args...)
	cmd.Env = claudecli.BuildEnv(s.opts.GateURL, req.ChatID)
	if req.Workspace != "" {
		cmd.Dir = req.Workspace
	}

	s.logger.Info("starting agent run",
		zap.String("chat_id", req.ChatID),
		zap.String("model", req.Model),
		zap.String("session_id", sessionID),
		zap.String("workspace", req.Workspace))
	out <- typedEvent("debug", "cmd: "+s.opts.CLIPath+" "+strings.Join(args, " "))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		out <- typedEvent("error", "failed to open stdin: "+err.Error())
		return outcome{spawnFailed: true}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		out <- typedEvent("error", "failed to open stdout: "+err.Error())
		return outcome{spawnFailed: true}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		out <- typedEvent("error", "failed to open stderr: "+err.Error())
		return outcome{spawnFailed: true}
	}

	if err := cmd.Start(); err != nil {
		msg := "claude CLI not found at '" + s.opts.CLIPath + "'. Is Claude Code installed and on PATH?"
		if req.Workspace != "" {
			if info, statErr := os.Stat(req.Workspace); statErr != nil || !info.IsDir() {
				msg = "Working directory does not exist: " + req.Workspace
			}
		}
		s.logger.Error("spawn failed", zap.Error(err))
		out <- typedEvent("error", msg)
		return outcome{spawnFailed: true}
	}

	run.stdinMu.Lock()
	run.stdin = stdin
	run.stdinClosed = false
	run.stdinMu.Unlock()
	s.mu.Lock()
	run.cmd = cmd
	s.mu.Unlock()

	// Exactly one user message; the pipe stays open for tool results.
	userMsg, err := json.Marshal(claudecli.NewUserMessage(req.Prompt, toImages(req.Images)))
	if err == nil {
		err = run.writeStdin(string(userMsg))
	}
	if err != nil {
		out <- typedEvent("error", "stdin write error: "+err.Error())
		cmd.Process.Kill()
		cmd.Wait()
		return outcome{spawnFailed: true}
	}

	var readers errgroup.Group
	readers.Go(func() error {
		defer run.queue.push(itemOutEOF, "")
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), scannerBuffer)
		for scanner.Scan() {
			run.queue.push(itemStdout, scanner.Text())
		}
		return scanner.Err()
	})
	readers.Go(func() error {
		defer run.queue.push(itemErrEOF, "")
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), scannerBuffer)
		for scanner.Scan() {
			run.queue.push(itemStderr, scanner.Text())
		}
		return scanner.Err()
	})

	result := s.consume(out, run, req.ChatID)

	if result.cancelled {
		// Grace period after SIGTERM, then force.
		done := make(chan struct{})
		go func() {
			cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.opts.CancelGrace):
			cmd.Process.Kill()
			<-done
		}
	} else {
		cmd.Wait()
	}
	readers.Wait()
	run.closeStdin()
	result.exitCode = cmd.ProcessState.ExitCode()

	s.logger.Info("run finished",
		zap.String("chat_id", req.ChatID),
		zap.Int("exit_code", result.exitCode),
		zap.Int("stdout_lines", len(result.stdoutLines)),
		zap.Int("stderr_lines", len(result.stderrLines)),
		zap.Bool("got_result", result.gotResult),
		zap.Bool("cancelled", result.cancelled))
	return result
}

// consume drains the merge queue until both pipes report EOF or a cancel
// sentinel arrives. Cancellation short-circuits: one cancelled event, no
// further output.
func (s *Supervisor) consume(out chan<- string, run *liveRun, chatID string) outcome {
	var result outcome
	outDone, errDone := false, false

	for !(outDone && errDone) {
		item := run.queue.pop()
		switch item.kind {
		case itemOutEOF:
			outDone = true
		case itemErrEOF:
			errDone = true
		case itemCancel:
			result.cancelled = true
			s.logger.Info("stream cancelled", zap.String("chat_id", chatID))
			out <- typedEvent("cancelled", "Request cancelled.")
			return result
		case itemInject:
			out <- item.payload
		case itemStdout:
			if item.payload == "" {
				continue
			}
			result.stdoutLines = append(result.stdoutLines, item.payload)
			if e, ok := claudecli.ParseEvent(item.payload); ok && e.Type == claudecli.EventTypeResult {
				result.gotResult = true
				if e.SessionID != "" {
					s.store.SetSession(chatID, e.SessionID)
					s.logger.Info("captured session id",
						zap.String("chat_id", chatID),
						zap.String("session_id", e.SessionID))
				}
				// Closing stdin lets the CLI exit; EOFs follow.
				run.closeStdin()
			}
			out <- item.payload
		case itemStderr:
			if item.payload == "" {
				continue
			}
			result.stderrLines = append(result.stderrLines, item.payload)
			s.logger.Warn("agent stderr", zap.String("line", item.payload))
			out <- typedEvent("error", "claude: "+item.payload)
		}
	}
	return result
}

func toImages(attachments []agent.ImageAttachment) []claudecli.Image {
	if len(attachments) == 0 {
		return nil
	}
	images := make([]claudecli.Image, len(attachments))
	for i, a := range attachments {
		images[i] = claudecli.Image{MediaType: a.MediaType, Data: a.Data}
	}
	return images
}

func typedEvent(eventType, message string) string {
	data, _ := json.Marshal(map[string]string{"type": eventType, "message": message})
	return string(data)
}
