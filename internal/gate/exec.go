package gate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Bash timeout bounds, in line with the CLI's own tool limits.
const (
	defaultBashTimeout = 120 * time.Second
	maxBashTimeout     = 300 * time.Second
)

// TextEdit is one find-and-replace step of a MultiEdit.
type TextEdit struct {
	OldString string
	NewString string
}

// ExecWrite writes content to a file, creating parent directories as needed.
func ExecWrite(filePath, content string) (string, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return "", err
	}
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), filePath), nil
}

// ExecEdit replaces the first occurrence of oldString in a file. A missing
// oldString is an error so the model learns the file changed under it.
func ExecEdit(filePath, oldString, newString string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	content := string(data)
	if !strings.Contains(content, oldString) {
		return "", fmt.Errorf("old_string not found in %s", filePath)
	}
	updated := strings.Replace(content, oldString, newString, 1)
	if err := os.WriteFile(filePath, []byte(updated), 0644); err != nil {
		return "", err
	}
	return "Edited " + filePath, nil
}

// ExecMultiEdit applies edits in order, all-or-nothing: every old_string is
// matched against the in-memory content before anything is written back.
func ExecMultiEdit(filePath string, edits []TextEdit) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	content := string(data)
	for i, edit := range edits {
		if !strings.Contains(content, edit.OldString) {
			snippet := edit.OldString
			if len(snippet) > 40 {
				snippet = snippet[:40]
			}
			return "", fmt.Errorf("edit %d: old_string not found in %s: %q", i, filePath, snippet)
		}
		content = strings.Replace(content, edit.OldString, edit.NewString, 1)
	}
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("Applied %d edit(s) to %s", len(edits), filePath), nil
}

// ExecBash runs a shell command under a capped timeout. A nonzero exit code
// is folded into the text result rather than returned as an error, so the
// model sees the command's own diagnostics.
func ExecBash(ctx context.Context, command string, timeoutMS float64) (string, error) {
	timeout := defaultBashTimeout
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	if timeout > maxBashTimeout {
		timeout = maxBashTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}

	out := stdout.String()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return "", err
	}

	if exitCode != 0 {
		out += fmt.Sprintf("\n[exit %d]\n%s", exitCode, stderr.String())
	} else if stderr.Len() > 0 {
		out += "\n" + stderr.String()
	}
	if out == "" {
		out = "(no output)"
	}
	return out, nil
}
