package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsRecovery_SignatureMatch(t *testing.T) {
	tests := []struct {
		name   string
		result outcome
		want   bool
	}{
		{
			name:   "prompt is too long",
			result: outcome{stderrLines: []string{"API error: Prompt is too long"}},
			want:   true,
		},
		{
			name:   "prompt_too_long code",
			result: outcome{stdoutLines: []string{`{"type":"error","code":"prompt_too_long"}`}},
			want:   true,
		},
		{
			name:   "context window",
			result: outcome{stderrLines: []string{"exceeds the Context Window"}},
			want:   true,
		},
		{
			name:   "maximum context length",
			result: outcome{stdoutLines: []string{"maximum context length exceeded"}},
			want:   true,
		},
		{
			name:   "unrelated failure",
			result: outcome{stderrLines: []string{"connection refused"}},
			want:   false,
		},
		{
			name:   "no output at all",
			result: outcome{},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := needsRecovery(tt.result, false, "chat-1", "sess-1")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNeedsRecovery_NeverOnRetry(t *testing.T) {
	overflow := outcome{stderrLines: []string{"prompt is too long"}}
	assert.False(t, needsRecovery(overflow, true, "chat-1", "sess-1"))
}

func TestNeedsRecovery_RequiresActiveSession(t *testing.T) {
	overflow := outcome{stderrLines: []string{"prompt is too long"}}
	assert.False(t, needsRecovery(overflow, false, "chat-1", ""))
	assert.False(t, needsRecovery(overflow, false, "", "sess-1"))
}

func TestNeedsRecovery_SkipsSuccessAndCancel(t *testing.T) {
	assert.False(t, needsRecovery(outcome{
		gotResult:   true,
		stderrLines: []string{"prompt is too long"},
	}, false, "chat-1", "sess-1"))

	assert.False(t, needsRecovery(outcome{
		cancelled:   true,
		stderrLines: []string{"prompt is too long"},
	}, false, "chat-1", "sess-1"))

	assert.False(t, needsRecovery(outcome{
		spawnFailed: true,
		stderrLines: []string{"prompt is too long"},
	}, false, "chat-1", "sess-1"))
}
