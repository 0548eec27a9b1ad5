// Package claudecli provides types and command plumbing for the Claude Code
// CLI stream-json protocol: the JSON lines exchanged over stdin/stdout, the
// argument list for a gated run, and binary resolution.
package claudecli

import (
	"encoding/json"
	"strings"
)

// Event types on the CLI's stdout stream.
const (
	// EventTypeSystem is the initial system message with session info.
	EventTypeSystem = "system"
	// EventTypeAssistant carries assistant text or tool-use content.
	EventTypeAssistant = "assistant"
	// EventTypeResult is the terminal result event of a run.
	EventTypeResult = "result"
	// EventTypeStream carries partial content deltas.
	EventTypeStream = "stream_event"
)

// Event is the envelope of a stdout line. Only the fields relevant to
// supervision are decoded; the raw line is passed through to consumers.
type Event struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Result is a string for error results and an object otherwise.
	Result json.RawMessage `json:"result,omitempty"`
}

// ResultText returns the result payload as plain text, handling both the
// string and the object encodings.
func (e *Event) ResultText() string {
	if len(e.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Result, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(e.Result, &obj); err == nil {
		return obj.Text
	}
	return ""
}

// ParseEvent decodes one stdout line. A line that is not JSON, or not an
// object, returns ok=false; callers pass such lines through untouched.
func ParseEvent(line string) (Event, bool) {
	var e Event
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return Event{}, false
	}
	return e, true
}

// ContentBlock is one element of a user message's content array.
type ContentBlock struct {
	Type string `json:"type"`

	// For text blocks.
	Text string `json:"text,omitempty"`

	// For image blocks.
	Source *ImageSource `json:"source,omitempty"`

	// For tool_result blocks.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// ImageSource is an inline base64 image.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// UserMessage is the JSON line written to the CLI's stdin.
type UserMessage struct {
	Type    string          `json:"type"`
	Message UserMessageBody `json:"message"`
}

// UserMessageBody holds the role and content blocks of a user message.
type UserMessageBody struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Image is an attachment supplied by the caller. Data may carry a data-URL
// prefix, which is stripped before the block is built.
type Image struct {
	MediaType string `json:"type"`
	Data      string `json:"data"`
}

// NewUserMessage builds the single user message a run writes to stdin:
// image blocks first, then the prompt text.
func NewUserMessage(prompt string, images []Image) UserMessage {
	blocks := make([]ContentBlock, 0, len(images)+1)
	for _, img := range images {
		data := img.Data
		if i := strings.Index(data, ","); i >= 0 {
			data = data[i+1:]
		}
		mediaType := img.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		blocks = append(blocks, ContentBlock{
			Type: "image",
			Source: &ImageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      data,
			},
		})
	}
	if prompt != "" {
		blocks = append(blocks, ContentBlock{Type: "text", Text: prompt})
	}
	return UserMessage{
		Type:    "user",
		Message: UserMessageBody{Role: "user", Content: blocks},
	}
}

// NewToolResultMessage builds the user message that answers a pending
// tool_use block mid-run.
func NewToolResultMessage(toolUseID, content string) UserMessage {
	return UserMessage{
		Type: "user",
		Message: UserMessageBody{
			Role: "user",
			Content: []ContentBlock{{
				Type:      "tool_result",
				ToolUseID: toolUseID,
				Content:   content,
			}},
		},
	}
}
