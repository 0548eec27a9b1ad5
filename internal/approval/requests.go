package approval

// CreateRequestBody is the payload the gate posts for a gated tool call.
type CreateRequestBody struct {
	RequestID string         `json:"request_id" binding:"required"`
	ChatID    string         `json:"chat_id"`
	Tool      string         `json:"tool" binding:"required"`
	Input     map[string]any `json:"input"`
}

// CreateRequestResponse acknowledges a registered request. AutoDecision is
// set when permission rules or workspace auto-allow resolved it immediately.
type CreateRequestResponse struct {
	Status       string `json:"status"`
	AutoDecision string `json:"auto_decision,omitempty"`
}

// WaitResponse carries the final decision back to the blocked gate.
type WaitResponse struct {
	Decision string `json:"decision"`
}

// DecideBody is the payload the frontend posts to resolve a request.
type DecideBody struct {
	RequestID string `json:"request_id" binding:"required"`
	Decision  string `json:"decision" binding:"required"`
}

// CreateQuestionBody is the payload the gate posts for a user question.
type CreateQuestionBody struct {
	RequestID string `json:"request_id" binding:"required"`
	ChatID    string `json:"chat_id"`
	Questions []any  `json:"questions"`
}

// AnswerBody is the payload the frontend posts to answer a question.
type AnswerBody struct {
	RequestID string `json:"request_id" binding:"required"`
	Answer    string `json:"answer"`
}
