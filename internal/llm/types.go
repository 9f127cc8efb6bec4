// Package llm defines the completion backend boundary: the message and
// usage shapes of the chat completion wire protocol, a Client interface,
// and an HTTP implementation for OpenAI-compatible services.
package llm

import "context"

// Message roles on the chat completion wire protocol.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversational message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion invocation.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage is the backend-reported token accounting block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the terminal artifact of a blocking completion call.
// Usage is nil when the backend omitted it.
type Completion struct {
	ID           string
	Model        string
	Message      Message
	FinishReason string
	Usage        *Usage
}

// DeltaFunc receives one incremental content fragment of a streaming
// completion. Returning an error aborts the stream.
type DeltaFunc func(ctx context.Context, content string) error

// Client is the completion backend. Implementations must honor ctx
// cancellation at every blocking point, including between stream deltas.
type Client interface {
	// Complete performs a blocking completion.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// Stream performs a streaming completion, invoking fn once per
	// non-empty delta in arrival order. Returns nil on normal exhaustion
	// of the stream.
	Stream(ctx context.Context, req Request, fn DeltaFunc) error
}
