// Package usage records per-request token and cost accounting and
// forwards it to an external sink without blocking request handling.
package usage

import (
	"context"
	"time"
)

// Record is one completed request's accounting entry. Model is the
// model that actually served the request, which may differ from the
// one requested.
type Record struct {
	RequestID        string         `json:"request_id"`
	UserID           int64          `json:"user_id"`
	OrgID            int64          `json:"org_id"`
	Model            string         `json:"model"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	EstimatedCost    float64        `json:"estimated_cost"`
	Streamed         bool           `json:"streamed"`
	CreatedAt        time.Time      `json:"created_at"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Sink accepts usage records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Report(ctx context.Context, rec Record) error
}
