// Package chat orchestrates completions: it grounds conversations in
// retrieved documents, relays them to the model backend, and accounts
// for tokens and cost.
package chat

import (
	"errors"

	"github.com/ragcore/ragcore/internal/llm"
)

// ErrNoMessages is returned before any backend call when the
// conversation is empty.
var ErrNoMessages = errors.New("at least one message is required")

// Request is one completion request. OrgID zero means no tenant scope,
// which disables retrieval grounding.
type Request struct {
	OrgID  int64
	UserID int64

	Messages    []llm.Message
	Model       string  // empty uses the configured default
	Temperature float64 // negative uses the configured default
	MaxTokens   int     // zero uses the configured default

	// Filter optionally narrows retrieval by chunk metadata.
	Filter map[string]string
}

// Result is a finished blocking completion with its accounting.
type Result struct {
	ID            string
	Created       int64
	Model         string
	Message       llm.Message
	FinishReason  string
	Usage         llm.Usage
	EstimatedCost float64
}
