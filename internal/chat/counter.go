package chat

import (
	"github.com/ragcore/ragcore/internal/llm"
	"github.com/ragcore/ragcore/internal/tokenizer"
)

// Counter measures token usage for a model. The orchestrator uses it
// when the backend does not report usage itself.
type Counter interface {
	CountText(model, text string) int
	CountConversation(model string, messages []llm.Message) int
}

// TokenCounter adapts a tokenizer.Resolver to the Counter interface.
type TokenCounter struct {
	resolver *tokenizer.Resolver
}

var _ Counter = (*TokenCounter)(nil)

// NewTokenCounter wraps resolver. A nil resolver gets a fresh one.
func NewTokenCounter(resolver *tokenizer.Resolver) *TokenCounter {
	if resolver == nil {
		resolver = tokenizer.NewResolver()
	}
	return &TokenCounter{resolver: resolver}
}

func (c *TokenCounter) CountText(model, text string) int {
	return c.resolver.Resolve(model).Count(text)
}

func (c *TokenCounter) CountConversation(model string, messages []llm.Message) int {
	converted := make([]tokenizer.Message, len(messages))
	for i, m := range messages {
		converted[i] = tokenizer.Message{Role: m.Role, Content: m.Content}
	}
	return c.resolver.Resolve(model).CountMessages(converted)
}
