package chat

import (
	"testing"

	"github.com/ragcore/ragcore/internal/llm"
)

func TestTokenCounterNilResolver(t *testing.T) {
	c := NewTokenCounter(nil)
	if c == nil {
		t.Fatal("NewTokenCounter(nil) returned nil")
	}
	if got := c.CountText("gpt-4", ""); got != 0 {
		t.Errorf("CountText(empty) = %d, want 0", got)
	}
}

func TestTokenCounterConversationIncludesOverhead(t *testing.T) {
	c := NewTokenCounter(nil)

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "what is the leave policy"},
	}
	conv := c.CountConversation("gpt-4", messages)
	text := c.CountText("gpt-4", messages[0].Content)
	role := c.CountText("gpt-4", messages[0].Role)

	// Framing adds 3 per message plus 3 for the primed reply.
	if want := text + role + 6; conv != want {
		t.Errorf("CountConversation = %d, want %d", conv, want)
	}
}

func TestTokenCounterConversationGrowsWithMessages(t *testing.T) {
	c := NewTokenCounter(nil)

	one := c.CountConversation("gpt-3.5-turbo", []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	two := c.CountConversation("gpt-3.5-turbo", []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	})
	if two <= one {
		t.Errorf("two messages counted %d, one counted %d", two, one)
	}
}
