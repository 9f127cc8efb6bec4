// Package grounding turns retrieved document chunks into the context
// block and system directive that steer a completion request.
package grounding

import (
	"strings"

	"github.com/ragcore/ragcore/internal/index"
	"github.com/ragcore/ragcore/internal/llm"
)

const directiveTemplate = `You are a helpful assistant. Use the following context to answer the user's question. If the context does not contain relevant information, answer from your general knowledge and say so.

Context:
%CONTEXT%

Cite the document titles you relied on at the end of your answer.`

// Assemble renders retrieval results as a single context string. Each
// result becomes a titled block in the order given. Empty input yields
// an empty string.
func Assemble(results []index.Result) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	for _, r := range results {
		b.WriteString("--- ")
		b.WriteString(r.DocumentTitle)
		b.WriteString(" ---\n")
		b.WriteString(r.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Inject places the grounding directive into a conversation. The first
// system message is replaced if one exists, otherwise a system message
// is prepended. An empty context returns the input unchanged. The input
// slice is never mutated.
func Inject(messages []llm.Message, contextBlock string) []llm.Message {
	if contextBlock == "" {
		return messages
	}

	directive := strings.Replace(directiveTemplate, "%CONTEXT%", contextBlock, 1)

	for i, m := range messages {
		if m.Role == llm.RoleSystem {
			out := make([]llm.Message, len(messages))
			copy(out, messages)
			out[i].Content = directive
			return out
		}
	}

	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: directive})
	out = append(out, messages...)
	return out
}
