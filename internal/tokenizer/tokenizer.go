// Package tokenizer resolves model names to token counters.
//
// Resolution matches the model name against a family table by substring and
// never fails: unknown models use the default encoding, and an encoding that
// cannot be loaded falls back to a rune-based approximation so counting stays
// available offline.
package tokenizer

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding names per model family.
const (
	// encodingGPT4 covers the gpt-4 family (gpt-4o vocabulary).
	encodingGPT4 = "o200k_base"

	// encodingDefault covers gpt-3.5 and every unrecognized model.
	encodingDefault = "cl100k_base"
)

// Chat protocol framing overheads: each message carries framing tokens on the
// wire, and the reply is primed with a fixed prefix.
const (
	tokensPerMessage  = 3
	replyPrimerTokens = 3
)

// family maps a model-name marker to an encoding. Checked in order; first
// substring match wins.
type family struct {
	marker   string
	encoding string
}

var families = []family{
	{marker: "gpt-4", encoding: encodingGPT4},
	{marker: "gpt-3.5", encoding: encodingDefault},
}

// Message is the minimal shape needed for message-list counting.
type Message struct {
	Role    string
	Content string
}

// Tokenizer counts tokens for a single encoding.
// When the encoding data is unavailable, enc is nil and Count falls back to
// an approximation.
type Tokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// Encoding returns the name of the resolved encoding.
func (t *Tokenizer) Encoding() string {
	return t.encoding
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if t.enc == nil {
		return approximateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessages returns the token count of a message list including the
// per-message framing and reply priming overheads of the chat protocol.
func (t *Tokenizer) CountMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += tokensPerMessage
		total += t.Count(m.Role)
		total += t.Count(m.Content)
	}
	total += replyPrimerTokens
	return total
}

// approximateTokens estimates token count as runes/4, a conservative figure
// for English text. Used only when the BPE vocabulary cannot be loaded.
func approximateTokens(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n == 0 && text != "" {
		return 1
	}
	return n
}

// Resolver maps model names to Tokenizers, caching one Tokenizer per
// encoding. Safe for concurrent use.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]*Tokenizer
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]*Tokenizer)}
}

// Resolve returns the Tokenizer for model. Unrecognized models resolve to
// the default encoding; Resolve never returns nil or an error.
func (r *Resolver) Resolve(model string) *Tokenizer {
	return r.forEncoding(encodingForModel(model))
}

// encodingForModel matches model against the family table.
func encodingForModel(model string) string {
	for _, f := range families {
		if strings.Contains(model, f.marker) {
			return f.encoding
		}
	}
	return encodingDefault
}

func (r *Resolver) forEncoding(name string) *Tokenizer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.cache[name]; ok {
		return t
	}

	t := &Tokenizer{encoding: name}
	if enc, err := tiktoken.GetEncoding(name); err == nil {
		t.enc = enc
	}
	r.cache[name] = t
	return t
}
