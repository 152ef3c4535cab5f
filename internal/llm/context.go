package llm

import (
	"strings"

	"github.com/parleyhq/parley-api/internal/models"
)

// Part is a single text fragment of a context entry.
type Part struct {
	Text string `json:"text"`
}

// Entry is one role-tagged element of the normalized conversation context.
// The JSON field names are part of the Gemini wire format, which receives the
// context as-is.
type Entry struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Context is the provider-agnostic conversation context consumed by all
// adapters. Entry 0, when present, is the persona's system instruction;
// the remaining entries follow strict chronological message order. A Context
// is never mutated after construction.
type Context []Entry

// BuildContext converts a persona system instruction and an ordered message
// history into a normalized context. The result always starts with the
// system entry, even for an empty history, and maps each message 1:1 in
// order as a single-part text entry.
func BuildContext(systemInstruction string, history []models.Message) Context {
	convo := make(Context, 0, len(history)+1)

	convo = append(convo, Entry{
		Role:  string(models.RoleSystem),
		Parts: []Part{{Text: systemInstruction}},
	})

	for _, msg := range history {
		convo = append(convo, Entry{
			Role:  string(msg.Role),
			Parts: []Part{{Text: msg.Content}},
		})
	}

	return convo
}

// JoinedText returns the entry's parts joined with a single space. This is
// the message content shape for providers that take flat strings.
func (e Entry) JoinedText() string {
	texts := make([]string, 0, len(e.Parts))
	for _, p := range e.Parts {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, " ")
}

// SystemText returns the joined text of the first system entry, or "" when
// the context has none.
func (c Context) SystemText() string {
	for _, e := range c {
		if e.Role == string(models.RoleSystem) {
			return e.JoinedText()
		}
	}
	return ""
}

// WithoutSystem returns the context entries with system-role entries removed.
// Anthropic takes the system instruction as a separate top-level field.
func (c Context) WithoutSystem() []Entry {
	out := make([]Entry, 0, len(c))
	for _, e := range c {
		if e.Role == string(models.RoleSystem) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// FlattenPrompt collapses the whole context into a single prompt string, one
// "<role>: <text>" line per entry. Ollama's generate endpoint takes a flat
// prompt rather than structured messages.
func (c Context) FlattenPrompt() string {
	lines := make([]string, 0, len(c))
	for _, e := range c {
		lines = append(lines, e.Role+": "+e.JoinedText())
	}
	return strings.Join(lines, "\n")
}
