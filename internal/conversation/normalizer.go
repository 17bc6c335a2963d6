// Package conversation shapes chat history for model providers and builds the
// initial history of a run.
package conversation

import (
	"strings"

	"github.com/rendis/chatflow/pkg/schema"
)

// DefaultProvider owns the canonical vocabulary (input_text/output_text).
const DefaultProvider = "openai"

// Normalizer rewrites canonical history into a provider's vocabulary.
type Normalizer struct {
	canonical string
}

// NewNormalizer creates a normalizer whose canonical provider is canonical,
// or DefaultProvider when empty.
func NewNormalizer(canonical string) *Normalizer {
	canonical = strings.ToLower(strings.TrimSpace(canonical))
	if canonical == "" {
		canonical = DefaultProvider
	}
	return &Normalizer{canonical: canonical}
}

// Canonical returns the provider whose vocabulary needs no rewriting.
func (n *Normalizer) Canonical() string {
	return n.canonical
}

// IsCanonical reports whether provider uses the canonical vocabulary. An
// empty provider means the canonical one.
func (n *Normalizer) IsCanonical(provider string) bool {
	provider = strings.ToLower(strings.TrimSpace(provider))
	return provider == "" || provider == n.canonical
}

// ToProvider returns history shaped for provider. For the canonical provider
// the input slice itself is returned. Any other provider gets a deep copy
// with every input_text and output_text block, nested tool results included,
// retagged as text. The input is never mutated.
func (n *Normalizer) ToProvider(history []schema.Message, provider string) []schema.Message {
	if n.IsCanonical(provider) {
		return history
	}
	out := make([]schema.Message, len(history))
	for i, m := range history {
		out[i] = schema.Message{ID: m.ID, Role: m.Role, Content: simplifyBlocks(m.Content)}
	}
	return out
}

func simplifyBlocks(in []schema.ContentBlock) []schema.ContentBlock {
	if in == nil {
		return nil
	}
	out := make([]schema.ContentBlock, len(in))
	for i, b := range in {
		out[i] = b
		if b.Type == schema.BlockInputText || b.Type == schema.BlockOutputText {
			out[i].Type = schema.BlockText
		}
		out[i].Content = simplifyBlocks(b.Content)
	}
	return out
}
