package conversation

import (
	"context"
	"strings"

	"github.com/rendis/chatflow/pkg/schema"
)

// CanonicalConverter maps thread items to canonical messages directly. Image
// attachments with a URL become input_image blocks; other attachments produce
// no content of their own.
type CanonicalConverter struct{}

// ConvertHistory converts a batch of thread items, skipping empty ones.
func (CanonicalConverter) ConvertHistory(_ context.Context, batch []ThreadItem) ([]schema.Message, error) {
	out := make([]schema.Message, 0, len(batch))
	for _, it := range batch {
		if m, ok := toMessage(it.ID, it.Role, it.Text, it.Attachments); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// ConvertUserMessage converts the current user turn.
func (CanonicalConverter) ConvertUserMessage(_ context.Context, msg UserMessage) ([]schema.Message, error) {
	m, ok := toMessage(msg.ID, schema.RoleUser, msg.Text, msg.Attachments)
	if !ok {
		return nil, nil
	}
	return []schema.Message{m}, nil
}

func toMessage(id string, role schema.Role, text string, atts []Attachment) (schema.Message, bool) {
	if role == "" {
		role = schema.RoleUser
	}
	textTag := schema.BlockInputText
	if role == schema.RoleAssistant {
		textTag = schema.BlockOutputText
	}

	var blocks []schema.ContentBlock
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, schema.ContentBlock{Type: textTag, Text: text})
	}
	for _, a := range atts {
		if a.URL != "" && (a.Kind == "image" || strings.HasPrefix(a.MimeType, "image/")) {
			blocks = append(blocks, schema.ContentBlock{Type: schema.BlockInputImage, ImageURL: a.URL})
		}
	}
	if len(blocks) == 0 {
		return schema.Message{}, false
	}
	return schema.Message{ID: id, Role: role, Content: blocks}, true
}

var _ Converter = CanonicalConverter{}
