package schema

import "strings"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType is the tag of a content block.
type BlockType string

// Canonical block tags plus the simplified provider tag.
const (
	BlockInputText  BlockType = "input_text"
	BlockOutputText BlockType = "output_text"
	BlockInputImage BlockType = "input_image"
	BlockToolCall   BlockType = "tool_call"
	BlockToolResult BlockType = "tool_result"
	BlockText       BlockType = "text"
)

// IsText reports whether the block carries plain text in any vocabulary.
func (t BlockType) IsText() bool {
	return t == BlockInputText || t == BlockOutputText || t == BlockText
}

// Message is one entry of the conversation history.
type Message struct {
	ID      string         `json:"id,omitempty"`
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a unit of message content. Tool results nest further blocks.
type ContentBlock struct {
	Type       BlockType      `json:"type"`
	Text       string         `json:"text,omitempty"`
	ImageURL   string         `json:"image_url,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Arguments  string         `json:"arguments,omitempty"`
	Content    []ContentBlock `json:"content,omitempty"`
}

// UserText builds a user message with a single input_text block.
func UserText(id, text string) Message {
	return Message{ID: id, Role: RoleUser, Content: []ContentBlock{{Type: BlockInputText, Text: text}}}
}

// AssistantText builds an assistant message with a single output_text block.
func AssistantText(id, text string) Message {
	return Message{ID: id, Role: RoleAssistant, Content: []ContentBlock{{Type: BlockOutputText, Text: text}}}
}

// Text concatenates the text blocks of the message, nested ones included.
func (m Message) Text() string {
	return strings.Join(collectText(nil, m.Content), "\n")
}

func collectText(acc []string, blocks []ContentBlock) []string {
	for _, b := range blocks {
		if b.Type.IsText() && b.Text != "" {
			acc = append(acc, b.Text)
		}
		acc = collectText(acc, b.Content)
	}
	return acc
}
