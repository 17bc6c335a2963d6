package conversation

import (
	"testing"

	"github.com/rendis/chatflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHistory() []schema.Message {
	return []schema.Message{
		schema.UserText("u1", "hi"),
		schema.AssistantText("a1", "hello"),
		{ID: "t1", Role: schema.RoleTool, Content: []schema.ContentBlock{{
			Type:       schema.BlockToolResult,
			ToolCallID: "call-1",
			Content: []schema.ContentBlock{
				{Type: schema.BlockOutputText, Text: "lookup ok"},
				{Type: schema.BlockToolResult, Content: []schema.ContentBlock{
					{Type: schema.BlockInputText, Text: "deep"},
				}},
			},
		}}},
		{ID: "u2", Role: schema.RoleUser, Content: []schema.ContentBlock{
			{Type: schema.BlockInputImage, ImageURL: "https://img/1.png"},
		}},
	}
}

func collectTypes(blocks []schema.ContentBlock, acc []schema.BlockType) []schema.BlockType {
	for _, b := range blocks {
		acc = append(acc, b.Type)
		acc = collectTypes(b.Content, acc)
	}
	return acc
}

func TestNormalizer_CanonicalIsIdentity(t *testing.T) {
	n := NewNormalizer("")
	in := sampleHistory()

	for _, provider := range []string{"", "openai", " OpenAI "} {
		out := n.ToProvider(in, provider)
		require.Len(t, out, len(in))
		assert.Same(t, &in[0], &out[0], "canonical provider must return the input slice")
	}

	again := n.ToProvider(n.ToProvider(in, DefaultProvider), DefaultProvider)
	assert.Same(t, &in[0], &again[0])
}

func TestNormalizer_AlternateProviderRewritesAllDepths(t *testing.T) {
	n := NewNormalizer(DefaultProvider)
	in := sampleHistory()
	before := sampleHistory()

	out := n.ToProvider(in, "anthropic")
	require.Len(t, out, len(in))
	assert.NotSame(t, &in[0], &out[0])

	for _, m := range out {
		for _, typ := range collectTypes(m.Content, nil) {
			assert.NotEqual(t, schema.BlockInputText, typ)
			assert.NotEqual(t, schema.BlockOutputText, typ)
		}
	}
	assert.Equal(t, schema.BlockText, out[2].Content[0].Content[1].Content[0].Type)
	assert.Equal(t, "deep", out[2].Content[0].Content[1].Content[0].Text)
	assert.Equal(t, schema.BlockInputImage, out[3].Content[0].Type)

	assert.Equal(t, before, in, "input must not be mutated")
}

func TestNormalizer_AlternateCopiesAreIndependent(t *testing.T) {
	n := NewNormalizer(DefaultProvider)
	in := sampleHistory()

	a := n.ToProvider(in, "chat_completions")
	b := n.ToProvider(in, "chat_completions")
	assert.Equal(t, a, b)

	a[2].Content[0].Content[0].Text = "mutated"
	assert.Equal(t, "lookup ok", b[2].Content[0].Content[0].Text)
	assert.Equal(t, "lookup ok", in[2].Content[0].Content[0].Text)
}

func TestNormalizer_CustomCanonical(t *testing.T) {
	n := NewNormalizer("eino")
	in := sampleHistory()

	out := n.ToProvider(in, "eino")
	assert.Same(t, &in[0], &out[0])
	assert.Equal(t, "eino", n.Canonical())
}
