package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/rendis/chatflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConverter tags the output of each path so tests can tell them apart.
type recordingConverter struct {
	historyCalls [][]ThreadItem
	userCalls    []UserMessage
	userOutput   func(UserMessage) []schema.Message
	err          error
}

func (c *recordingConverter) ConvertHistory(_ context.Context, batch []ThreadItem) ([]schema.Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.historyCalls = append(c.historyCalls, batch)
	var out []schema.Message
	for _, it := range batch {
		out = append(out, schema.UserText("batch:"+it.ID, it.Text))
	}
	return out, nil
}

func (c *recordingConverter) ConvertUserMessage(_ context.Context, msg UserMessage) ([]schema.Message, error) {
	c.userCalls = append(c.userCalls, msg)
	if c.userOutput != nil {
		return c.userOutput(msg), nil
	}
	return []schema.Message{schema.UserText("single:"+msg.ID, msg.Text)}, nil
}

func threadHistory() []ThreadItem {
	return []ThreadItem{
		{ID: "i1", Role: schema.RoleUser, Text: "first"},
		{ID: "i2", Role: schema.RoleAssistant, Text: "reply"},
		{ID: "i3", Role: schema.RoleUser, Text: "current question"},
	}
}

func countText(msgs []schema.Message, text string) int {
	n := 0
	for _, m := range msgs {
		if m.Text() == text {
			n++
		}
	}
	return n
}

func TestInitializer_SourceItemInHistoryIsNotDuplicated(t *testing.T) {
	conv := &recordingConverter{}
	ini := NewInitializer(conv, 0, nil)

	rc, err := ini.Build(context.Background(), Request{
		ThreadID:     "t1",
		SourceItemID: "i3",
		Message:      &UserMessage{ID: "i3", Text: "current question"},
		History:      threadHistory(),
	})
	require.NoError(t, err)

	assert.Empty(t, conv.userCalls, "current message must not be converted separately")
	assert.Len(t, rc.History, 3)
	assert.Equal(t, 1, countText(rc.History, "current question"))
}

func TestInitializer_UnmatchedSourceItemIsConvertedSeparately(t *testing.T) {
	conv := &recordingConverter{}
	ini := NewInitializer(conv, 0, nil)

	rc, err := ini.Build(context.Background(), Request{
		ThreadID:     "t1",
		SourceItemID: "i9",
		Message:      &UserMessage{ID: "i9", Text: "new question"},
		History:      threadHistory(),
	})
	require.NoError(t, err)

	require.Len(t, conv.userCalls, 1)
	require.Len(t, rc.History, 4)
	assert.Equal(t, "single:i9", rc.History[3].ID, "appended via the single-message path")
	for _, m := range rc.History[:3] {
		assert.Contains(t, m.ID, "batch:")
	}
}

func TestInitializer_NoSourceItemIDAppendsMessage(t *testing.T) {
	conv := &recordingConverter{}
	rc, err := NewInitializer(conv, 0, nil).Build(context.Background(), Request{
		Message: &UserMessage{Text: "hi"},
	})
	require.NoError(t, err)
	require.Len(t, rc.History, 1)
	assert.Len(t, conv.userCalls, 1)
}

func TestInitializer_HistoryBatches(t *testing.T) {
	conv := &recordingConverter{}
	items := make([]ThreadItem, 5)
	for i := range items {
		items[i] = ThreadItem{ID: string(rune('a' + i)), Role: schema.RoleUser, Text: string(rune('a' + i))}
	}

	rc, err := NewInitializer(conv, 2, nil).Build(context.Background(), Request{History: items})
	require.NoError(t, err)

	require.Len(t, conv.historyCalls, 3)
	assert.Len(t, conv.historyCalls[2], 1)
	require.Len(t, rc.History, 5)
	assert.Equal(t, "batch:a", rc.History[0].ID)
	assert.Equal(t, "batch:e", rc.History[4].ID)
}

func TestInitializer_AttachmentFallback(t *testing.T) {
	atts := []Attachment{
		{Name: "invoice.pdf", Kind: "file", MimeType: "application/pdf"},
		{Name: "photo.png", Kind: "image", MimeType: "image/png"},
	}
	want := "Attachment 1: invoice.pdf (file, application/pdf)\nAttachment 2: photo.png (image, image/png)"

	t.Run("no converter output", func(t *testing.T) {
		conv := &recordingConverter{userOutput: func(UserMessage) []schema.Message { return nil }}
		rc, err := NewInitializer(conv, 0, nil).Build(context.Background(), Request{
			Message: &UserMessage{ID: "m1", Attachments: atts},
		})
		require.NoError(t, err)
		require.Len(t, rc.History, 1)
		assert.Equal(t, want, rc.History[0].Text())
		assert.Equal(t, schema.RoleUser, rc.History[0].Role)
	})

	t.Run("converter output without text", func(t *testing.T) {
		conv := &recordingConverter{userOutput: func(m UserMessage) []schema.Message {
			return []schema.Message{{Role: schema.RoleUser, Content: []schema.ContentBlock{
				{Type: schema.BlockInputImage, ImageURL: "https://img/photo.png"},
			}}}
		}}
		rc, err := NewInitializer(conv, 0, nil).Build(context.Background(), Request{
			Message: &UserMessage{ID: "m1", Attachments: atts},
		})
		require.NoError(t, err)
		require.Len(t, rc.History, 2)
		assert.Equal(t, want, rc.History[1].Text())
	})

	t.Run("converter already describes attachments", func(t *testing.T) {
		conv := &recordingConverter{userOutput: func(m UserMessage) []schema.Message {
			return []schema.Message{schema.UserText("", "files: invoice.pdf, photo.png")}
		}}
		rc, err := NewInitializer(conv, 0, nil).Build(context.Background(), Request{
			Message: &UserMessage{ID: "m1", Attachments: atts},
		})
		require.NoError(t, err)
		require.Len(t, rc.History, 1)
		assert.Equal(t, 0, countText(rc.History, want))
	})

	t.Run("message with text gets no fallback", func(t *testing.T) {
		conv := &recordingConverter{}
		rc, err := NewInitializer(conv, 0, nil).Build(context.Background(), Request{
			Message: &UserMessage{ID: "m1", Text: "see attached", Attachments: atts},
		})
		require.NoError(t, err)
		require.Len(t, rc.History, 1)
		assert.Equal(t, "see attached", rc.History[0].Text())
	})
}

func TestInitializer_ResumeRestoresSnapshotVerbatim(t *testing.T) {
	conv := &recordingConverter{}
	snap := &schema.RuntimeSnapshot{
		ThreadID:    "t1",
		RunID:       "r1",
		CurrentSlug: "widget",
		PendingSlug: "widget",
		State:       map[string]any{"k": "v"},
		History:     []schema.Message{schema.UserText("x", "earlier")},
	}

	rc, err := NewInitializer(conv, 0, nil).Build(context.Background(), Request{
		Snapshot: snap,
		Message:  &UserMessage{Text: "ignored"},
		History:  threadHistory(),
		Input:    map[string]any{"choice": "a"},
	})
	require.NoError(t, err)

	assert.Empty(t, conv.historyCalls)
	assert.Empty(t, conv.userCalls)
	assert.Equal(t, snap.History, rc.History)
	assert.Equal(t, "widget", rc.PendingSlug)
	assert.Equal(t, map[string]any{"k": "v"}, rc.State)
	assert.Equal(t, "a", rc.Input["choice"])
}

func TestInitializer_ConverterError(t *testing.T) {
	conv := &recordingConverter{err: errors.New("bad batch")}
	_, err := NewInitializer(conv, 0, nil).Build(context.Background(), Request{History: threadHistory()})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeSerialization))
}

func TestCanonicalConverter(t *testing.T) {
	c := CanonicalConverter{}
	msgs, err := c.ConvertHistory(context.Background(), []ThreadItem{
		{ID: "a", Role: schema.RoleAssistant, Text: "hello"},
		{ID: "b", Role: schema.RoleUser},
		{ID: "c", Attachments: []Attachment{{Name: "p.png", Kind: "image", MimeType: "image/png", URL: "https://x/p.png"}}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.BlockOutputText, msgs[0].Content[0].Type)
	assert.Equal(t, schema.RoleUser, msgs[1].Role)
	assert.Equal(t, schema.BlockInputImage, msgs[1].Content[0].Type)

	none, err := c.ConvertUserMessage(context.Background(), UserMessage{Attachments: []Attachment{{Name: "a.pdf"}}})
	require.NoError(t, err)
	assert.Empty(t, none)
}
