package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/chatflow/internal/runstate"
	"github.com/rendis/chatflow/pkg/schema"
)

const defaultBatchSize = 50

// Attachment is a file sent along with a user message.
type Attachment struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
}

// ThreadItem is one item of a thread's stored history, as kept by the chat
// front end.
type ThreadItem struct {
	ID          string       `json:"id"`
	Role        schema.Role  `json:"role"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// UserMessage is the current turn of the conversation.
type UserMessage struct {
	ID          string       `json:"id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Converter turns front-end items into canonical messages. History is
// converted in batches; the current user message always gets its own call.
type Converter interface {
	ConvertHistory(ctx context.Context, batch []ThreadItem) ([]schema.Message, error)
	ConvertUserMessage(ctx context.Context, msg UserMessage) ([]schema.Message, error)
}

// Request carries what a run needs to build its starting context.
type Request struct {
	ThreadID     string
	SourceItemID string // id of the thread item the current message came from
	Message      *UserMessage
	History      []ThreadItem
	Input        map[string]any

	// Snapshot, when set, resumes a run; History and Message are ignored.
	Snapshot *schema.RuntimeSnapshot
}

// Initializer builds the starting RunContext of a run.
type Initializer struct {
	converter Converter
	batchSize int
	logger    *slog.Logger
}

// NewInitializer creates an Initializer. batchSize <= 0 uses the default.
func NewInitializer(converter Converter, batchSize int, logger *slog.Logger) *Initializer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Initializer{converter: converter, batchSize: batchSize, logger: logger}
}

// Build assembles the run context. A snapshot is restored verbatim; otherwise
// thread history is converted batch by batch and the current message is
// appended unless the history already contains it.
func (in *Initializer) Build(ctx context.Context, req Request) (*runstate.RunContext, error) {
	if req.Snapshot != nil {
		rc := runstate.FromSnapshot(req.Snapshot)
		if req.Input != nil {
			rc.Input = runstate.DeepCopy(req.Input)
		}
		return rc, nil
	}

	rc := runstate.New(req.ThreadID)
	if req.Input != nil {
		rc.Input = runstate.DeepCopy(req.Input)
	}

	for start := 0; start < len(req.History); start += in.batchSize {
		end := min(start+in.batchSize, len(req.History))
		msgs, err := in.converter.ConvertHistory(ctx, req.History[start:end])
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSerialization,
				"convert thread history: %s", err.Error()).WithCause(err)
		}
		rc.AppendMessages(msgs...)
	}

	if req.Message == nil {
		return rc, nil
	}

	if req.SourceItemID != "" && historyContains(req.History, req.SourceItemID) {
		in.logger.DebugContext(ctx, "current message already in thread history",
			slog.String("source_item_id", req.SourceItemID),
		)
		return rc, nil
	}

	msgs, err := in.converter.ConvertUserMessage(ctx, *req.Message)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization,
			"convert user message: %s", err.Error()).WithCause(err)
	}
	msgs = withAttachmentFallback(*req.Message, msgs)
	rc.AppendMessages(msgs...)
	return rc, nil
}

func historyContains(items []ThreadItem, id string) bool {
	for _, it := range items {
		if it.ID == id {
			return true
		}
	}
	return false
}

// withAttachmentFallback appends a text item describing the attachments of a
// text-less message unless the converted output already names them all.
func withAttachmentFallback(msg UserMessage, converted []schema.Message) []schema.Message {
	if len(msg.Attachments) == 0 || strings.TrimSpace(msg.Text) != "" {
		return converted
	}
	if mentionsAll(converted, msg.Attachments) {
		return converted
	}
	return append(converted, schema.UserText(msg.ID, AttachmentSummary(msg.Attachments)))
}

// AttachmentSummary renders one "Attachment <n>: <name> (<kind>, <mime>)"
// line per attachment.
func AttachmentSummary(atts []Attachment) string {
	lines := make([]string, len(atts))
	for i, a := range atts {
		lines[i] = fmt.Sprintf("Attachment %d: %s (%s, %s)", i+1, a.Name, a.Kind, a.MimeType)
	}
	return strings.Join(lines, "\n")
}

func mentionsAll(msgs []schema.Message, atts []Attachment) bool {
	for _, m := range msgs {
		text := m.Text()
		if text == "" {
			continue
		}
		all := true
		for _, a := range atts {
			if !strings.Contains(text, a.Name) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}
