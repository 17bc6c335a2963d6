package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/chatflow/internal/streaming"
	"github.com/rendis/chatflow/pkg/schema"
)

// ThreadNotifier pushes notifications to the client driving a thread.
type ThreadNotifier interface {
	Notify(ctx context.Context, threadID string, payload map[string]any) error
}

// notificationSender is the part of MCPServer the notifier uses.
type notificationSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
}

// MCPNotifier implements ThreadNotifier using MCP notifications.
type MCPNotifier struct {
	sender   notificationSender
	sessions *SessionRegistry
}

var _ ThreadNotifier = (*MCPNotifier)(nil)

// NewMCPNotifier creates a notifier that pushes through mcpServer.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{sender: mcpServer, sessions: sessions}
}

// Notify sends a notification to the thread's session.
// Best-effort: returns nil if no session is bound.
func (n *MCPNotifier) Notify(_ context.Context, threadID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(threadID)
	if !ok {
		return nil
	}
	err := n.sender.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session went away between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Forward relays every hub event to the session of its thread until ctx is
// done or the subscription closes. Push errors are dropped.
func (n *MCPNotifier) Forward(ctx context.Context, hub streaming.EventHub) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			// A failed push must not stop the other threads' relay.
			_ = n.Notify(ctx, ev.ThreadID, eventPayload(ev))
		}
	}
}

func eventPayload(ev schema.StreamEvent) map[string]any {
	return map[string]any{
		"level":  "info",
		"logger": "chatflow",
		"data": map[string]any{
			"thread_id": ev.ThreadID,
			"run_id":    ev.RunID,
			"node_slug": ev.NodeSlug,
			"type":      ev.Type,
			"payload":   ev.Payload,
			"timestamp": ev.Timestamp,
		},
	}
}
