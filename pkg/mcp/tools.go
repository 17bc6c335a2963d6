package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/chatflow/internal/conversation"
	"github.com/rendis/chatflow/internal/definitions"
	"github.com/rendis/chatflow/internal/engine"
)

// handleRun starts a run of a catalog workflow on a thread.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slug, err := req.RequireString("workflow_slug")
	if err != nil {
		return mcp.NewToolResultError("workflow_slug is required"), nil
	}
	threadID, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	version := req.GetString("version", "")
	text := req.GetString("message", "")
	input := mcp.ParseStringMap(req, "input", nil)

	if s.engine == nil || s.definitions == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}

	s.captureSession(ctx, threadID)

	def, defErr := s.definitions.Get(ctx, slug, version)
	if defErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", defErr)), nil
	}

	runReq := engine.Request{ThreadID: threadID, Input: input}
	if text != "" {
		runReq.Message = &conversation.UserMessage{Text: text}
	}

	result, runErr := s.engine.Run(ctx, def, runReq)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleResume continues a suspended or failed thread.
func (s *Server) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	slug, err := req.RequireString("workflow_slug")
	if err != nil {
		return mcp.NewToolResultError("workflow_slug is required"), nil
	}
	version := req.GetString("version", "")
	input := mcp.ParseStringMap(req, "input", nil)

	if s.engine == nil || s.definitions == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}

	s.captureSession(ctx, threadID)

	def, defErr := s.definitions.Get(ctx, slug, version)
	if defErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", defErr)), nil
	}

	result, resumeErr := s.engine.Resume(ctx, threadID, def, input)
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}
	return marshalResult(result)
}

// handleStatus returns the persisted snapshot of a thread.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	if s.engine == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}

	status, statusErr := s.engine.Status(ctx, threadID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(status)
}

// handleStop flags the active run of a thread.
func (s *Server) handleStop(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	if s.engine == nil {
		return mcp.NewToolResultError("runner is not configured"), nil
	}

	return marshalResult(map[string]any{
		"thread_id": threadID,
		"stopping":  s.engine.Stop(threadID),
	})
}

// handleValidate checks a definition without registering it.
func (s *Server) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "definition", nil)
	if raw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	if s.checker == nil {
		return mcp.NewToolResultError("validator is not configured"), nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}
	def, err := definitions.LoadBytes(data, "json")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}

	result := s.checker.Validate(def)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleHistory replays the event log of a thread. The step audit trail is
// included when a step log is configured.
func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError("thread_id is required"), nil
	}
	if s.history == nil {
		return mcp.NewToolResultError("event log is not configured"), nil
	}

	runs, replayErr := s.history.ReplayRuns(ctx, threadID)
	if replayErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history query failed: %v", replayErr)), nil
	}
	out := map[string]any{"thread_id": threadID, "runs": runs}
	if s.steps != nil {
		records, stepsErr := s.steps.Steps(ctx, threadID)
		if stepsErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("step history query failed: %v", stepsErr)), nil
		}
		out["steps"] = records
	}
	return marshalResult(out)
}

// captureSession maps the thread to the calling session for notifications.
func (s *Server) captureSession(ctx context.Context, threadID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(threadID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
