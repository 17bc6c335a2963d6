package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/chatflow/internal/engine"
	"github.com/rendis/chatflow/internal/store"
	"github.com/rendis/chatflow/internal/streaming"
	"github.com/rendis/chatflow/pkg/schema"
)

// Engine is the part of the runner the tools drive.
type Engine interface {
	Run(ctx context.Context, def *schema.WorkflowDefinition, req engine.Request) (*engine.RunResult, error)
	Resume(ctx context.Context, threadID string, def *schema.WorkflowDefinition, input map[string]any) (*engine.RunResult, error)
	Stop(threadID string) bool
	Status(ctx context.Context, threadID string) (*engine.ThreadStatus, error)
}

// DefinitionChecker reports every issue of a definition.
type DefinitionChecker interface {
	Validate(def *schema.WorkflowDefinition) *schema.ValidationResult
}

// RunHistory folds a thread's event log into per-run summaries.
type RunHistory interface {
	ReplayRuns(ctx context.Context, threadID string) ([]store.RunSummary, error)
}

// StepLog reads the step audit trail of a thread.
type StepLog interface {
	Steps(ctx context.Context, threadID string) ([]schema.StepRecord, error)
}

// ServerDeps holds the dependencies for creating a Server. Checker, History,
// Steps and Hub are optional.
type ServerDeps struct {
	Engine      Engine
	Definitions engine.DefinitionProvider
	Checker     DefinitionChecker
	History     RunHistory
	Steps       StepLog
	Hub         streaming.EventHub
	Logger      *slog.Logger
}

// Server wraps an MCP server with the chatflow tool handlers.
type Server struct {
	engine      Engine
	definitions engine.DefinitionProvider
	checker     DefinitionChecker
	history     RunHistory
	steps       StepLog
	hub         streaming.EventHub
	logger      *slog.Logger
	sessions    *SessionRegistry
	notifier    *MCPNotifier
	mcpServer   *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		engine:      deps.Engine,
		definitions: deps.Definitions,
		checker:     deps.Checker,
		history:     deps.History,
		steps:       deps.Steps,
		hub:         deps.Hub,
		logger:      logger,
		sessions:    NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"chatflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Chatflow runs conversational workflows. Use chatflow.run to start a run on a thread, chatflow.resume to continue a suspended thread, chatflow.status to inspect it, chatflow.stop to interrupt it and chatflow.validate to check a definition."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Stream events of threads started by a session are pushed to
// it as notifications while serving.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		forwardCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := s.notifier.Forward(forwardCtx, s.hub); err != nil {
				s.logger.Warn("stream forwarding stopped", slog.String("error", err.Error()))
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: stopTool(), Handler: s.handleStop},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: historyTool(), Handler: s.handleHistory},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("chatflow.run",
		mcp.WithDescription("Start a workflow run on a thread"),
		mcp.WithString("workflow_slug", mcp.Required(), mcp.Description("Slug of the workflow to run")),
		mcp.WithString("version", mcp.Description("Workflow version (default: latest)")),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation thread the run belongs to")),
		mcp.WithString("message", mcp.Description("Text of the current user message")),
		mcp.WithObject("input", mcp.Description("Initial values of state.input")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("chatflow.resume",
		mcp.WithDescription("Resume a suspended or failed thread"),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread to resume")),
		mcp.WithString("workflow_slug", mcp.Required(), mcp.Description("Slug of the root workflow of the thread")),
		mcp.WithString("version", mcp.Description("Workflow version (default: latest)")),
		mcp.WithObject("input", mcp.Description("Values merged into the state of the pending node")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("chatflow.status",
		mcp.WithDescription("Get the persisted state of a thread"),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread to query")),
	)
}

func stopTool() mcp.Tool {
	return mcp.NewTool("chatflow.stop",
		mcp.WithDescription("Suspend the active run of a thread at the next step boundary"),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread to stop")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("chatflow.validate",
		mcp.WithDescription("Validate a workflow definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("chatflow.history",
		mcp.WithDescription("Summarize the runs of a thread from its event log"),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Thread to summarize")),
	)
}
