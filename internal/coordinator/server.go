package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AltairaLabs/feedback-mcp/internal/coordinator/config"
	"github.com/AltairaLabs/feedback-mcp/internal/tools"
)

// MCPServer wraps the mcp-go server with the feedback tools
type MCPServer struct {
	server       *server.MCPServer
	bridge       *Bridge
	auditLogger  *AuditLogger
	toolRegistry *tools.ToolHandlerRegistry
	logger       *slog.Logger
}

// Config holds configuration for the MCP server
type Config struct {
	Name    string
	Version string
}

// NewMCPServer creates and configures a new MCP server
func NewMCPServer(cfg Config, bridge *Bridge, audit *AuditLogger) *MCPServer {
	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	ms := &MCPServer{
		server:       mcpServer,
		bridge:       bridge,
		auditLogger:  audit,
		toolRegistry: tools.NewToolHandlerRegistry(),
		logger:       slog.Default(),
	}

	ms.registerTools()

	return ms
}

// registerTools registers all MCP tools with handlers
func (ms *MCPServer) registerTools() {
	collectTool := mcp.NewTool(config.ToolCollectFeedback,
		mcp.WithDescription("Ask a human for feedback in the browser and wait for the answer. "+
			"Blocks until the respondent submits text and/or files, or the configured timeout passes."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("What you did and what feedback you need"),
		),
	)
	ms.toolRegistry.Register(collectTool, ms.handleCollectFeedback)

	statusTool := mcp.NewTool(config.ToolFeedbackStatus,
		mcp.WithDescription("Report the feedback server URL, port and number of pending sessions"),
	)
	ms.toolRegistry.Register(statusTool, ms.handleFeedbackStatus)

	ms.toolRegistry.Install(ms.server)
}

// handleCollectFeedback implements the collect_feedback tool
func (ms *MCPServer) handleCollectFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil || prompt == "" {
		return mcp.NewToolResultError(config.ErrEmptyPromptMsg), nil
	}

	clientID := clientSessionID(ctx)
	start := time.Now()
	ms.auditLogger.LogToolCall(ctx, &AuditEntry{
		SessionID: clientID,
		ToolName:  config.ToolCollectFeedback,
		Arguments: map[string]interface{}{"prompt_len": len(prompt)},
		Timestamp: start,
	})

	result, err := ms.bridge.RequestFeedback(ctx, prompt)
	if err != nil {
		ms.auditLogger.LogToolResult(ctx, &AuditEntry{
			SessionID: clientID,
			ToolName:  config.ToolCollectFeedback,
			ErrorMsg:  err.Error(),
			Duration:  time.Since(start),
		})
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.auditLogger.LogToolResult(ctx, &AuditEntry{
		SessionID: clientID,
		ToolName:  config.ToolCollectFeedback,
		Outcome:   fmt.Sprintf("completed with %d response(s)", len(result.Responses)),
		Duration:  time.Since(start),
	})
	return buildFeedbackResult(result), nil
}

// handleFeedbackStatus implements the feedback_status tool
func (ms *MCPServer) handleFeedbackStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := ms.bridge.Status()
	return mcp.NewToolResultText(fmt.Sprintf(config.MsgStatus, st.Listening, st.URL, st.Port, st.ActiveSessions)), nil
}

// clientSessionID returns the MCP client session id, if the transport has one
func clientSessionID(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		return cs.SessionID()
	}
	return ""
}

// Server returns the underlying mcp-go server for serving
func (ms *MCPServer) Server() *server.MCPServer {
	return ms.server
}

// Tools returns the registered tool names
func (ms *MCPServer) Tools() []string {
	return ms.toolRegistry.Names()
}
