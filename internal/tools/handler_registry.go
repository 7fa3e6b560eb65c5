// Package tools pairs MCP tool definitions with their handlers so the
// coordinator can install them on a server in one pass.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolHandlerFunc is a function that handles a tool call
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Entry is a tool definition and its handler
type Entry struct {
	Tool    mcp.Tool
	Handler ToolHandlerFunc
}

// ToolHandlerRegistry maps tool names to entries
type ToolHandlerRegistry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewToolHandlerRegistry creates a registry seeded with initial
func NewToolHandlerRegistry(initial ...Entry) *ToolHandlerRegistry {
	r := &ToolHandlerRegistry{
		entries: make(map[string]Entry),
	}
	for _, e := range initial {
		r.entries[e.Tool.Name] = e
	}
	return r
}

// Register adds or replaces the entry for tool.Name
func (r *ToolHandlerRegistry) Register(tool mcp.Tool, handler ToolHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tool.Name] = Entry{Tool: tool, Handler: handler}
}

// GetHandler returns the handler function for a given tool name
func (r *ToolHandlerRegistry) GetHandler(toolName string) (ToolHandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[toolName]
	if !ok {
		return nil, fmt.Errorf("no handler registered for tool: %s", toolName)
	}
	return e.Handler, nil
}

// Names returns the registered tool names in sorted order
func (r *ToolHandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Install adds every registered tool to s
func (r *ToolHandlerRegistry) Install(s *server.MCPServer) {
	for _, name := range r.Names() {
		r.mu.RLock()
		e := r.entries[name]
		r.mu.RUnlock()
		s.AddTool(e.Tool, server.ToolHandlerFunc(e.Handler))
	}
}
