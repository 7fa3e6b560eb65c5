package tools

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func TestRegisterAndGet(t *testing.T) {
	const (
		toolA = "test_tool"
		toolB = "other_tool"
	)

	called := false
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called = true
		return mcp.NewToolResultText("ok"), nil
	}

	r := NewToolHandlerRegistry(Entry{Tool: mcp.NewTool(toolA), Handler: handler})

	h, err := r.GetHandler(toolA)
	if err != nil {
		t.Fatalf("expected handler, got error: %v", err)
	}

	var req mcp.CallToolRequest
	res, err := h(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if res == nil {
		t.Fatalf("expected non-nil result")
	}
	if !called {
		t.Fatalf("expected handler to be called")
	}

	handler2 := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok2"), nil
	}
	r.Register(mcp.NewTool(toolB), handler2)

	names := r.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(names))
	}
	if names[0] != toolB || names[1] != toolA {
		t.Fatalf("expected sorted names [%s %s], got %v", toolB, toolA, names)
	}
}

func TestMissingHandler(t *testing.T) {
	r := NewToolHandlerRegistry()
	if _, err := r.GetHandler("nope"); err == nil {
		t.Fatalf("expected error for missing handler")
	}
}

func TestInstall(t *testing.T) {
	r := NewToolHandlerRegistry()
	r.Register(mcp.NewTool("alpha"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("a"), nil
	})
	r.Register(mcp.NewTool("beta"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("b"), nil
	})

	s := server.NewMCPServer("test", "0.0.0", server.WithToolCapabilities(true))
	r.Install(s)

	installed := s.ListTools()
	if len(installed) != 2 {
		t.Fatalf("expected 2 installed tools, got %d", len(installed))
	}
	for _, name := range []string{"alpha", "beta"} {
		if _, ok := installed[name]; !ok {
			t.Errorf("expected tool %s to be installed", name)
		}
	}
}
