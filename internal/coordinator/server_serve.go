package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/server"
)

// This file contains server startup methods that block on real transports.
// They are exercised through the command rather than unit tests.

// Serve runs the MCP server over stdio until ctx is canceled or stdin closes
func (ms *MCPServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(ms.server)
	stdio.SetErrorLogger(slog.NewLogLogger(ms.logger.Handler(), slog.LevelError))

	ms.logger.Info("Starting MCP server with stdio transport")
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ServeHTTP runs the MCP server with HTTP/SSE transport on addr until ctx is canceled
func (ms *MCPServer) ServeHTTP(ctx context.Context, addr string) error {
	sseServer := server.NewSSEServer(ms.server,
		server.WithBaseURL("http://"+addr),
		server.WithStaticBasePath("/mcp"),
	)

	errCh := make(chan error, 1)
	go func() {
		ms.logger.Info("Starting MCP server with HTTP/SSE transport", "address", addr, "base_path", "/mcp")
		errCh <- sseServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		if err := sseServer.Shutdown(context.Background()); err != nil {
			return err
		}
		return nil
	}
}
