package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/AltairaLabs/feedback-mcp/internal/coordinator/config"
	"github.com/AltairaLabs/feedback-mcp/internal/process"
)

// Notifier tells a human that a feedback URL is waiting.
type Notifier interface {
	Notify(ctx context.Context, url string) error
}

// LogNotifier only logs the URL.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, url string) error {
	n.logger.InfoContext(ctx, fmt.Sprintf(config.MsgOpenFeedback, url), "url", url)
	return nil
}

// BrowserNotifier opens the URL with the platform opener, and logs it too.
type BrowserNotifier struct {
	exec process.CommandExecutor
	goos string
	log  *LogNotifier
}

// NewBrowserNotifier creates a BrowserNotifier for the running platform.
func NewBrowserNotifier(executor process.CommandExecutor, logger *slog.Logger) *BrowserNotifier {
	return &BrowserNotifier{exec: executor, goos: runtime.GOOS, log: NewLogNotifier(logger)}
}

// Notify implements Notifier.
func (n *BrowserNotifier) Notify(ctx context.Context, url string) error {
	_ = n.log.Notify(ctx, url)

	name, args := openCommand(n.goos, url)
	if err := n.exec.Run(ctx, name, args...); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}

func openCommand(goos, url string) (string, []string) {
	switch goos {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	case "darwin":
		return "open", []string{url}
	default:
		return "xdg-open", []string{url}
	}
}
