package coordinator

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/feedback-mcp/internal/coordinator/config"
	"github.com/AltairaLabs/feedback-mcp/internal/payload"
)

// buildFeedbackResult renders responses as one text block followed by one
// image block per image attachment.
func buildFeedbackResult(res *FeedbackResult) *mcp.CallToolResult {
	if len(res.Responses) == 0 {
		return mcp.NewToolResultText(config.MsgNoResponses)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, config.MsgFeedbackHeader, len(res.Responses))
	var images []mcp.Content

	for i, r := range res.Responses {
		fmt.Fprintf(&sb, "\n\n[%d] %s", i+1, r.SubmittedAt.UTC().Format(time.RFC3339))
		if r.Text != "" {
			sb.WriteString("\n")
			sb.WriteString(r.Text)
		}
		for _, a := range r.Attachments {
			if payload.IsImage(a) {
				fmt.Fprintf(&sb, "\n(image attached: %s, %s, %d bytes)", a.Name, a.MimeType, a.Size)
				images = append(images, mcp.NewImageContent(base64.StdEncoding.EncodeToString(a.Data), a.MimeType))
				continue
			}
			fmt.Fprintf(&sb, "\n(file attached: %s, %s, %d bytes)", a.Name, a.MimeType, a.Size)
		}
	}

	content := make([]mcp.Content, 0, 1+len(images))
	content = append(content, mcp.NewTextContent(sb.String()))
	content = append(content, images...)
	return &mcp.CallToolResult{Content: content}
}
