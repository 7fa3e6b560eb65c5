// Package types provides the wire and audit types shared by the coordinator
// and the respondent transport
package types

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownSession rejects a submission for a session that does not exist or has expired
	ErrUnknownSession = errors.New("session_not_found")
	// ErrEmptySubmission rejects a submission with neither text nor attachments
	ErrEmptySubmission = errors.New("empty_submission")
	// ErrInvalidAttachment rejects a submission whose attachments cannot be decoded or are too large
	ErrInvalidAttachment = errors.New("invalid_attachment")
)

// SessionInfo describes the active feedback session to a respondent
type SessionInfo struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
	Deadline  time.Time `json:"deadline"`
}

// AttachmentInput is an attachment as sent by the respondent page
type AttachmentInput struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	// Data is base64 or a data: URL
	Data string `json:"data"`
}

// SubmitRequest is one respondent submission
type SubmitRequest struct {
	SessionID   string            `json:"sessionId"`
	Text        string            `json:"text"`
	Attachments []AttachmentInput `json:"attachments,omitempty"`
}

// Empty reports whether the request carries neither text nor attachments
func (r SubmitRequest) Empty() bool {
	return r.Text == "" && len(r.Attachments) == 0
}

// SubmitReceipt acknowledges an accepted submission
type SubmitReceipt struct {
	SessionID   string `json:"sessionId"`
	Attachments int    `json:"attachments"`
	Status      string `json:"status"`
}

// PromptUpdate answers a latest-prompt query
type PromptUpdate struct {
	Changed   bool   `json:"changed"`
	SessionID string `json:"sessionId,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// AuditEntry represents an audit log entry for tool calls and results
type AuditEntry struct {
	SessionID string
	ToolName  string
	Arguments map[string]interface{}
	Outcome   string
	ErrorMsg  string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditLogger provides audit logging operations
type AuditLogger interface {
	LogToolCall(ctx context.Context, entry *AuditEntry)
	LogToolResult(ctx context.Context, entry *AuditEntry)
}
