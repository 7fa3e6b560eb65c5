// Package payload turns respondent attachments into decoded bytes.
package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/AltairaLabs/feedback-mcp/internal/session"
	"github.com/AltairaLabs/feedback-mcp/internal/types"
)

// DefaultMaxBytes is the per-attachment cap.
const DefaultMaxBytes = 10 << 20

var (
	// ErrAttachmentTooLarge is returned when a decoded attachment exceeds the cap
	ErrAttachmentTooLarge = errors.New("attachment too large")
	// ErrInvalidEncoding is returned for data that is neither base64 nor a base64 data URL
	ErrInvalidEncoding = errors.New("attachment is not valid base64")
)

// Processor decodes and sniffs attachments.
type Processor struct {
	MaxBytes int
}

// NewProcessor returns a Processor capped at maxBytes (DefaultMaxBytes when <= 0).
func NewProcessor(maxBytes int) *Processor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Processor{MaxBytes: maxBytes}
}

// Decode converts every input into a session.Attachment.
func (p *Processor) Decode(inputs []types.AttachmentInput) ([]session.Attachment, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	out := make([]session.Attachment, 0, len(inputs))
	for i, in := range inputs {
		att, err := p.decodeOne(in)
		if err != nil {
			name := in.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("attachment %s: %w", name, err)
		}
		out = append(out, att)
	}
	return out, nil
}

func (p *Processor) decodeOne(in types.AttachmentInput) (session.Attachment, error) {
	mimeType := in.MimeType
	encoded := in.Data

	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return session.Attachment{}, ErrInvalidEncoding
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(header, ";base64")
		}
		encoded = body
	}

	// reject before allocating the decoded buffer
	if base64.StdEncoding.DecodedLen(len(encoded)) > p.MaxBytes+2 {
		return session.Attachment{}, fmt.Errorf("%w: limit %d bytes", ErrAttachmentTooLarge, p.MaxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return session.Attachment{}, ErrInvalidEncoding
		}
	}
	if len(data) > p.MaxBytes {
		return session.Attachment{}, fmt.Errorf("%w: %d > %d bytes", ErrAttachmentTooLarge, len(data), p.MaxBytes)
	}

	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = sniff(data)
	}

	name := path.Base(strings.ReplaceAll(in.Name, "\\", "/"))
	if name == "." || name == "/" {
		name = "attachment"
	}

	return session.Attachment{
		Name:     name,
		MimeType: mimeType,
		Data:     data,
		Size:     len(data),
	}, nil
}

func sniff(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// IsImage reports whether an attachment should be returned as image content.
func IsImage(a session.Attachment) bool {
	return strings.HasPrefix(a.MimeType, "image/")
}
