package web

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/AltairaLabs/feedback-mcp/internal/types"
)

// Client to server message types.
const (
	MsgGetActiveSession = "get_active_session"
	MsgSubmitFeedback   = "submit_feedback"
	MsgGetLatestPrompt  = "get_latest_prompt"
)

// Server to client event types.
const (
	EventActiveSession   = "active_session"
	EventNoActiveSession = "no_active_session"
	EventSubmitResult    = "submit_result"
	EventPromptChanged   = "prompt_changed"
	EventPromptUnchanged = "prompt_unchanged"
	EventSessionCreated  = "session_created"
	EventError           = "error"
)

// Message is sent by the respondent page.
type Message struct {
	Type        string                  `json:"type"`
	SessionID   string                  `json:"sessionId,omitempty"`
	Text        string                  `json:"text,omitempty"`
	Attachments []types.AttachmentInput `json:"attachments,omitempty"`
	// Since is the last prompt session id the page has seen
	Since string `json:"since,omitempty"`
}

// Event is sent to the respondent page.
type Event struct {
	Type    string               `json:"type"`
	Session *types.SessionInfo   `json:"session,omitempty"`
	Receipt *types.SubmitReceipt `json:"receipt,omitempty"`
	Prompt  *types.PromptUpdate  `json:"prompt,omitempty"`
	Error   string               `json:"error,omitempty"`
	Detail  string               `json:"detail,omitempty"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, ev)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("ws: accept failed", "error", err)
		return
	}
	conn.SetReadLimit(s.maxBodyBytes)

	c := &client{conn: conn}
	s.addClient(c)
	s.logger.Debug("ws: client connected", "clients", s.Clients())
	defer func() {
		s.removeClient(c)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("ws: read error, closing", "error", err)
			}
			return
		}
		if err := c.write(ctx, s.dispatch(ctx, msg)); err != nil {
			s.logger.Debug("ws: write error", "type", msg.Type, "error", err)
			return
		}
	}
}

// dispatch answers one respondent message.
func (s *Server) dispatch(ctx context.Context, msg Message) Event {
	switch msg.Type {
	case MsgGetActiveSession:
		info, ok := s.respondent.ActiveSession()
		if !ok {
			return Event{Type: EventNoActiveSession}
		}
		return Event{Type: EventActiveSession, Session: &info}

	case MsgSubmitFeedback:
		receipt, err := s.respondent.Submit(ctx, types.SubmitRequest{
			SessionID:   msg.SessionID,
			Text:        msg.Text,
			Attachments: msg.Attachments,
		})
		if err != nil {
			_, body := rejection(err)
			return Event{Type: EventSubmitResult, Error: body.Error, Detail: body.Detail}
		}
		return Event{Type: EventSubmitResult, Receipt: &receipt}

	case MsgGetLatestPrompt:
		update := s.respondent.LatestPrompt(msg.Since)
		if !update.Changed {
			return Event{Type: EventPromptUnchanged, Prompt: &update}
		}
		return Event{Type: EventPromptChanged, Prompt: &update}

	default:
		return Event{Type: EventError, Error: "unknown_message_type", Detail: msg.Type}
	}
}

// Broadcast sends ev to every connected client. Failed clients are dropped.
func (s *Server) Broadcast(ctx context.Context, ev Event) {
	s.clientsMu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range targets {
		if err := c.write(ctx, ev); err != nil {
			s.logger.Debug("ws: broadcast failed, dropping client", "type", ev.Type, "error", err)
			s.removeClient(c)
			_ = c.conn.Close(websocket.StatusInternalError, "write failed")
		}
	}
}

// SessionCreated pushes a session_created event.
func (s *Server) SessionCreated(ctx context.Context, info types.SessionInfo) {
	s.Broadcast(ctx, Event{Type: EventSessionCreated, Session: &info})
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}
