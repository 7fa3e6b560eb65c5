package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/feedback-mcp/internal/types"
)

type fakeRespondent struct {
	mu        sync.Mutex
	active    *types.SessionInfo
	submitted []types.SubmitRequest
	submitErr error
}

func (f *fakeRespondent) ActiveSession() (types.SessionInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return types.SessionInfo{}, false
	}
	return *f.active, true
}

func (f *fakeRespondent) Submit(_ context.Context, req types.SubmitRequest) (types.SubmitReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return types.SubmitReceipt{}, f.submitErr
	}
	if req.Empty() {
		return types.SubmitReceipt{}, types.ErrEmptySubmission
	}
	if f.active == nil || req.SessionID != f.active.ID {
		return types.SubmitReceipt{}, types.ErrUnknownSession
	}
	f.submitted = append(f.submitted, req)
	return types.SubmitReceipt{SessionID: req.SessionID, Attachments: len(req.Attachments), Status: "completed"}, nil
}

func (f *fakeRespondent) LatestPrompt(since string) types.PromptUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil || f.active.ID == since {
		return types.PromptUpdate{}
	}
	return types.PromptUpdate{Changed: true, SessionID: f.active.ID, Prompt: f.active.Prompt}
}

func (f *fakeRespondent) setActive(info *types.SessionInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = info
}

func newActive() *fakeRespondent {
	return &fakeRespondent{active: &types.SessionInfo{ID: "abc", Prompt: "did X"}}
}

func TestIndexPage(t *testing.T) {
	srv := NewServer(newActive())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/ws")
}

func TestAPISession(t *testing.T) {
	f := newActive()
	srv := NewServer(f)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info types.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "abc", info.ID)

	f.setActive(nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"no active session"}`, rec.Body.String())
}

func TestAPIHealth(t *testing.T) {
	srv := NewServer(newActive())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","activeSession":true,"clients":0}`, rec.Body.String())
}

func TestAPIPrompt(t *testing.T) {
	srv := NewServer(newActive())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/prompt", nil))
	assert.JSONEq(t, `{"changed":true,"sessionId":"abc","prompt":"did X"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/prompt?since=abc", nil))
	assert.JSONEq(t, `{"changed":false}`, rec.Body.String())
}

func TestAPISubmit(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
		wantError  string
	}{
		{name: "accepted", body: `{"sessionId":"abc","text":"looks good"}`, wantStatus: http.StatusOK},
		{name: "unknown session", body: `{"sessionId":"zzz","text":"hi"}`, wantStatus: http.StatusNotFound, wantError: "session_not_found"},
		{name: "empty", body: `{"sessionId":"abc"}`, wantStatus: http.StatusBadRequest, wantError: "empty_submission"},
		{name: "malformed", body: `{`, wantStatus: http.StatusBadRequest, wantError: "invalid_request"},
		{
			name:       "bad attachment",
			body:       `{"sessionId":"abc","text":"x"}`,
			submitErr:  fmt.Errorf("%w: too large", types.ErrInvalidAttachment),
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_attachment",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newActive()
			f.submitErr = tt.submitErr
			srv := NewServer(f)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/submit", strings.NewReader(tt.body))
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				var body errorBody
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantError, body.Error)
			}
		})
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg Message) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
	var ev Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	return ev
}

func TestWebSocketEvents(t *testing.T) {
	f := newActive()
	srv := NewServer(f)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)

	ev := roundTrip(t, conn, Message{Type: MsgGetActiveSession})
	assert.Equal(t, EventActiveSession, ev.Type)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "did X", ev.Session.Prompt)

	ev = roundTrip(t, conn, Message{Type: MsgGetLatestPrompt, Since: "abc"})
	assert.Equal(t, EventPromptUnchanged, ev.Type)

	ev = roundTrip(t, conn, Message{Type: MsgGetLatestPrompt, Since: "older"})
	assert.Equal(t, EventPromptChanged, ev.Type)
	assert.Equal(t, "abc", ev.Prompt.SessionID)

	ev = roundTrip(t, conn, Message{Type: MsgSubmitFeedback, SessionID: "abc"})
	assert.Equal(t, EventSubmitResult, ev.Type)
	assert.Equal(t, "empty_submission", ev.Error)

	ev = roundTrip(t, conn, Message{Type: MsgSubmitFeedback, SessionID: "gone", Text: "hi"})
	assert.Equal(t, "session_not_found", ev.Error)

	ev = roundTrip(t, conn, Message{Type: MsgSubmitFeedback, SessionID: "abc", Text: "looks good"})
	assert.Empty(t, ev.Error)
	require.NotNil(t, ev.Receipt)
	assert.Equal(t, "completed", ev.Receipt.Status)

	ev = roundTrip(t, conn, Message{Type: "bogus"})
	assert.Equal(t, EventError, ev.Type)

	f.setActive(nil)
	ev = roundTrip(t, conn, Message{Type: MsgGetActiveSession})
	assert.Equal(t, EventNoActiveSession, ev.Type)
}

func TestBroadcastSessionCreated(t *testing.T) {
	srv := NewServer(newActive())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	a := dialWS(t, ts)
	b := dialWS(t, ts)
	require.Eventually(t, func() bool { return srv.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	srv.SessionCreated(context.Background(), types.SessionInfo{ID: "new", Prompt: "did Y"})

	for _, conn := range []*websocket.Conn{a, b} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var ev Event
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		cancel()
		assert.Equal(t, EventSessionCreated, ev.Type)
		assert.Equal(t, "new", ev.Session.ID)
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv := NewServer(newActive())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/api/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-errCh)

	// listener is closed with the server
	again, err := net.Listen("tcp", ln.Addr().String())
	require.NoError(t, err)
	again.Close()
}
