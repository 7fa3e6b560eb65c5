// Package web serves the respondent page, its JSON API and the /ws event
// channel.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AltairaLabs/feedback-mcp/internal/types"
)

//go:embed static
var staticFiles embed.FS

// DefaultMaxBodyBytes bounds POST bodies and websocket messages.
const DefaultMaxBodyBytes = 64 << 20

const writeTimeout = 5 * time.Second

// Respondent is the core side of the respondent events.
type Respondent interface {
	ActiveSession() (types.SessionInfo, bool)
	Submit(ctx context.Context, req types.SubmitRequest) (types.SubmitReceipt, error)
	LatestPrompt(since string) types.PromptUpdate
}

// Server is the respondent-facing HTTP server.
type Server struct {
	respondent   Respondent
	router       chi.Router
	httpServer   *http.Server
	logger       *slog.Logger
	maxBodyBytes int64

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// NewServer builds the router. Nothing listens until Serve.
func NewServer(respondent Respondent, opts ...Option) *Server {
	s := &Server{
		respondent:   respondent,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// stdout carries the MCP stdio stream, so request logs go through slog
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	page, _ := fs.Sub(staticFiles, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(page))))
	r.Get("/", s.handleIndex)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/session", s.handleSession)
		r.Get("/prompt", s.handlePrompt)
		r.Post("/submit", s.handleSubmit)
	})
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Respondent server listening", "address", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes websocket clients then stops the HTTP server, which also
// closes its listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	for c := range s.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_, active := s.respondent.ActiveSession()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"activeSession": active,
		"clients":       s.Clients(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	info, ok := s.respondent.ActiveSession()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.respondent.LatestPrompt(r.URL.Query().Get("since")))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var req types.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: err.Error()})
		return
	}

	receipt, err := s.respondent.Submit(r.Context(), req)
	if err != nil {
		status, body := rejection(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// rejection maps a Submit error to a status and body.
func rejection(err error) (int, errorBody) {
	switch {
	case errors.Is(err, types.ErrUnknownSession):
		return http.StatusNotFound, errorBody{Error: types.ErrUnknownSession.Error()}
	case errors.Is(err, types.ErrEmptySubmission):
		return http.StatusBadRequest, errorBody{Error: types.ErrEmptySubmission.Error()}
	case errors.Is(err, types.ErrInvalidAttachment):
		return http.StatusBadRequest, errorBody{Error: types.ErrInvalidAttachment.Error(), Detail: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal_error", Detail: err.Error()}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
