package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/feedback-mcp/internal/coordinator/config"
	"github.com/AltairaLabs/feedback-mcp/internal/payload"
	"github.com/AltairaLabs/feedback-mcp/internal/session"
	"github.com/AltairaLabs/feedback-mcp/internal/types"
	"github.com/AltairaLabs/feedback-mcp/internal/web"
)

var (
	// ErrStartup wraps any failure to bring the respondent server up
	ErrStartup = errors.New("feedback server failed to start")
	// ErrUnknownSession rejects submissions for missing or expired sessions
	ErrUnknownSession = types.ErrUnknownSession
	// ErrEmptySubmission rejects submissions with neither text nor attachments
	ErrEmptySubmission = types.ErrEmptySubmission
)

// PortNegotiator is the subset of ports.Negotiator used by the bridge.
type PortNegotiator interface {
	FindAvailable(ctx context.Context, preferred int) (int, error)
	ForcePort(ctx context.Context, port int, allowKill bool) (int, error)
	WaitForRelease(ctx context.Context, port int, timeout time.Duration) error
}

// BridgeConfig controls how the bridge listens and creates sessions.
type BridgeConfig struct {
	Host           string
	Port           int
	ForcePort      bool
	KillOnConflict bool
	UseFixedURL    bool
	Timeout        time.Duration
	MaxBodyBytes   int64
	ReleaseWait    time.Duration
	ShutdownWait   time.Duration
}

// BridgeConfigFrom maps the environment configuration onto a BridgeConfig.
func BridgeConfigFrom(cfg *config.Config) BridgeConfig {
	return BridgeConfig{
		Host:           cfg.WebHost,
		Port:           cfg.WebPort,
		ForcePort:      cfg.ForcePort,
		KillOnConflict: cfg.KillOnConflict,
		UseFixedURL:    cfg.UseFixedURL,
		Timeout:        cfg.Timeout(),
		// base64 inflates attachments by a third; leave room for several
		MaxBodyBytes: int64(cfg.MaxAttachmentBytes) * 4,
		ReleaseWait:  config.DefaultReleaseWait,
		ShutdownWait: config.DefaultHTTPShutdownTimeout,
	}
}

// FeedbackResult is what a completed session hands back to the caller.
type FeedbackResult struct {
	SessionID string
	URL       string
	Responses []session.Response
}

// Status describes the bridge for the feedback_status tool.
type Status struct {
	Listening      bool
	URL            string
	Port           int
	ActiveSessions int
}

// Bridge connects tool calls to the session broker and the respondent
// server. It implements web.Respondent.
type Bridge struct {
	cfg       BridgeConfig
	broker    *session.Broker
	ports     PortNegotiator
	payload   *payload.Processor
	notifier  Notifier
	logger    *slog.Logger
	newID     func() string
	onServing func(bool)

	mu      sync.Mutex
	started bool
	closed  bool
	port    int
	web     *web.Server
	served  chan struct{}
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// WithIDGenerator replaces uuid session ids.
func WithIDGenerator(f func() string) BridgeOption {
	return func(b *Bridge) { b.newID = f }
}

// WithServingHook is called with true once listening and false on shutdown.
func WithServingHook(f func(serving bool)) BridgeOption {
	return func(b *Bridge) { b.onServing = f }
}

// NewBridge creates a Bridge. Nothing listens until EnsureListening.
func NewBridge(cfg BridgeConfig, broker *session.Broker, ports PortNegotiator, proc *payload.Processor, notifier Notifier, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		cfg:       cfg,
		broker:    broker,
		ports:     ports,
		payload:   proc,
		notifier:  notifier,
		logger:    slog.Default(),
		newID:     uuid.NewString,
		onServing: func(bool) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.notifier == nil {
		b.notifier = NewLogNotifier(b.logger)
	}
	return b
}

// EnsureListening starts the respondent server on first use.
func (b *Bridge) EnsureListening(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	if b.closed {
		return session.ErrShutdown
	}

	port, err := b.negotiate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(b.cfg.Host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}

	opts := []web.Option{web.WithLogger(b.logger)}
	if b.cfg.MaxBodyBytes > 0 {
		opts = append(opts, web.WithMaxBodyBytes(b.cfg.MaxBodyBytes))
	}
	srv := web.NewServer(b, opts...)
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil {
			b.logger.Error("Respondent server stopped", "error", err)
		}
	}()

	b.started = true
	b.port = port
	b.web = srv
	b.served = served
	b.onServing(true)
	b.logger.Info("Feedback server started", "url", b.urlLocked(""))
	return nil
}

func (b *Bridge) negotiate(ctx context.Context) (int, error) {
	if b.cfg.ForcePort {
		return b.ports.ForcePort(ctx, b.cfg.Port, b.cfg.KillOnConflict)
	}
	return b.ports.FindAvailable(ctx, b.cfg.Port)
}

// RequestFeedback registers a session, announces its URL and blocks until
// the session completes, expires, is aborted, or ctx is canceled.
func (b *Bridge) RequestFeedback(ctx context.Context, prompt string) (*FeedbackResult, error) {
	if prompt == "" {
		return nil, session.ErrEmptyPrompt
	}
	if err := b.EnsureListening(ctx); err != nil {
		return nil, err
	}

	id := b.newID()
	h, err := b.broker.Create(id, prompt, b.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	url := b.urlLocked(id)
	srv := b.web
	b.mu.Unlock()

	if srv != nil {
		srv.SessionCreated(ctx, types.SessionInfo{
			ID:        h.ID,
			Prompt:    h.Prompt,
			CreatedAt: h.CreatedAt,
			Deadline:  h.Deadline,
		})
	}
	if err := b.notifier.Notify(ctx, url); err != nil {
		b.logger.Warn("Failed to notify respondent", "url", url, "error", err)
	}

	var out session.Outcome
	select {
	case out = <-h.Done():
	case <-ctx.Done():
		// a lost race means the session already finished; its outcome wins
		_ = b.broker.Abort(id, ctx.Err())
		out = <-h.Done()
	}

	if out.Err != nil {
		return nil, out.Err
	}
	return &FeedbackResult{SessionID: id, URL: url, Responses: out.Responses}, nil
}

// ActiveSession implements web.Respondent.
func (b *Bridge) ActiveSession() (types.SessionInfo, bool) {
	snap, ok := b.broker.Latest()
	if !ok {
		return types.SessionInfo{}, false
	}
	return sessionInfo(snap), true
}

// Submit implements web.Respondent: validate, decode, append, resolve.
func (b *Bridge) Submit(_ context.Context, req types.SubmitRequest) (types.SubmitReceipt, error) {
	if req.Empty() {
		return types.SubmitReceipt{}, ErrEmptySubmission
	}
	atts, err := b.payload.Decode(req.Attachments)
	if err != nil {
		return types.SubmitReceipt{}, fmt.Errorf("%w: %w", types.ErrInvalidAttachment, err)
	}

	resp := session.Response{Text: req.Text, Attachments: atts}
	if err := b.broker.AppendResponse(req.SessionID, resp); err != nil {
		return types.SubmitReceipt{}, submitError(err)
	}
	if err := b.broker.Resolve(req.SessionID); err != nil {
		return types.SubmitReceipt{}, submitError(err)
	}

	b.logger.Info("Feedback submitted", "session_id", req.SessionID,
		"text_len", len(req.Text), "attachments", len(atts))
	return types.SubmitReceipt{
		SessionID:   req.SessionID,
		Attachments: len(atts),
		Status:      string(session.StateCompleted),
	}, nil
}

// LatestPrompt implements web.Respondent.
func (b *Bridge) LatestPrompt(since string) types.PromptUpdate {
	snap, ok := b.broker.Latest()
	if !ok || snap.ID == since {
		return types.PromptUpdate{}
	}
	return types.PromptUpdate{Changed: true, SessionID: snap.ID, Prompt: snap.Prompt}
}

// Shutdown aborts every session, then stops the respondent server and waits
// for its port to be released.
func (b *Bridge) Shutdown(ctx context.Context) {
	if n := b.broker.ShutdownAll(); n > 0 {
		b.logger.Info("Aborted pending feedback sessions", "count", n)
	}

	b.mu.Lock()
	started, srv, port, served := b.started, b.web, b.port, b.served
	b.started = false
	b.closed = true
	b.web = nil
	b.mu.Unlock()

	if !started {
		return
	}
	b.onServing(false)

	sctx, cancel := context.WithTimeout(ctx, b.cfg.ShutdownWait)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		b.logger.Warn("Respondent server shutdown incomplete", "error", err)
	}
	<-served

	if err := b.ports.WaitForRelease(ctx, port, b.cfg.ReleaseWait); err != nil {
		b.logger.Warn("Port not released after shutdown", "port", port, "error", err)
		return
	}
	b.logger.Info("Feedback server stopped", "port", port)
}

// Status reports listening state and session count.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{Listening: b.started, ActiveSessions: b.broker.Count()}
	if b.started {
		st.Port = b.port
		st.URL = b.urlLocked("")
	}
	return st
}

// URL returns the respondent URL for session id.
func (b *Bridge) URL(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.urlLocked(id)
}

func (b *Bridge) urlLocked(id string) string {
	base := "http://localhost:" + strconv.Itoa(b.port) + "/"
	if b.cfg.UseFixedURL || id == "" {
		return base
	}
	return base + "?session=" + id
}

func submitError(err error) error {
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrAlreadyTerminal) {
		return ErrUnknownSession
	}
	return err
}

func sessionInfo(snap session.Snapshot) types.SessionInfo {
	return types.SessionInfo{
		ID:        snap.ID,
		Prompt:    snap.Prompt,
		CreatedAt: snap.CreatedAt,
		Deadline:  snap.Deadline,
	}
}
