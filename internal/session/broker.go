// Package session implements the feedback session broker: the table of
// in-flight feedback requests, each pairing a one-shot continuation with a
// wall-clock deadline.
//
// Every terminal transition (resolve, expiry, abort) happens under a single
// mutex in the same step that deletes the session from the table and sends
// its Outcome, so a continuation fires exactly once no matter which path
// gets there first.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AltairaLabs/feedback-mcp/internal/metrics"
)

const (
	// MinTimeout is the shortest session timeout accepted by default
	MinTimeout = 10 * time.Second
	// MaxTimeout is the longest session timeout accepted by default
	MaxTimeout = 60000 * time.Second
	// DefaultTombstoneTTL is how long finished ids are remembered
	DefaultTombstoneTTL = time.Hour
)

// ErrEmptyID is returned by Create for an empty id
var ErrEmptyID = errors.New("session id must not be empty")

// Clock abstracts time for the broker.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type tombstone struct {
	state State
	at    time.Time
}

type finished struct {
	state    State
	lifetime time.Duration
}

// Broker owns all feedback sessions.
type Broker struct {
	mu         sync.Mutex
	sessions   map[string]*session
	tombstones map[string]tombstone
	seq        uint64
	closed     bool

	clock        Clock
	minTimeout   time.Duration
	maxTimeout   time.Duration
	tombstoneTTL time.Duration
	timers       bool
	recorder     metrics.Recorder
	logger       *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(b *Broker) { b.clock = c }
}

// WithTimeoutBounds overrides the accepted timeout range.
func WithTimeoutBounds(minTimeout, maxTimeout time.Duration) Option {
	return func(b *Broker) {
		b.minTimeout = minTimeout
		b.maxTimeout = maxTimeout
	}
}

// WithoutTimers disables per-session deadline timers; only Sweep and lazy
// checks on read expire sessions.
func WithoutTimers() Option {
	return func(b *Broker) { b.timers = false }
}

// WithTombstoneTTL sets how long finished ids are remembered.
func WithTombstoneTTL(d time.Duration) Option {
	return func(b *Broker) { b.tombstoneTTL = d }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(b *Broker) { b.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates an empty broker. Per-session timers are armed by default
// so sessions expire at their deadline; the sweep loop is a backstop.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		sessions:     make(map[string]*session),
		tombstones:   make(map[string]tombstone),
		clock:        realClock{},
		minTimeout:   MinTimeout,
		maxTimeout:   MaxTimeout,
		tombstoneTTL: DefaultTombstoneTTL,
		timers:       true,
		recorder:     metrics.Nop{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create registers a new Active session.
func (b *Broker) Create(id, prompt string, timeout time.Duration) (*Handle, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if timeout < b.minTimeout || timeout > b.maxTimeout {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidTimeout, timeout, b.minTimeout, b.maxTimeout)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrShutdown
	}
	if _, ok := b.sessions[id]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if _, ok := b.tombstones[id]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	now := b.clock.Now()
	b.seq++
	s := &session{
		id:        id,
		prompt:    prompt,
		createdAt: now,
		deadline:  now.Add(timeout),
		timeout:   timeout,
		state:     StateActive,
		seq:       b.seq,
		done:      make(chan Outcome, 1),
	}
	b.sessions[id] = s
	if b.timers {
		seq := s.seq
		s.stopTimer = b.clock.AfterFunc(timeout, func() { b.expireOnTimer(id, seq) })
	}
	b.mu.Unlock()

	b.recorder.SessionStarted(context.Background())
	b.logger.Debug("session created", "session_id", id, "timeout", timeout)

	return &Handle{
		ID:        id,
		Prompt:    prompt,
		CreatedAt: s.createdAt,
		Deadline:  s.deadline,
		Timeout:   timeout,
		done:      s.done,
	}, nil
}

// Get returns a copy of a live session. A session past its deadline is
// expired on the spot and reported as ErrNotFound.
func (b *Broker) Get(id string) (Snapshot, error) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	if !ok {
		b.mu.Unlock()
		return Snapshot{}, ErrNotFound
	}
	if b.pastDeadline(s, b.clock.Now()) {
		ev := b.expireLocked(s)
		b.mu.Unlock()
		b.observe(ev)
		return Snapshot{}, ErrNotFound
	}
	snap := s.snapshot()
	b.mu.Unlock()
	return snap, nil
}

// AppendResponse adds one submission to an Active session.
func (b *Broker) AppendResponse(id string, resp Response) error {
	b.mu.Lock()
	s, ev, err := b.activeLocked(id)
	if err != nil {
		b.mu.Unlock()
		b.observe(ev...)
		return err
	}
	if resp.SubmittedAt.IsZero() {
		resp.SubmittedAt = b.clock.Now()
	}
	s.responses = append(s.responses, resp)
	b.mu.Unlock()
	return nil
}

// Resolve completes an Active session, delivering its responses.
func (b *Broker) Resolve(id string) error {
	b.mu.Lock()
	s, ev, err := b.activeLocked(id)
	if err != nil {
		b.mu.Unlock()
		b.observe(ev...)
		return err
	}
	responses := make([]Response, len(s.responses))
	copy(responses, s.responses)
	done := b.finishLocked(s, StateCompleted, Outcome{Responses: responses})
	b.mu.Unlock()

	b.observe(done)
	b.logger.Info("session completed", "session_id", id, "responses", len(responses))
	return nil
}

// Abort cancels an Active session with reason (ErrShutdown when nil).
func (b *Broker) Abort(id string, reason error) error {
	if reason == nil {
		reason = ErrShutdown
	}
	b.mu.Lock()
	s, ev, err := b.activeLocked(id)
	if err != nil {
		b.mu.Unlock()
		b.observe(ev...)
		return err
	}
	done := b.finishLocked(s, StateAborted, Outcome{Err: reason})
	b.mu.Unlock()

	b.observe(done)
	b.logger.Info("session aborted", "session_id", id, "reason", reason)
	return nil
}

// Sweep expires every Active session whose deadline is at or before now
// and returns how many were expired.
func (b *Broker) Sweep(now time.Time) int {
	b.mu.Lock()
	var events []finished
	for _, s := range b.sessions {
		if b.pastDeadline(s, now) {
			events = append(events, b.expireLocked(s))
		}
	}
	for id, ts := range b.tombstones {
		if now.Sub(ts.at) > b.tombstoneTTL {
			delete(b.tombstones, id)
		}
	}
	b.mu.Unlock()

	b.observe(events...)
	return len(events)
}

// ShutdownAll aborts every remaining session with ErrShutdown and refuses
// further Create calls. It returns the number of sessions aborted.
func (b *Broker) ShutdownAll() int {
	b.mu.Lock()
	b.closed = true
	events := make([]finished, 0, len(b.sessions))
	for _, s := range b.sessions {
		events = append(events, b.finishLocked(s, StateAborted, Outcome{Err: ErrShutdown}))
	}
	b.mu.Unlock()

	b.observe(events...)
	if len(events) > 0 {
		b.logger.Info("aborted sessions on shutdown", "count", len(events))
	}
	return len(events)
}

// Latest returns the most recently created Active session.
func (b *Broker) Latest() (Snapshot, bool) {
	b.mu.Lock()
	now := b.clock.Now()
	var newest *session
	var events []finished
	for _, s := range b.sessions {
		if b.pastDeadline(s, now) {
			events = append(events, b.expireLocked(s))
			continue
		}
		if newest == nil || s.seq > newest.seq {
			newest = s
		}
	}
	var snap Snapshot
	if newest != nil {
		snap = newest.snapshot()
	}
	b.mu.Unlock()

	b.observe(events...)
	return snap, newest != nil
}

// Count returns the number of live sessions.
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Run sweeps expired sessions every interval until ctx is canceled.
func (b *Broker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.logger.Info("Session sweeper started", "interval", interval)

	for {
		select {
		case <-ticker.C:
			if n := b.Sweep(b.clock.Now()); n > 0 {
				b.logger.Info("Expired feedback sessions", "count", n)
			}
		case <-ctx.Done():
			b.logger.Info("Session sweeper stopped")
			return
		}
	}
}

func (b *Broker) expireOnTimer(id string, seq uint64) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	if !ok || s.seq != seq || !b.pastDeadline(s, b.clock.Now()) {
		b.mu.Unlock()
		return
	}
	ev := b.expireLocked(s)
	b.mu.Unlock()

	b.observe(ev)
}

// activeLocked looks up id for a mutating call, expiring it if its deadline
// has passed. Caller must hold b.mu.
func (b *Broker) activeLocked(id string) (*session, []finished, error) {
	s, ok := b.sessions[id]
	if !ok {
		if _, gone := b.tombstones[id]; gone {
			return nil, nil, ErrAlreadyTerminal
		}
		return nil, nil, ErrNotFound
	}
	if b.pastDeadline(s, b.clock.Now()) {
		return nil, []finished{b.expireLocked(s)}, ErrAlreadyTerminal
	}
	return s, nil, nil
}

func (b *Broker) pastDeadline(s *session, now time.Time) bool {
	return !now.Before(s.deadline)
}

// Caller must hold b.mu.
func (b *Broker) expireLocked(s *session) finished {
	b.logger.Info("session expired", "session_id", s.id, "timeout", s.timeout)
	return b.finishLocked(s, StateExpired, Outcome{Err: &TimeoutError{Timeout: s.timeout}})
}

// finishLocked is the only place a continuation is fired. Caller must hold
// b.mu and s must still be in the table.
func (b *Broker) finishLocked(s *session, state State, out Outcome) finished {
	s.state = state
	delete(b.sessions, s.id)
	now := b.clock.Now()
	b.tombstones[s.id] = tombstone{state: state, at: now}
	if s.stopTimer != nil {
		s.stopTimer()
	}
	s.done <- out
	return finished{state: state, lifetime: now.Sub(s.createdAt)}
}

func (b *Broker) observe(events ...finished) {
	for _, ev := range events {
		b.recorder.SessionFinished(context.Background(), string(ev.state), ev.lifetime)
	}
}
