// Package ports chooses, vacates and waits on the TCP port used by the
// respondent server.
package ports

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/AltairaLabs/feedback-mcp/internal/metrics"
	"github.com/AltairaLabs/feedback-mcp/internal/process"
)

// Defaults for Config.
const (
	DefaultHost           = "127.0.0.1"
	DefaultRangeSize      = 20
	DefaultRandomAttempts = 10
	DefaultRandomMin      = 49152
	DefaultRandomMax      = 65535
	DefaultProbeTimeout   = time.Second
	DefaultPollInterval   = 200 * time.Millisecond
	DefaultGracefulWait   = 3 * time.Second
	DefaultForceWait      = 2 * time.Second
)

// Config controls negotiation.
type Config struct {
	Host string
	// RangeStart is the first port of the contiguous scan; 0 means the
	// preferred port (or 5000 when none is given).
	RangeStart     int
	RangeSize      int
	RandomAttempts int
	RandomMin      int
	RandomMax      int
	ProbeTimeout   time.Duration
	PollInterval   time.Duration
	// GracefulWait bounds the wait after a graceful terminate before the
	// occupant is force-killed; ForceWait bounds the wait after that.
	GracefulWait time.Duration
	ForceWait    time.Duration
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		RangeSize:      DefaultRangeSize,
		RandomAttempts: DefaultRandomAttempts,
		RandomMin:      DefaultRandomMin,
		RandomMax:      DefaultRandomMax,
		ProbeTimeout:   DefaultProbeTimeout,
		PollInterval:   DefaultPollInterval,
		GracefulWait:   DefaultGracefulWait,
		ForceWait:      DefaultForceWait,
	}
}

// Validate checks the ranges.
func (c Config) Validate() error {
	if c.RangeStart < 0 || c.RangeStart > 65535 {
		return fmt.Errorf("%w: range start %d", ErrInvalidRange, c.RangeStart)
	}
	if c.RangeSize < 1 {
		return fmt.Errorf("%w: range size %d", ErrInvalidRange, c.RangeSize)
	}
	if c.RandomAttempts < 0 {
		return fmt.Errorf("%w: random attempts %d", ErrInvalidRange, c.RandomAttempts)
	}
	if c.RandomMin < 1 || c.RandomMax > 65535 || c.RandomMin > c.RandomMax {
		return fmt.Errorf("%w: random range [%d, %d]", ErrInvalidRange, c.RandomMin, c.RandomMax)
	}
	if c.ProbeTimeout <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("%w: probe timeout and poll interval must be positive", ErrInvalidRange)
	}
	return nil
}

// Prober reports whether a port can be bound right now.
type Prober interface {
	Available(ctx context.Context, port int) bool
}

// ListenProber binds the port and closes the listener immediately.
type ListenProber struct {
	Host    string
	Timeout time.Duration
}

// Available implements Prober.
func (p ListenProber) Available(ctx context.Context, port int) bool {
	if port < 1 || port > 65535 {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(p.Host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	return ln.Close() == nil
}

// Classifier decides whether a port occupant may be killed.
type Classifier interface {
	IsSafeToTerminate(occ process.Occupant) bool
}

// PortRecord is a point-in-time view of one port.
type PortRecord struct {
	Port      int
	Available bool
	Occupant  *process.Occupant
}

// Negotiator implements port selection and conflict handling.
type Negotiator struct {
	cfg        Config
	prober     Prober
	inspector  process.Inspector
	classifier Classifier
	recorder   metrics.Recorder
	logger     *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithProber replaces the listen prober.
func WithProber(p Prober) Option {
	return func(n *Negotiator) { n.prober = p }
}

// WithRand sets the random source used for the fallback scan.
func WithRand(r *rand.Rand) Option {
	return func(n *Negotiator) { n.rng = r }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(n *Negotiator) { n.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Negotiator) { n.logger = l }
}

// NewNegotiator validates cfg and builds a Negotiator.
func NewNegotiator(cfg Config, inspector process.Inspector, classifier Classifier, opts ...Option) (*Negotiator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Negotiator{
		cfg:        cfg,
		prober:     ListenProber{Host: cfg.Host, Timeout: cfg.ProbeTimeout},
		inspector:  inspector,
		classifier: classifier,
		recorder:   metrics.Nop{},
		logger:     slog.Default(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// IsAvailable reports whether port can be bound.
func (n *Negotiator) IsAvailable(ctx context.Context, port int) bool {
	return n.prober.Available(ctx, port)
}

// Inspect reports availability and occupant of port.
func (n *Negotiator) Inspect(ctx context.Context, port int) PortRecord {
	rec := PortRecord{Port: port, Available: n.IsAvailable(ctx, port)}
	if occ, ok := n.inspector.FindOccupant(ctx, port); ok {
		rec.Occupant = occ
	}
	return rec
}

// FindAvailable returns preferred if free, else the first free port of the
// contiguous range, else one of a bounded number of random ports.
// A preferred value of 0 means no preference.
func (n *Negotiator) FindAvailable(ctx context.Context, preferred int) (int, error) {
	if preferred > 0 && n.IsAvailable(ctx, preferred) {
		n.record(ctx, "find", "preferred")
		return preferred, nil
	}

	start := n.cfg.RangeStart
	if start == 0 {
		start = preferred
	}
	if start == 0 {
		start = 5000
	}
	for port := start; port < start+n.cfg.RangeSize && port <= 65535; port++ {
		if port == preferred {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if n.IsAvailable(ctx, port) {
			n.logger.Debug("Found port in range", "port", port, "preferred", preferred)
			n.record(ctx, "find", "range")
			return port, nil
		}
	}

	for i := 0; i < n.cfg.RandomAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		port := n.randomPort()
		if n.IsAvailable(ctx, port) {
			n.logger.Debug("Found random port", "port", port, "attempt", i+1)
			n.record(ctx, "find", "random")
			return port, nil
		}
	}

	n.record(ctx, "find", "exhausted")
	return 0, fmt.Errorf("%w: range %d-%d and %d random attempts",
		ErrNoPortsAvailable, start, start+n.cfg.RangeSize-1, n.cfg.RandomAttempts)
}

// ForcePort returns port, terminating a safe occupant first when allowKill
// is set. The occupant is stopped gracefully, then force-killed if the port
// is not released within GracefulWait.
func (n *Negotiator) ForcePort(ctx context.Context, port int, allowKill bool) (int, error) {
	if n.IsAvailable(ctx, port) {
		n.record(ctx, "force", "free")
		return port, nil
	}

	occ, found := n.inspector.FindOccupant(ctx, port)
	if !allowKill {
		n.record(ctx, "force", "occupied")
		return 0, &PortError{Port: port, Occupant: occupantOrNil(occ, found), Err: ErrPortOccupied}
	}
	if !found {
		// an occupant we cannot identify cannot be classified
		n.record(ctx, "force", "unsafe")
		return 0, &PortError{Port: port, Err: ErrUnsafeKill}
	}
	if !n.classifier.IsSafeToTerminate(*occ) {
		n.logger.Warn("Refusing to terminate port occupant",
			"port", port, "pid", occ.PID, "name", occ.Name)
		n.record(ctx, "force", "unsafe")
		return 0, &PortError{Port: port, Occupant: occ, Err: ErrUnsafeKill}
	}

	n.logger.Info("Terminating port occupant", "port", port, "pid", occ.PID, "name", occ.Name)
	n.inspector.Terminate(ctx, occ.PID, false)
	if err := n.WaitForRelease(ctx, port, n.cfg.GracefulWait); err == nil {
		n.record(ctx, "force", "terminated")
		return port, nil
	}

	n.logger.Warn("Occupant ignored graceful stop, killing", "port", port, "pid", occ.PID)
	n.inspector.Terminate(ctx, occ.PID, true)
	if err := n.WaitForRelease(ctx, port, n.cfg.ForceWait); err == nil {
		n.record(ctx, "force", "killed")
		return port, nil
	}

	n.record(ctx, "force", "still_occupied")
	return 0, &PortError{Port: port, Occupant: occ, Err: ErrStillOccupied}
}

// WaitForRelease polls until port is bindable and has no occupant, or
// timeout elapses.
func (n *Negotiator) WaitForRelease(ctx context.Context, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if n.released(ctx, port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return &PortError{Port: port, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)}
		case <-ticker.C:
		}
	}
}

// CleanupPort vacates port when its occupant is safe to terminate. It only
// logs failures.
func (n *Negotiator) CleanupPort(ctx context.Context, port int) {
	if n.IsAvailable(ctx, port) {
		return
	}
	occ, ok := n.inspector.FindOccupant(ctx, port)
	if !ok {
		n.logger.Info("Port busy but occupant unknown, leaving it", "port", port)
		n.record(ctx, "cleanup", "unknown")
		return
	}
	if !n.classifier.IsSafeToTerminate(*occ) {
		n.logger.Info("Port occupant not eligible for cleanup", "port", port, "pid", occ.PID, "name", occ.Name)
		n.record(ctx, "cleanup", "skipped")
		return
	}

	n.inspector.Terminate(ctx, occ.PID, false)
	if err := n.WaitForRelease(ctx, port, n.cfg.GracefulWait); err != nil {
		n.logger.Warn("Port cleanup did not release port", "port", port, "pid", occ.PID, "error", err)
		n.record(ctx, "cleanup", "failed")
		return
	}
	n.logger.Info("Cleaned up port", "port", port, "pid", occ.PID, "name", occ.Name)
	n.record(ctx, "cleanup", "released")
}

func (n *Negotiator) released(ctx context.Context, port int) bool {
	if !n.IsAvailable(ctx, port) {
		return false
	}
	_, occupied := n.inspector.FindOccupant(ctx, port)
	return !occupied
}

func (n *Negotiator) randomPort() int {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return n.cfg.RandomMin + n.rng.Intn(n.cfg.RandomMax-n.cfg.RandomMin+1)
}

func (n *Negotiator) record(ctx context.Context, op, outcome string) {
	n.recorder.PortNegotiated(ctx, op, outcome)
}

func occupantOrNil(occ *process.Occupant, ok bool) *process.Occupant {
	if !ok {
		return nil
	}
	return occ
}
