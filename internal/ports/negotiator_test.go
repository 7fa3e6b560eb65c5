package ports

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/feedback-mcp/internal/process"
)

// fakePorts is both the Prober and the Inspector for negotiator tests.
type fakePorts struct {
	mu        sync.Mutex
	busy      map[int]bool
	occupants map[int]*process.Occupant
	// stubborn pids ignore a graceful terminate
	stubborn map[int]bool
	// immortal pids survive any terminate
	immortal map[int]bool
	probes   []int
	kills    []string
}

func newFakePorts() *fakePorts {
	return &fakePorts{
		busy:      make(map[int]bool),
		occupants: make(map[int]*process.Occupant),
		stubborn:  make(map[int]bool),
		immortal:  make(map[int]bool),
	}
}

func (f *fakePorts) occupy(port int, occ *process.Occupant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy[port] = true
	if occ != nil {
		f.occupants[port] = occ
	}
}

func (f *fakePorts) Available(_ context.Context, port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes = append(f.probes, port)
	return !f.busy[port]
}

func (f *fakePorts) FindOccupant(_ context.Context, port int) (*process.Occupant, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	occ, ok := f.occupants[port]
	return occ, ok
}

func (f *fakePorts) Terminate(_ context.Context, pid int, force bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if force {
		f.kills = append(f.kills, "KILL")
	} else {
		f.kills = append(f.kills, "TERM")
	}
	if f.immortal[pid] || (!force && f.stubborn[pid]) {
		return true
	}
	for port, occ := range f.occupants {
		if occ.PID == pid {
			delete(f.occupants, port)
			delete(f.busy, port)
		}
	}
	return true
}

func (f *fakePorts) Kills() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kills...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	cfg.GracefulWait = 20 * time.Millisecond
	cfg.ForceWait = 20 * time.Millisecond
	return cfg
}

func newTestNegotiator(t *testing.T, f *fakePorts, cfg Config) *Negotiator {
	t.Helper()
	n, err := NewNegotiator(cfg, f, process.NewClassifier(),
		WithProber(f), WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	return n
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "zero range", mutate: func(c *Config) { c.RangeSize = 0 }},
		{name: "negative attempts", mutate: func(c *Config) { c.RandomAttempts = -1 }},
		{name: "inverted random range", mutate: func(c *Config) { c.RandomMin, c.RandomMax = 60000, 50000 }},
		{name: "random max too high", mutate: func(c *Config) { c.RandomMax = 70000 }},
		{name: "range start too high", mutate: func(c *Config) { c.RangeStart = 70000 }},
		{name: "zero poll interval", mutate: func(c *Config) { c.PollInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRange)
			}
		})
	}

	_, err := NewNegotiator(Config{}, newFakePorts(), process.NewClassifier())
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestFindAvailable_PreferredFree(t *testing.T) {
	f := newFakePorts()
	n := newTestNegotiator(t, f, testConfig())

	port, err := n.FindAvailable(context.Background(), 5000)
	require.NoError(t, err)
	assert.Equal(t, 5000, port)
	assert.Equal(t, []int{5000}, f.probes, "preferred is probed first")
}

func TestFindAvailable_ScansRangeInOrder(t *testing.T) {
	f := newFakePorts()
	for p := 5000; p <= 5002; p++ {
		f.occupy(p, nil)
	}
	n := newTestNegotiator(t, f, testConfig())

	port, err := n.FindAvailable(context.Background(), 5000)
	require.NoError(t, err)
	assert.Equal(t, 5003, port)
	assert.Equal(t, []int{5000, 5001, 5002, 5003}, f.probes)
}

func TestFindAvailable_RandomFallbackIsDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.RangeSize = 3

	run := func() (int, error) {
		f := newFakePorts()
		for p := 5000; p < 5003; p++ {
			f.occupy(p, nil)
		}
		n := newTestNegotiator(t, f, cfg)
		return n.FindAvailable(context.Background(), 5000)
	}

	first, err := run()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first, DefaultRandomMin)
	assert.LessOrEqual(t, first, DefaultRandomMax)

	second, err := run()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFindAvailable_Exhausted(t *testing.T) {
	cfg := testConfig()
	cfg.RangeSize = 2
	cfg.RandomAttempts = 3
	cfg.RandomMin, cfg.RandomMax = 6000, 6000

	f := newFakePorts()
	f.occupy(5000, nil)
	f.occupy(5001, nil)
	f.occupy(6000, nil)
	n := newTestNegotiator(t, f, cfg)

	_, err := n.FindAvailable(context.Background(), 5000)
	assert.ErrorIs(t, err, ErrNoPortsAvailable)
	assert.Len(t, f.probes, 5, "preferred/range probes plus bounded random attempts")
}

func TestFindAvailable_NoPreferenceStartsAtRange(t *testing.T) {
	cfg := testConfig()
	cfg.RangeStart = 7000
	f := newFakePorts()
	n := newTestNegotiator(t, f, cfg)

	port, err := n.FindAvailable(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 7000, port)
}

func TestForcePort_FreePort(t *testing.T) {
	f := newFakePorts()
	n := newTestNegotiator(t, f, testConfig())

	port, err := n.ForcePort(context.Background(), 5000, false)
	require.NoError(t, err)
	assert.Equal(t, 5000, port)
}

func TestForcePort_OccupiedWithoutKill(t *testing.T) {
	f := newFakePorts()
	f.occupy(5000, &process.Occupant{PID: 100, Name: "node"})
	n := newTestNegotiator(t, f, testConfig())

	_, err := n.ForcePort(context.Background(), 5000, false)
	require.ErrorIs(t, err, ErrPortOccupied)

	var pe *PortError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 5000, pe.Port)
	require.NotNil(t, pe.Occupant)
	assert.Equal(t, 100, pe.Occupant.PID)
	assert.Empty(t, f.Kills())
}

func TestForcePort_RefusesDeniedOccupant(t *testing.T) {
	f := newFakePorts()
	f.occupy(5000, &process.Occupant{PID: 200, Name: "sshd"})
	n := newTestNegotiator(t, f, testConfig())

	_, err := n.ForcePort(context.Background(), 5000, true)
	assert.ErrorIs(t, err, ErrUnsafeKill)
	assert.Empty(t, f.Kills(), "denied occupant is never signalled")
}

func TestForcePort_RefusesUnknownOccupant(t *testing.T) {
	f := newFakePorts()
	f.occupy(5000, &process.Occupant{PID: 201, Name: "mystery-daemon"})
	n := newTestNegotiator(t, f, testConfig())

	_, err := n.ForcePort(context.Background(), 5000, true)
	assert.ErrorIs(t, err, ErrUnsafeKill)

	f2 := newFakePorts()
	f2.occupy(5000, nil)
	n2 := newTestNegotiator(t, f2, testConfig())
	_, err = n2.ForcePort(context.Background(), 5000, true)
	assert.ErrorIs(t, err, ErrUnsafeKill, "unidentifiable occupant fails closed")
}

func TestForcePort_TerminatesAllowedOccupant(t *testing.T) {
	f := newFakePorts()
	f.occupy(5000, &process.Occupant{PID: 300, Name: "node"})
	n := newTestNegotiator(t, f, testConfig())

	port, err := n.ForcePort(context.Background(), 5000, true)
	require.NoError(t, err)
	assert.Equal(t, 5000, port)
	assert.Equal(t, []string{"TERM"}, f.Kills())
}

func TestForcePort_EscalatesToKill(t *testing.T) {
	f := newFakePorts()
	f.occupy(5000, &process.Occupant{PID: 301, Name: "npm"})
	f.stubborn[301] = true
	n := newTestNegotiator(t, f, testConfig())

	port, err := n.ForcePort(context.Background(), 5000, true)
	require.NoError(t, err)
	assert.Equal(t, 5000, port)
	assert.Equal(t, []string{"TERM", "KILL"}, f.Kills())
}

func TestForcePort_StillOccupied(t *testing.T) {
	f := newFakePorts()
	f.occupy(5000, &process.Occupant{PID: 302, Name: "node.exe"})
	f.immortal[302] = true
	n := newTestNegotiator(t, f, testConfig())

	_, err := n.ForcePort(context.Background(), 5000, true)
	assert.ErrorIs(t, err, ErrStillOccupied)
}

func TestWaitForRelease(t *testing.T) {
	f := newFakePorts()
	n := newTestNegotiator(t, f, testConfig())

	require.NoError(t, n.WaitForRelease(context.Background(), 5000, 50*time.Millisecond))

	f.occupy(5000, &process.Occupant{PID: 400, Name: "node"})
	start := time.Now()
	err := n.WaitForRelease(context.Background(), 5000, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second, "returns control on expiry")

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Terminate(context.Background(), 400, true)
	}()
	assert.NoError(t, n.WaitForRelease(context.Background(), 5000, time.Second))
}

func TestWaitForRelease_RequiresNoOccupant(t *testing.T) {
	f := newFakePorts()
	// bindable but a process is still reported on the port
	f.occupants[5000] = &process.Occupant{PID: 500, Name: "node"}
	n := newTestNegotiator(t, f, testConfig())

	err := n.WaitForRelease(context.Background(), 5000, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCleanupPort(t *testing.T) {
	f := newFakePorts()
	f.occupy(5000, &process.Occupant{PID: 600, Name: "bun"})
	f.occupy(5001, &process.Occupant{PID: 601, Name: "systemd"})
	n := newTestNegotiator(t, f, testConfig())

	n.CleanupPort(context.Background(), 5000)
	n.CleanupPort(context.Background(), 5001)
	n.CleanupPort(context.Background(), 5002)

	assert.True(t, n.IsAvailable(context.Background(), 5000))
	assert.False(t, n.IsAvailable(context.Background(), 5001))
	assert.Equal(t, []string{"TERM"}, f.Kills())
}

func TestInspect(t *testing.T) {
	f := newFakePorts()
	f.occupy(5000, &process.Occupant{PID: 700, Name: "node", Command: "node server.js"})
	n := newTestNegotiator(t, f, testConfig())

	rec := n.Inspect(context.Background(), 5000)
	assert.False(t, rec.Available)
	require.NotNil(t, rec.Occupant)
	assert.Equal(t, "node server.js", rec.Occupant.Command)

	rec = n.Inspect(context.Background(), 5001)
	assert.True(t, rec.Available)
	assert.Nil(t, rec.Occupant)
}

func TestListenProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	p := ListenProber{Host: "127.0.0.1", Timeout: time.Second}
	assert.False(t, p.Available(context.Background(), port))

	require.NoError(t, ln.Close())
	assert.True(t, p.Available(context.Background(), port))
	// the probe itself must not hold the port
	assert.True(t, p.Available(context.Background(), port))

	assert.False(t, p.Available(context.Background(), 0))
	assert.False(t, p.Available(context.Background(), 70000))
}

func TestPortError_Message(t *testing.T) {
	err := &PortError{Port: 5000, Occupant: &process.Occupant{PID: 9, Name: "node"}, Err: ErrUnsafeKill}
	assert.Contains(t, err.Error(), "port 5000")
	assert.Contains(t, err.Error(), "pid 9")
	assert.ErrorIs(t, err, ErrUnsafeKill)
}
