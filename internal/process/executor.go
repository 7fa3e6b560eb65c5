package process

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// CommandExecutor abstracts command execution so process inspection can be
// tested without spawning real tools.
type CommandExecutor interface {
	// Output runs a command and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Run runs a command and discards its output.
	Run(ctx context.Context, name string, args ...string) error
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

// Output executes a command and returns stdout.
func (e *RealExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Run executes a command and waits for it to finish.
func (e *RealExecutor) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Err    error
}

// MockExecutor returns canned responses keyed by the full command line
// ("name arg1 arg2"). Unknown commands fail.
type MockExecutor struct {
	mu        sync.Mutex
	responses map[string]MockResponse
	calls     []string
}

// NewMockExecutor creates an empty MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{responses: make(map[string]MockResponse)}
}

// On registers a response for the given command line.
func (m *MockExecutor) On(cmdline string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[cmdline] = resp
}

// Calls returns every command line executed so far.
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Output implements CommandExecutor.
func (m *MockExecutor) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	resp := m.lookup(name, args)
	return resp.Stdout, resp.Err
}

// Run implements CommandExecutor.
func (m *MockExecutor) Run(_ context.Context, name string, args ...string) error {
	return m.lookup(name, args).Err
}

func (m *MockExecutor) lookup(name string, args []string) MockResponse {
	cmdline := strings.TrimSpace(name + " " + strings.Join(args, " "))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cmdline)

	resp, ok := m.responses[cmdline]
	if !ok {
		return MockResponse{Err: fmt.Errorf("unexpected command: %s", cmdline)}
	}
	return resp
}
