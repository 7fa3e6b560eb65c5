// Package process finds and terminates the OS processes that hold TCP ports.
//
// Inspection shells out to generic tools (lsof, ss, ps, netstat, tasklist)
// and is strictly best-effort: any failure is reported as "no occupant"
// rather than an error. Whether an occupant may be terminated is decided by
// the Classifier, which is pure and fails closed.
package process

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// DefaultInspectTimeout bounds every shell command issued by the inspector.
const DefaultInspectTimeout = 3 * time.Second

// Occupant is the process currently listening on a port.
type Occupant struct {
	PID     int
	Name    string
	Command string
}

// Inspector answers "who owns port P" and terminates processes.
type Inspector interface {
	// FindOccupant returns the listening process for port, or false when
	// there is none or it could not be determined.
	FindOccupant(ctx context.Context, port int) (*Occupant, bool)

	// Terminate stops pid, gracefully unless force is set. The result is
	// advisory; callers must re-check the port.
	Terminate(ctx context.Context, pid int, force bool) bool
}

// ShellInspector implements Inspector on top of platform tools.
type ShellInspector struct {
	exec    CommandExecutor
	goos    string
	selfPID int
	timeout time.Duration
	logger  *slog.Logger
}

// ShellInspectorOption configures a ShellInspector.
type ShellInspectorOption func(*ShellInspector)

// WithGOOS overrides the detected operating system.
func WithGOOS(goos string) ShellInspectorOption {
	return func(s *ShellInspector) { s.goos = goos }
}

// WithInspectTimeout overrides DefaultInspectTimeout.
func WithInspectTimeout(d time.Duration) ShellInspectorOption {
	return func(s *ShellInspector) { s.timeout = d }
}

// WithInspectorLogger sets the logger.
func WithInspectorLogger(logger *slog.Logger) ShellInspectorOption {
	return func(s *ShellInspector) { s.logger = logger }
}

// NewShellInspector creates an inspector using the given executor.
func NewShellInspector(executor CommandExecutor, opts ...ShellInspectorOption) *ShellInspector {
	s := &ShellInspector{
		exec:    executor,
		goos:    runtime.GOOS,
		selfPID: os.Getpid(),
		timeout: DefaultInspectTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindOccupant implements Inspector.
func (s *ShellInspector) FindOccupant(ctx context.Context, port int) (*Occupant, bool) {
	var pid int
	var name string

	switch s.goos {
	case "windows":
		pid = s.netstatPID(ctx, port)
		if pid > 0 {
			name = s.tasklistName(ctx, pid)
		}
	default:
		pid, name = s.lsofOwner(ctx, port)
		if pid == 0 && s.goos == "linux" {
			pid, name = s.ssOwner(ctx, port)
		}
	}

	if pid <= 0 {
		s.logger.Debug("no occupant found", "port", port)
		return nil, false
	}

	occ := &Occupant{PID: pid, Name: name, Command: name}
	if s.goos != "windows" {
		if cmd := s.psField(ctx, pid, "args="); cmd != "" {
			occ.Command = cmd
		}
		if occ.Name == "" {
			occ.Name = s.psField(ctx, pid, "comm=")
		}
	}

	s.logger.Debug("found port occupant", "port", port, "pid", occ.PID, "name", occ.Name)
	return occ, true
}

// Terminate implements Inspector. It never signals pid 0/1 or this process.
func (s *ShellInspector) Terminate(ctx context.Context, pid int, force bool) bool {
	if pid <= 1 || pid == s.selfPID {
		s.logger.Warn("refusing to terminate protected pid", "pid", pid)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pidStr := strconv.Itoa(pid)
	var err error
	switch s.goos {
	case "windows":
		args := []string{"/PID", pidStr}
		if force {
			args = append(args, "/F")
		}
		err = s.exec.Run(ctx, "taskkill", args...)
	default:
		signal := "-TERM"
		if force {
			signal = "-KILL"
		}
		err = s.exec.Run(ctx, "kill", signal, pidStr)
	}

	if err != nil {
		s.logger.Warn("terminate failed", "pid", pid, "force", force, "error", err)
		return false
	}
	s.logger.Info("terminate signal sent", "pid", pid, "force", force)
	return true
}

func (s *ShellInspector) output(ctx context.Context, name string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.exec.Output(ctx, name, args...)
	if err != nil {
		// lsof and ss exit non-zero when nothing matches
		s.logger.Debug("inspection command failed", "command", name, "error", err)
		return ""
	}
	return string(out)
}

func (s *ShellInspector) lsofOwner(ctx context.Context, port int) (int, string) {
	out := s.output(ctx, "lsof", "-nP", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN", "-Fpc")
	return parseLsof(out)
}

func (s *ShellInspector) ssOwner(ctx context.Context, port int) (int, string) {
	out := s.output(ctx, "ss", "-ltnpH", "sport = :"+strconv.Itoa(port))
	return parseSS(out)
}

func (s *ShellInspector) netstatPID(ctx context.Context, port int) int {
	out := s.output(ctx, "netstat", "-ano", "-p", "TCP")
	return parseNetstat(out, port)
}

func (s *ShellInspector) tasklistName(ctx context.Context, pid int) string {
	out := s.output(ctx, "tasklist", "/FI", "PID eq "+strconv.Itoa(pid), "/FO", "CSV", "/NH")
	return parseTasklist(out)
}

func (s *ShellInspector) psField(ctx context.Context, pid int, field string) string {
	return strings.TrimSpace(s.output(ctx, "ps", "-p", strconv.Itoa(pid), "-o", field))
}
