package ports

import (
	"errors"
	"fmt"

	"github.com/AltairaLabs/feedback-mcp/internal/process"
)

var (
	// ErrPortOccupied is returned by ForcePort when the port is bound and killing is not allowed
	ErrPortOccupied = errors.New("port is occupied")
	// ErrUnsafeKill is returned when the occupant is not classified as safe to terminate
	ErrUnsafeKill = errors.New("refusing to terminate port occupant")
	// ErrStillOccupied is returned when the port stays bound after termination
	ErrStillOccupied = errors.New("port still occupied after terminating occupant")
	// ErrNoPortsAvailable is returned when preferred, range and random probes all fail
	ErrNoPortsAvailable = errors.New("no ports available")
	// ErrTimeout is returned by WaitForRelease when the port is not released in time
	ErrTimeout = errors.New("timed out waiting for port release")
	// ErrInvalidRange is returned for an invalid negotiator configuration
	ErrInvalidRange = errors.New("invalid port range")
)

// PortError carries the port and, when known, its occupant.
type PortError struct {
	Port     int
	Occupant *process.Occupant
	Err      error
}

func (e *PortError) Error() string {
	if e.Occupant != nil {
		return fmt.Sprintf("port %d: %v (pid %d, %s)", e.Port, e.Err, e.Occupant.PID, e.Occupant.Name)
	}
	return fmt.Sprintf("port %d: %v", e.Port, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}
