package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateID is returned by Create when the id is live or was used before
	ErrDuplicateID = errors.New("session id already exists")
	// ErrInvalidTimeout is returned by Create for timeouts outside the allowed bounds
	ErrInvalidTimeout = errors.New("invalid session timeout")
	// ErrEmptyPrompt is returned by Create for an empty prompt
	ErrEmptyPrompt = errors.New("prompt must not be empty")
	// ErrNotFound is returned for unknown or expired sessions
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyTerminal is returned when a session has already been resolved
	ErrAlreadyTerminal = errors.New("session already terminal")
	// ErrTimeout is matched by TimeoutError
	ErrTimeout = errors.New("feedback timed out")
	// ErrShutdown is delivered to sessions aborted by ShutdownAll
	ErrShutdown = errors.New("feedback session aborted: server shutting down")
)

// TimeoutError is delivered to a session whose deadline passed.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("feedback timed out after %d seconds without a response", int64(e.Timeout/time.Second))
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
