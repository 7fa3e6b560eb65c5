package session

import (
	"time"
)

// State represents the lifecycle state of a feedback session
type State string

const (
	// StateActive indicates the session is waiting for respondent input
	StateActive State = "active"
	// StateCompleted indicates the respondent submitted and the caller was resumed
	StateCompleted State = "completed"
	// StateExpired indicates the deadline passed without a submission
	StateExpired State = "expired"
	// StateAborted indicates the session was cancelled (shutdown or caller gone)
	StateAborted State = "aborted"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateAborted
}

// Attachment is a decoded file attached to a submission
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
	Size     int
}

// Response is one respondent submission
type Response struct {
	Text        string
	Attachments []Attachment
	SubmittedAt time.Time
}

// Outcome is delivered exactly once on a session's continuation channel.
// Err is nil on success and carries a timeout or abort error otherwise.
type Outcome struct {
	Responses []Response
	Err       error
}

// Snapshot is a read-only copy of a live session
type Snapshot struct {
	ID        string
	Prompt    string
	Responses []Response
	CreatedAt time.Time
	Deadline  time.Time
	Timeout   time.Duration
	State     State
}

// Handle is returned to the creator of a session; it owns the receive side
// of the continuation.
type Handle struct {
	ID        string
	Prompt    string
	CreatedAt time.Time
	Deadline  time.Time
	Timeout   time.Duration
	done      <-chan Outcome
}

// Done returns the channel that receives the session's single Outcome.
func (h *Handle) Done() <-chan Outcome {
	return h.done
}

// session is the broker-owned record. All fields are guarded by Broker.mu.
type session struct {
	id        string
	prompt    string
	responses []Response
	createdAt time.Time
	deadline  time.Time
	timeout   time.Duration
	state     State
	seq       uint64
	done      chan Outcome
	stopTimer func() bool
}

func (s *session) snapshot() Snapshot {
	responses := make([]Response, len(s.responses))
	copy(responses, s.responses)
	return Snapshot{
		ID:        s.id,
		Prompt:    s.prompt,
		Responses: responses,
		CreatedAt: s.createdAt,
		Deadline:  s.deadline,
		Timeout:   s.timeout,
		State:     s.state,
	}
}
