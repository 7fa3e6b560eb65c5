package config

// Error and status messages used throughout the coordinator
const (
	// ErrInvalidConfig is the format string for configuration validation errors
	ErrInvalidConfig = "invalid configuration %s: %s"
	// ErrStartupFailed is the format string for respondent server startup failures
	ErrStartupFailed = "feedback server failed to start: %v"
	// ErrEmptyPromptMsg is returned when collect_feedback receives no prompt
	ErrEmptyPromptMsg = "prompt is required and must not be empty"
	// MsgNoResponses is reported when a session completes without submissions
	MsgNoResponses = "The session completed without any feedback."
	// MsgFeedbackHeader is the format string introducing collected feedback
	MsgFeedbackHeader = "Received %d feedback submission(s):"
	// MsgOpenFeedback is the format string logged when a session URL is ready
	MsgOpenFeedback = "Feedback requested, open %s"
	// MsgStatus is the format string for the feedback_status tool
	MsgStatus = "Listening: %t\nURL: %s\nPort: %d\nActive sessions: %d"
)
