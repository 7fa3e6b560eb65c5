package config

// Tool defines the available tools in the coordinator
const (
	// ToolCollectFeedback is the blocking feedback tool name
	ToolCollectFeedback = "collect_feedback"
	// ToolFeedbackStatus is the status tool name
	ToolFeedbackStatus = "feedback_status"
)

// AllTools returns a slice of all available tool names
func AllTools() []string {
	return []string{
		ToolCollectFeedback,
		ToolFeedbackStatus,
	}
}
