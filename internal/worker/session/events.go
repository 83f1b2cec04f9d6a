package session

// Session lifecycle event names.
const (
	EventSessionCreated  = "session_created"
	EventSessionUpdated  = "session_updated"
	EventSessionActivity = "session_activity"
	EventPromptAdded     = "prompt_added"
	EventProjectCreated  = "project_created"
	EventGoalSet         = "goal_set"
	EventGoalCompleted   = "goal_completed"
)

// Event is emitted by the manager after each state change.
type Event struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	PromptID  string `json:"promptId,omitempty"`
	Goal      string `json:"goal,omitempty"`
	Progress  int    `json:"progress,omitempty"`
}
