package models

import "time"

// ConversationState aggregates a conversation when its final response arrives.
type ConversationState struct {
	EndTime        time.Time  `json:"endTime"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	DurationMs     *int64     `json:"durationMs,omitempty"`
	ConversationID string     `json:"conversationId"`
	StopReason     string     `json:"stopReason"`
	FilesModified  []string   `json:"filesModified"`
	ToolsUsed      []string   `json:"toolsUsed"`
	TotalPrompts   int        `json:"totalPrompts"`
	TotalResponses int        `json:"totalResponses"`
	LoopCount      int        `json:"loopCount"`
}
