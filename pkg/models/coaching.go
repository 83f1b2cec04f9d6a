package models

import "time"

// SuggestionType enumerates the kinds of coaching suggestion.
type SuggestionType string

const (
	SuggestionFollowUp        SuggestionType = "follow_up"
	SuggestionTest            SuggestionType = "test"
	SuggestionErrorPrevention SuggestionType = "error_prevention"
	SuggestionDocumentation   SuggestionType = "documentation"
	SuggestionRefactor        SuggestionType = "refactor"
	SuggestionGoalAlignment   SuggestionType = "goal_alignment"
	SuggestionCelebration     SuggestionType = "celebration"
)

var suggestionTypes = map[SuggestionType]bool{
	SuggestionFollowUp:        true,
	SuggestionTest:            true,
	SuggestionErrorPrevention: true,
	SuggestionDocumentation:   true,
	SuggestionRefactor:        true,
	SuggestionGoalAlignment:   true,
	SuggestionCelebration:     true,
}

// CoerceSuggestionType maps unknown values to follow_up.
func CoerceSuggestionType(s string) SuggestionType {
	t := SuggestionType(s)
	if suggestionTypes[t] {
		return t
	}
	return SuggestionFollowUp
}

// Suggestion field caps.
const (
	MaxSuggestionTitle       = 100
	MaxSuggestionDescription = 300
	MaxSuggestionPrompt      = 1000
	MaxSuggestionReasoning   = 300
)

// CoachingSuggestion is one actionable next step.
type CoachingSuggestion struct {
	ID              string         `json:"id"`
	Type            SuggestionType `json:"type"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	SuggestedPrompt string         `json:"suggestedPrompt"`
	Reasoning       string         `json:"reasoning"`
	Confidence      float64        `json:"confidence"`
}

// Outcome classifies how a response went.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeError   Outcome = "error"
	OutcomeUnknown Outcome = "unknown"
)

// ResponseAnalysis is the deterministic read of a response used to steer coaching.
type ResponseAnalysis struct {
	Outcome       Outcome  `json:"outcome"`
	Summary       string   `json:"summary"`
	FilesModified []string `json:"filesModified"`
	ToolsUsed     []string `json:"toolsUsed"`
	Topics        []string `json:"topics"`
	HasCode       bool     `json:"hasCode"`
}

// CoachingData is the persisted coaching record for a response.
type CoachingData struct {
	Timestamp   time.Time            `json:"timestamp"`
	Analysis    ResponseAnalysis     `json:"analysis"`
	ResponseID  string               `json:"responseId"`
	PromptID    string               `json:"promptId,omitempty"`
	PromptText  string               `json:"promptText,omitempty"`
	Source      Source               `json:"source"`
	SessionID   string               `json:"sessionId,omitempty"`
	Suggestions []CoachingSuggestion `json:"suggestions"`
}

// GoalInference is a suggested session goal derived from the first prompt.
type GoalInference struct {
	SuggestedGoal string  `json:"suggestedGoal"`
	DetectedTheme string  `json:"detectedTheme"`
	Confidence    float64 `json:"confidence"`
}

// PromptAnalysis is the persisted analysis record for a prompt.
type PromptAnalysis struct {
	Timestamp     time.Time       `json:"timestamp"`
	Breakdown     *ScoreBreakdown `json:"breakdown,omitempty"`
	EnhancedScore *float64        `json:"enhancedScore,omitempty"`
	Goal          *GoalInference  `json:"goalInference,omitempty"`
	Legacy        *LegacyScores   `json:"legacy,omitempty"`
	PromptID      string          `json:"promptId"`
	SessionID     string          `json:"sessionId,omitempty"`
	Text          string          `json:"text"`
	Explanation   string          `json:"explanation,omitempty"`
	EnhancedText  string          `json:"enhancedText,omitempty"`
	Suggestions   []string        `json:"suggestions,omitempty"`
	Improvements  []string        `json:"improvements,omitempty"`
	Score         float64         `json:"score"`
	Heuristic     bool            `json:"heuristic,omitempty"`
}
