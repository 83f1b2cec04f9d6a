package events

import (
	"github.com/thebtf/devark/pkg/models"
)

// Event names. These are also the SSE event types sent to worker clients.
const (
	NamePromptDetected        = "promptDetected"
	NameNewPromptsDetected    = "newPromptsDetected"
	NameResponseDetected      = "responseDetected"
	NameFinalResponseDetected = "finalResponseDetected"
	NameHookStatus            = "hookStatus"
	NamePromptAnalyzing       = "promptAnalyzing"
	NameScoreReceived         = "scoreReceived"
	NameEnhancedPromptReady   = "enhancedPromptReady"
	NameEnhancedScoreReady    = "enhancedScoreReady"
	NameAnalysisComplete      = "analysisComplete"
	NameAnalysisFailed        = "analysisFailed"
	NameGoalInference         = "v2GoalInference"
	NameCoachingUpdated       = "coachingUpdated"
)

// PromptDetected is a prompt parsed from a drop file, with its source identity.
type PromptDetected struct {
	Prompt          *models.Prompt `json:"prompt"`
	Source          models.Source  `json:"source"`
	SourceSessionID string         `json:"sourceSessionId"`
	ProjectPath     string         `json:"projectPath,omitempty"`
	ConversationID  string         `json:"conversationId,omitempty"`
	Model           string         `json:"model,omitempty"`
}

// NewPromptsDetected summarizes prompts found in one processing pass. It is
// emitted after every promptDetected of the pass, so listeners that start work
// on promptDetected (analysis) may emit their own events before it arrives.
type NewPromptsDetected struct {
	Prompts []*models.Prompt `json:"prompts"`
	Count   int              `json:"count"`
}

// ResponseDetected is a response after the linker attached its prompt.
type ResponseDetected struct {
	Response *models.Response `json:"response"`
}

// FinalResponseDetected closes a conversation.
type FinalResponseDetected struct {
	Response          *models.Response         `json:"response"`
	ConversationState models.ConversationState `json:"conversationState"`
}

// Hook processor states.
const (
	HookStatusWatching = "watching"
	HookStatusPolling  = "polling"
	HookStatusStopped  = "stopped"
	HookStatusError    = "error"
)

// HookStatus reports processor health.
type HookStatus struct {
	Status    string `json:"status"`
	Dir       string `json:"dir"`
	Message   string `json:"message,omitempty"`
	Processed int    `json:"processed"`
}

// PromptAnalyzing marks the start of analysis for a prompt.
type PromptAnalyzing struct {
	PromptID string `json:"promptId"`
	Text     string `json:"text"`
}

// ScoreReceived carries the base score.
type ScoreReceived struct {
	Breakdown   models.ScoreBreakdown `json:"breakdown"`
	Legacy      models.LegacyScores   `json:"dimensions"`
	PromptID    string                `json:"promptId"`
	Explanation string                `json:"explanation"`
	Suggestions []string              `json:"suggestions,omitempty"`
	Score       float64               `json:"score"`
	Heuristic   bool                  `json:"heuristic,omitempty"`
}

// EnhancedPromptReady carries the rewritten prompt.
type EnhancedPromptReady struct {
	PromptID     string   `json:"promptId"`
	EnhancedText string   `json:"enhancedText"`
	Intensity    string   `json:"intensity"`
	Improvements []string `json:"improvements,omitempty"`
}

// EnhancedScoreReady carries the score of the rewritten prompt.
type EnhancedScoreReady struct {
	Breakdown models.ScoreBreakdown `json:"breakdown"`
	PromptID  string                `json:"promptId"`
	Score     float64               `json:"score"`
}

// AnalysisComplete carries the merged analysis record. Always last for a prompt.
type AnalysisComplete struct {
	Analysis *models.PromptAnalysis `json:"analysis"`
	Prompt   *models.Prompt         `json:"prompt"`
	PromptID string                 `json:"promptId"`
}

// AnalysisFailed reports a failed analysis with a user-facing message.
type AnalysisFailed struct {
	Err      error  `json:"-"`
	PromptID string `json:"promptId"`
	Message  string `json:"message"`
}

// GoalInferred carries a suggested session goal.
type GoalInferred struct {
	PromptID  string `json:"promptId"`
	SessionID string `json:"sessionId,omitempty"`
	models.GoalInference
}

// CoachingUpdated carries freshly generated coaching.
type CoachingUpdated struct {
	Coaching *models.CoachingData `json:"coaching"`
}

type anyTopic interface {
	Name() string
	SubscribeAny(fn func(name string, payload any)) func()
}

// Hub owns every pipeline topic. It is created once by the service coordinator
// and passed to each component.
type Hub struct {
	PromptDetected        *Topic[PromptDetected]
	NewPromptsDetected    *Topic[NewPromptsDetected]
	ResponseDetected      *Topic[ResponseDetected]
	FinalResponseDetected *Topic[FinalResponseDetected]
	HookStatus            *Topic[HookStatus]
	PromptAnalyzing       *Topic[PromptAnalyzing]
	ScoreReceived         *Topic[ScoreReceived]
	EnhancedPromptReady   *Topic[EnhancedPromptReady]
	EnhancedScoreReady    *Topic[EnhancedScoreReady]
	AnalysisComplete      *Topic[AnalysisComplete]
	AnalysisFailed        *Topic[AnalysisFailed]
	GoalInferred          *Topic[GoalInferred]
	CoachingUpdated       *Topic[CoachingUpdated]
}

// NewHub creates a hub with all topics registered.
func NewHub() *Hub {
	return &Hub{
		PromptDetected:        NewTopic[PromptDetected](NamePromptDetected),
		NewPromptsDetected:    NewTopic[NewPromptsDetected](NameNewPromptsDetected),
		ResponseDetected:      NewTopic[ResponseDetected](NameResponseDetected),
		FinalResponseDetected: NewTopic[FinalResponseDetected](NameFinalResponseDetected),
		HookStatus:            NewTopic[HookStatus](NameHookStatus),
		PromptAnalyzing:       NewTopic[PromptAnalyzing](NamePromptAnalyzing),
		ScoreReceived:         NewTopic[ScoreReceived](NameScoreReceived),
		EnhancedPromptReady:   NewTopic[EnhancedPromptReady](NameEnhancedPromptReady),
		EnhancedScoreReady:    NewTopic[EnhancedScoreReady](NameEnhancedScoreReady),
		AnalysisComplete:      NewTopic[AnalysisComplete](NameAnalysisComplete),
		AnalysisFailed:        NewTopic[AnalysisFailed](NameAnalysisFailed),
		GoalInferred:          NewTopic[GoalInferred](NameGoalInference),
		CoachingUpdated:       NewTopic[CoachingUpdated](NameCoachingUpdated),
	}
}

func (h *Hub) topics() []anyTopic {
	return []anyTopic{
		h.PromptDetected, h.NewPromptsDetected, h.ResponseDetected, h.FinalResponseDetected,
		h.HookStatus, h.PromptAnalyzing, h.ScoreReceived, h.EnhancedPromptReady,
		h.EnhancedScoreReady, h.AnalysisComplete, h.AnalysisFailed, h.GoalInferred,
		h.CoachingUpdated,
	}
}

// Tap subscribes fn to every topic. The returned function removes all subscriptions.
func (h *Hub) Tap(fn func(name string, payload any)) func() {
	var cancels []func()
	for _, t := range h.topics() {
		cancels = append(cancels, t.SubscribeAny(fn))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
